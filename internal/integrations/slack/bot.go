package slackbot

import (
	"context"
	"database/sql"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"supplybot/internal/domain"
	"supplybot/internal/extract"
	"supplybot/internal/logx"
)

// API is the part of the Slack web client the bot uses.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	GetFileInfoContext(ctx context.Context, fileID string, count, page int) (*slack.File, []slack.Comment, *slack.Paging, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

// Decider receives human answers for pending escalations.
type Decider interface {
	Decide(ctx context.Context, id string, d domain.Decision) (domain.EscalationRequest, error)
	Pending(ctx context.Context) ([]domain.EscalationRequest, error)
}

// Processor runs an extracted document through the pipeline.
type Processor interface {
	Process(ctx context.Context, doc domain.ExtractedDocument) (domain.AuditRecord, error)
}

// FileExtractor turns an uploaded file into a document.
type FileExtractor interface {
	FromFile(ctx context.Context, name string, data []byte, header extract.SheetHeader) (domain.ExtractedDocument, error)
}

// SynonymLister lists confirmed synonyms.
type SynonymLister interface {
	Entries() []domain.SynonymEntry
}

type Options struct {
	DB                  *sql.DB
	Decider             Decider
	Processor           Processor
	Extractor           FileExtractor
	Synonyms            SynonymLister
	EscalationChannelID string
	IntakeChannelID     string
	MaxFileBytes        int
	Logger              logrus.FieldLogger
}

type messageRef struct {
	channel string
	ts      string
}

// Bot is the Slack side of the supply pipeline: it asks humans to settle
// escalations, takes invoice uploads and answers slash commands.
type Bot struct {
	api                 API
	db                  *sql.DB
	decider             Decider
	processor           Processor
	extractor           FileExtractor
	synonyms            SynonymLister
	escalationChannelID string
	intakeChannelID     string
	maxFileBytes        int
	logger              logrus.FieldLogger

	mu      sync.Mutex
	prompts map[string]messageRef
}

func New(api API, opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = logx.Logger()
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 10 << 20
	}
	return &Bot{
		api:                 api,
		db:                  opts.DB,
		decider:             opts.Decider,
		processor:           opts.Processor,
		extractor:           opts.Extractor,
		synonyms:            opts.Synonyms,
		escalationChannelID: opts.EscalationChannelID,
		intakeChannelID:     opts.IntakeChannelID,
		maxFileBytes:        opts.MaxFileBytes,
		logger:              opts.Logger,
		prompts:             make(map[string]messageRef),
	}
}

// SetDecider wires the escalation coordinator after construction; the
// coordinator needs the bot as its notifier.
func (b *Bot) SetDecider(d Decider) {
	b.decider = d
}

// SetProcessor wires the pipeline, which reports outcomes through the bot.
// Both setters must be called before Run.
func (b *Bot) SetProcessor(p Processor) {
	b.processor = p
}

// Run dispatches Socket Mode events until ctx is done.
func (b *Bot) Run(ctx context.Context, client *socketmode.Client) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				b.dispatch(ctx, client, evt)
			}
		}
	}()

	b.logger.Info("Slack bot connected via Socket Mode")
	return client.RunContext(ctx)
}

func (b *Bot) dispatch(ctx context.Context, client *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		client.Ack(*evt.Request)
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.logger.WithFields(logrus.Fields{"command": cmd.Command, "user": cmd.UserID, "channel": cmd.ChannelID}).Info("slash command received")
		go b.handleSlashCommand(ctx, cmd)
	case socketmode.EventTypeEventsAPI:
		client.Ack(*evt.Request)
		event, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		go b.handleEventsAPI(ctx, event)
	case socketmode.EventTypeInteractive:
		client.Ack(*evt.Request)
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		go b.handleInteraction(ctx, cb)
	}
}

func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.FileSharedEvent:
		b.handleFileShared(ctx, ev.ChannelID, ev.UserID, ev.FileID)
	}
}

func (b *Bot) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type == slack.InteractionTypeBlockActions {
		b.handleBlockActions(ctx, cb)
	}
}

func (b *Bot) postEphemeral(ctx context.Context, channelID, userID, text string) {
	if _, err := b.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		logx.LogError(b.logger, "slack", "postEphemeral", "post failed", channelID, err)
	}
}

func (b *Bot) rememberPrompt(id string, ref messageRef) {
	b.mu.Lock()
	b.prompts[id] = ref
	b.mu.Unlock()
}

func (b *Bot) takePrompt(id string) (messageRef, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.prompts[id]
	delete(b.prompts, id)
	return ref, ok
}
