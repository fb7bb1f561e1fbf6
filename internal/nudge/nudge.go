package nudge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/schedule"
)

// API is the part of the Slack web client used to reach reviewers.
type API interface {
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// PendingLister lists escalations still waiting on a human.
type PendingLister interface {
	Pending(ctx context.Context) ([]domain.EscalationRequest, error)
}

type Options struct {
	// Reviewers are Slack user IDs or names/display names.
	Reviewers           []string
	After               time.Duration
	EscalationChannelID string
	Logger              logrus.FieldLogger
}

// Nudger reminds reviewers by DM about escalations that have been waiting
// longer than After. Each request is nudged at most once.
type Nudger struct {
	api                 API
	pending             PendingLister
	reviewers           []string
	after               time.Duration
	escalationChannelID string
	logger              logrus.FieldLogger
	now                 func() time.Time

	mu          sync.Mutex
	reviewerIDs []string
	resolved    bool
	nudged      map[string]bool
}

func New(api API, pending PendingLister, opts Options) *Nudger {
	if opts.Logger == nil {
		opts.Logger = logx.Logger()
	}
	return &Nudger{
		api:                 api,
		pending:             pending,
		reviewers:           opts.Reviewers,
		after:               opts.After,
		escalationChannelID: opts.EscalationChannelID,
		logger:              opts.Logger,
		now:                 time.Now,
		nudged:              make(map[string]bool),
	}
}

// Start runs the reminder on a cron schedule. It is disabled when no
// reviewers are configured.
func (n *Nudger) Start(ctx context.Context, spec string) error {
	if len(n.reviewers) == 0 {
		n.logger.Info("No reviewers configured, escalation reminders disabled")
		return nil
	}
	return schedule.Start(ctx, "escalation-nudge", spec, n.logger, func(ctx context.Context) {
		if _, err := n.Run(ctx); err != nil {
			logx.LogError(n.logger, "nudge", "Start", "reminder run failed", nil, err)
		}
	})
}

// Run sends one reminder per reviewer listing overdue requests that were not
// nudged before. It returns how many requests were included.
func (n *Nudger) Run(ctx context.Context) (int, error) {
	pending, err := n.pending.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending escalations: %w", err)
	}
	due := n.due(pending)
	if len(due) == 0 {
		return 0, nil
	}

	ids, err := n.resolveReviewers(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	msg := n.message(due)
	sent := 0
	for _, userID := range ids {
		channel, _, _, err := n.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
		if err != nil {
			logx.LogError(n.logger, "nudge", "Run", "open DM failed", userID, err)
			continue
		}
		if _, _, err := n.api.PostMessageContext(ctx, channel.ID, slack.MsgOptionText(msg, false)); err != nil {
			logx.LogError(n.logger, "nudge", "Run", "send reminder failed", userID, err)
			continue
		}
		sent++
	}
	if sent == 0 {
		return 0, fmt.Errorf("no reviewer could be reached")
	}

	n.mu.Lock()
	for _, req := range due {
		n.nudged[req.ID] = true
	}
	n.mu.Unlock()
	n.logger.WithFields(logrus.Fields{"requests": len(due), "reviewers": sent}).Info("sent escalation reminders")
	return len(due), nil
}

// due picks overdue requests not yet nudged and forgets requests that are no
// longer pending.
func (n *Nudger) due(pending []domain.EscalationRequest) []domain.EscalationRequest {
	now := n.now()
	live := make(map[string]bool, len(pending))
	var out []domain.EscalationRequest

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, req := range pending {
		live[req.ID] = true
		if n.nudged[req.ID] || now.Sub(req.CreatedAt) < n.after {
			continue
		}
		out = append(out, req)
	}
	for id := range n.nudged {
		if !live[id] {
			delete(n.nudged, id)
		}
	}
	return out
}

func (n *Nudger) message(due []domain.EscalationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hey! %d invoice question(s) are waiting for a decision", len(due))
	if n.escalationChannelID != "" {
		fmt.Fprintf(&b, " in <#%s>", n.escalationChannelID)
	}
	b.WriteString(":")
	for _, req := range due {
		fmt.Fprintf(&b, "\n• %s (waiting %s)", describe(req), n.now().Sub(req.CreatedAt).Round(time.Minute))
	}
	return b.String()
}

func describe(req domain.EscalationRequest) string {
	switch {
	case req.Kind == domain.EscalationVerification:
		return fmt.Sprintf("total mismatch on invoice %s", req.Label)
	case req.Subject == domain.SubjectSupplier:
		return fmt.Sprintf("supplier «%s»", req.Label)
	default:
		return fmt.Sprintf("product «%s»", req.Label)
	}
}

func (n *Nudger) resolveReviewers(ctx context.Context) ([]string, error) {
	n.mu.Lock()
	if n.resolved {
		ids := n.reviewerIDs
		n.mu.Unlock()
		return ids, nil
	}
	n.mu.Unlock()

	ids, unresolved, err := resolveUserIDs(ctx, n.api, n.reviewers)
	if err != nil && len(ids) == 0 {
		return nil, fmt.Errorf("resolve reviewers: %w", err)
	}
	if len(unresolved) > 0 {
		n.logger.WithField("names", strings.Join(unresolved, ", ")).Warn("unresolved reviewers")
	}

	n.mu.Lock()
	n.reviewerIDs = ids
	n.resolved = err == nil
	n.mu.Unlock()
	return ids, nil
}

// resolveUserIDs maps Slack IDs and user names to IDs. Names are matched
// case-insensitively against the user name, real name and display name.
func resolveUserIDs(ctx context.Context, api API, identifiers []string) ([]string, []string, error) {
	var ids []string
	var names []string
	for _, raw := range identifiers {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if isLikelySlackID(val) {
			ids = append(ids, val)
		} else {
			names = append(names, val)
		}
	}
	if len(names) == 0 {
		return uniqueStrings(ids), nil, nil
	}
	users, err := api.GetUsersContext(ctx)
	if err != nil {
		return uniqueStrings(ids), names, err
	}
	nameToID := make(map[string]string)
	for _, user := range users {
		if user.Deleted || user.IsBot {
			continue
		}
		for _, n := range []string{user.Name, user.RealName, user.Profile.DisplayName} {
			n = strings.ToLower(strings.TrimSpace(n))
			if n == "" {
				continue
			}
			if _, exists := nameToID[n]; !exists {
				nameToID[n] = user.ID
			}
		}
	}
	var unresolved []string
	for _, name := range names {
		if id, ok := nameToID[strings.ToLower(name)]; ok {
			ids = append(ids, id)
		} else {
			unresolved = append(unresolved, name)
		}
	}
	return uniqueStrings(ids), unresolved, nil
}

func isLikelySlackID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'U' && r != 'W' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
