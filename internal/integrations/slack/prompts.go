package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
)

const (
	actionDecidePrefix = "escalation_decide_"
	valueSeparator     = "|"
	buttonLabelMax     = 40
)

type originKey struct{}

type origin struct {
	channel  string
	threadTS string
}

// withOrigin marks ctx as belonging to a document uploaded in channel, so
// its outcome is posted back into that thread.
func withOrigin(ctx context.Context, channel, threadTS string) context.Context {
	return context.WithValue(ctx, originKey{}, origin{channel: channel, threadTS: threadTS})
}

// Prompt posts an escalation with one button per allowed answer.
func (b *Bot) Prompt(ctx context.Context, req domain.EscalationRequest) error {
	if b.escalationChannelID == "" {
		return errors.New("escalation channel is not configured")
	}
	blocks := promptBlocks(req)
	_, ts, err := b.api.PostMessageContext(ctx, b.escalationChannelID,
		slack.MsgOptionText(promptSummary(req), false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("post escalation prompt: %w", err)
	}
	b.rememberPrompt(req.ID, messageRef{channel: b.escalationChannelID, ts: ts})
	b.logger.WithFields(logrus.Fields{"escalation_id": req.ID, "ts": ts}).Info("escalation prompt posted")
	return nil
}

// Expired replaces the prompt's buttons with an expiry note.
func (b *Bot) Expired(ctx context.Context, req domain.EscalationRequest) {
	b.closePrompt(ctx, req.ID, fmt.Sprintf(":hourglass: Expired without a decision: %s", promptSummary(req)))
}

func (b *Bot) closePrompt(ctx context.Context, id, text string) {
	ref, ok := b.takePrompt(id)
	if !ok {
		return
	}
	_, _, _, err := b.api.UpdateMessageContext(ctx, ref.channel, ref.ts,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)),
	)
	if err != nil {
		logx.LogError(b.logger, "slack", "closePrompt", "update failed", id, err)
	}
}

// Report posts a finished document's outcome, in the upload thread when the
// document came from Slack and in the escalation channel otherwise.
func (b *Bot) Report(ctx context.Context, rec domain.AuditRecord) {
	channel, thread := b.escalationChannelID, ""
	if o, ok := ctx.Value(originKey{}).(origin); ok {
		channel, thread = o.channel, o.threadTS
	}
	if channel == "" {
		return
	}
	opts := []slack.MsgOption{slack.MsgOptionText(outcomeText(rec), false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if _, _, err := b.api.PostMessageContext(ctx, channel, opts...); err != nil {
		logx.LogError(b.logger, "slack", "Report", "post outcome failed", rec.ID, err)
	}
}

func promptSummary(req domain.EscalationRequest) string {
	switch {
	case req.Kind == domain.EscalationVerification:
		return fmt.Sprintf("Total mismatch on invoice %s", orDash(req.Label))
	case req.Subject == domain.SubjectSupplier:
		return fmt.Sprintf("Unrecognized supplier «%s»", orDash(req.Label))
	default:
		return fmt.Sprintf("Unrecognized product «%s» on line %d", orDash(req.Label), req.LineIndex+1)
	}
}

func promptBlocks(req domain.EscalationRequest) []slack.Block {
	lines := []string{"*" + promptSummary(req) + "*"}
	if req.Detail != "" {
		lines = append(lines, req.Detail)
	}
	if req.Kind == domain.EscalationMatch && len(req.Candidates) > 0 {
		lines = append(lines, "Pick the matching catalog entry:")
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil),
	}

	var buttons []slack.BlockElement
	add := func(label string, action domain.DecisionAction, candidateID string, style slack.Style) {
		btn := slack.NewButtonBlockElement(
			fmt.Sprintf("%s%d", actionDecidePrefix, len(buttons)),
			encodeDecision(req.ID, action, candidateID),
			slack.NewTextBlockObject(slack.PlainTextType, truncateLabel(label), false, false),
		)
		if style != "" {
			btn = btn.WithStyle(style)
		}
		buttons = append(buttons, btn)
	}

	switch req.Kind {
	case domain.EscalationMatch:
		for _, c := range req.Candidates {
			add(fmt.Sprintf("%s (%.0f%%)", c.Name, c.Score*100), domain.ActionChoose, c.ID, slack.StylePrimary)
		}
		add("Create new", domain.ActionCreateNew, "", "")
		if req.Subject == domain.SubjectLine {
			add("Skip line", domain.ActionSkipLine, "", "")
		}
	case domain.EscalationVerification:
		add("Accept computed", domain.ActionAcceptComputed, "", slack.StylePrimary)
		add("Accept declared", domain.ActionAcceptDeclared, "", "")
	}
	add("Reject document", domain.ActionReject, "", slack.StyleDanger)

	// Slack caps an actions block at 25 elements.
	for len(buttons) > 0 {
		n := min(len(buttons), 25)
		blocks = append(blocks, slack.NewActionBlock("", buttons[:n]...))
		buttons = buttons[n:]
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("Document `%s` • request `%s`", shortKey(req.DocumentKey), req.ID), false, false),
	))
	return blocks
}

func encodeDecision(id string, action domain.DecisionAction, candidateID string) string {
	return strings.Join([]string{id, string(action), candidateID}, valueSeparator)
}

func decodeDecision(value string) (string, domain.Decision, error) {
	parts := strings.SplitN(strings.TrimSpace(value), valueSeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", domain.Decision{}, fmt.Errorf("malformed decision value %q", value)
	}
	return parts[0], domain.Decision{Action: domain.DecisionAction(parts[1]), CandidateID: parts[2]}, nil
}

func outcomeText(rec domain.AuditRecord) string {
	doc := rec.Document
	head := fmt.Sprintf("%s • № %s • %s", orDash(doc.SupplierLabel), orDash(doc.Number), orDash(doc.Date))
	var b strings.Builder
	switch rec.Disposition {
	case domain.DispositionSubmitted:
		fmt.Fprintf(&b, ":white_check_mark: Imported. Supply ID: %s\n%s", rec.SupplyID, head)
		if v := rec.Verification; v != nil && !v.Skipped {
			fmt.Fprintf(&b, " • total %s %s", v.Declared.StringFixed(2), doc.Currency)
		}
	case domain.DispositionDuplicate:
		fmt.Fprintf(&b, ":warning: Already imported, skipped (%s).\n%s", orDash(rec.Reason), head)
	case domain.DispositionRejected:
		fmt.Fprintf(&b, ":no_entry: Rejected: %s\n%s", rec.Reason, head)
	default:
		fmt.Fprintf(&b, ":x: Failed: %s\n%s", rec.Reason, head)
	}
	if rec.Degraded {
		b.WriteString("\n_Processed in degraded mode._")
	}
	return b.String()
}

func truncateLabel(s string) string {
	r := []rune(s)
	if len(r) > buttonLabelMax {
		return string(r[:buttonLabelMax-3]) + "..."
	}
	return s
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
