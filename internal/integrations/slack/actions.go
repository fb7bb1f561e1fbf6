package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"supplybot/internal/domain"
	"supplybot/internal/escalation"
	"supplybot/internal/logx"
)

func (b *Bot) handleBlockActions(ctx context.Context, cb slack.InteractionCallback) {
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	act := cb.ActionCallback.BlockActions[0]
	if !strings.HasPrefix(act.ActionID, actionDecidePrefix) {
		return
	}
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	userID := cb.User.ID

	id, decision, err := decodeDecision(act.Value)
	if err != nil {
		b.postEphemeral(ctx, channelID, userID, "Invalid selection.")
		return
	}
	decision.DecidedBy = userID

	log := b.logger.WithFields(logrus.Fields{"escalation_id": id, "action": decision.Action, "user": userID})
	if b.decider == nil {
		log.Warn("decision received but no coordinator is wired")
		return
	}

	req, err := b.decider.Decide(ctx, id, decision)
	switch {
	case errors.Is(err, escalation.ErrNotPending):
		b.postEphemeral(ctx, channelID, userID, "This question was already answered or has expired.")
		return
	case errors.Is(err, escalation.ErrUnknownRequest):
		b.postEphemeral(ctx, channelID, userID, "This question is no longer known to the bot.")
		return
	case errors.Is(err, escalation.ErrInvalidDecision):
		b.postEphemeral(ctx, channelID, userID, "That answer is not valid for this question.")
		return
	case err != nil:
		logx.LogError(log, "slack", "handleBlockActions", "decide failed", id, err)
		b.postEphemeral(ctx, channelID, userID, fmt.Sprintf("Error recording decision: %v", err))
		return
	}
	log.Info("escalation answered from Slack")

	text := fmt.Sprintf(":ballot_box_with_check: %s: %s by <@%s>", promptSummary(req), describeDecision(req, decision), userID)
	if _, ok := b.peekPrompt(id); !ok && cb.Container.MessageTs != "" {
		// Prompt was posted by an earlier process.
		b.rememberPrompt(id, messageRef{channel: channelID, ts: cb.Container.MessageTs})
	}
	b.closePrompt(ctx, id, text)
}

func (b *Bot) peekPrompt(id string) (messageRef, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.prompts[id]
	return ref, ok
}

func describeDecision(req domain.EscalationRequest, d domain.Decision) string {
	switch d.Action {
	case domain.ActionChoose:
		if c, ok := req.CandidateByID(d.CandidateID); ok {
			return fmt.Sprintf("matched to %s", c.Name)
		}
		return fmt.Sprintf("matched to %s", d.CandidateID)
	case domain.ActionCreateNew:
		return "will be created as new"
	case domain.ActionSkipLine:
		return "line skipped"
	case domain.ActionAcceptComputed:
		return "computed total accepted"
	case domain.ActionAcceptDeclared:
		return "declared total accepted"
	case domain.ActionReject:
		return "document rejected"
	}
	return string(d.Action)
}
