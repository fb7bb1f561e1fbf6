package slackbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/storage/sqlite"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 50
	maxSynonymLines    = 40
)

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/supply-recent":
		b.handleRecent(ctx, cmd)
	case "/supply-synonyms":
		b.handleSynonyms(ctx, cmd)
	case "/supply-pending":
		b.handlePending(ctx, cmd)
	case "/supply-help":
		b.handleHelp(ctx, cmd)
	}
}

func (b *Bot) handleRecent(ctx context.Context, cmd slack.SlashCommand) {
	limit := defaultRecentLimit
	if arg := strings.TrimSpace(cmd.Text); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, "Usage: `/supply-recent [count]`")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	records, err := sqlite.GetRecentAuditRecords(ctx, b.db, limit)
	if err != nil {
		logx.LogError(b.logger, "slack", "handleRecent", "load audit records", limit, err)
		b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Error loading history: %v", err))
		return
	}
	b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, renderRecent(records))
}

func renderRecent(records []domain.AuditRecord) string {
	if len(records) == 0 {
		return "No documents processed yet."
	}
	lines := []string{fmt.Sprintf("*Last %d documents*", len(records))}
	for _, r := range records {
		line := fmt.Sprintf("• %s `%s` %s № %s — *%s*",
			r.FinishedAt.Format("2006-01-02 15:04"),
			shortKey(r.DocumentKey),
			orDash(r.Document.SupplierLabel),
			orDash(r.Document.Number),
			r.Disposition,
		)
		if r.SupplyID != "" {
			line += " supply " + r.SupplyID
		}
		if r.Reason != "" && r.Disposition != domain.DispositionSubmitted {
			line += " (" + r.Reason + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleSynonyms(ctx context.Context, cmd slack.SlashCommand) {
	if b.synonyms == nil {
		return
	}
	b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, renderSynonyms(b.synonyms.Entries(), strings.TrimSpace(cmd.Text)))
}

func renderSynonyms(entries []domain.SynonymEntry, filter string) string {
	filter = domain.NormalizeLabel(filter)
	var lines []string
	total := 0
	for _, e := range entries {
		if filter != "" && !strings.Contains(e.Label, filter) {
			continue
		}
		total++
		if len(lines) < maxSynonymLines {
			lines = append(lines, fmt.Sprintf("• %s «%s» → `%s`", e.Kind, e.Label, e.CanonicalID))
		}
	}
	if total == 0 {
		return "No confirmed synonyms."
	}
	head := fmt.Sprintf("*Confirmed synonyms (%d)*", total)
	if total > len(lines) {
		head += fmt.Sprintf(", showing %d", len(lines))
	}
	return head + "\n" + strings.Join(lines, "\n")
}

func (b *Bot) handlePending(ctx context.Context, cmd slack.SlashCommand) {
	if b.decider == nil {
		return
	}
	pending, err := b.decider.Pending(ctx)
	if err != nil {
		logx.LogError(b.logger, "slack", "handlePending", "list pending", nil, err)
		b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Error loading pending questions: %v", err))
		return
	}
	if len(pending) == 0 {
		b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, "Nothing is waiting for a decision.")
		return
	}
	lines := []string{fmt.Sprintf("*%d open questions*", len(pending))}
	for _, req := range pending {
		lines = append(lines, fmt.Sprintf("• %s — since %s", promptSummary(req), req.CreatedAt.Format("15:04")))
	}
	b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, strings.Join(lines, "\n"))
}

func (b *Bot) handleHelp(ctx context.Context, cmd slack.SlashCommand) {
	lines := []string{
		"*SupplyBot*",
		"",
		"Upload an invoice to the intake channel: `.json`, `.csv`, `.xlsx` or plain text.",
		">For spreadsheets add a comment with the header fields:",
		">```supplier: Acme Ltd",
		">number: INV-42",
		">date: 2024-01-05",
		">total: 500.00```",
		"",
		"`/supply-recent [count]` — Last processed documents.",
		"`/supply-pending` — Questions waiting for a decision.",
		"`/supply-synonyms [filter]` — Labels learned from your decisions.",
		"`/supply-help` — Show this help.",
	}
	b.postEphemeral(ctx, cmd.ChannelID, cmd.UserID, strings.Join(lines, "\n"))
}
