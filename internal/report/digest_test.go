package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/slack-go/slack"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/storage/sqlite"
)

func record(id string, disp domain.Disposition, finished time.Time) domain.AuditRecord {
	return domain.AuditRecord{
		ID:          id,
		DocumentKey: "key-" + id,
		Document:    domain.ExtractedDocument{SupplierLabel: "Acme Ltd", Number: "INV-" + id, Currency: "UAH"},
		Disposition: disp,
		StartedAt:   finished.Add(-time.Second),
		FinishedAt:  finished,
	}
}

func TestBuildAndRender(t *testing.T) {
	from := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	ok := record("1", domain.DispositionSubmitted, from.Add(time.Hour))
	ok.Verification = &domain.VerificationOutcome{Computed: decimal.RequireFromString("500"), Declared: decimal.RequireFromString("500.40")}
	declared := record("2", domain.DispositionSubmitted, from.Add(2*time.Hour))
	declared.Verification = &domain.VerificationOutcome{Computed: decimal.RequireFromString("90"), Declared: decimal.RequireFromString("100"), AcceptedTotal: "declared"}
	failed := record("3", domain.DispositionFailed, from.Add(3*time.Hour))
	failed.Reason = "escalation timeout"
	failed.Degraded = true
	dup := record("4", domain.DispositionDuplicate, from.Add(4*time.Hour))

	d := Build([]domain.AuditRecord{ok, declared, failed, dup}, from, to)
	if d.Total != 4 || d.Degraded != 1 || len(d.Problems) != 1 {
		t.Fatalf("unexpected digest: %+v", d)
	}
	if !d.Imported["UAH"].Equal(decimal.RequireFromString("600")) {
		t.Fatalf("imported = %s, want 600", d.Imported["UAH"])
	}

	text := Render(d)
	for _, want := range []string{
		"*Supply digest Thu Jan 4*",
		"4 documents: 2 imported, 1 duplicates, 0 rejected, 1 failed (1 degraded)",
		"Imported value: 600.00 UAH",
		"• Acme Ltd № INV-3: failed (escalation timeout)",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("digest %q is missing %q", text, want)
		}
	}
}

func TestRenderEmptyPeriod(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	text := Render(Build(nil, from, from.AddDate(0, 0, 7)))
	if text != "*Supply digest Jan 1 - Jan 7*\nNo documents were processed." {
		t.Fatalf("unexpected empty digest %q", text)
	}
}

func TestRenderCapsProblems(t *testing.T) {
	from := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	var recs []domain.AuditRecord
	for i := 0; i < maxListedProblems+3; i++ {
		recs = append(recs, record(fmt.Sprint(i), domain.DispositionRejected, from))
	}
	if text := Render(Build(recs, from, from.AddDate(0, 0, 1))); !strings.Contains(text, "...and 3 more") {
		t.Fatalf("expected overflow note: %q", text)
	}
}

func TestPreviousDay(t *testing.T) {
	loc := time.FixedZone("EET", 2*60*60)
	// 23:30 UTC is already the next day at UTC+2.
	from, to := PreviousDay(time.Date(2024, 1, 4, 23, 30, 0, 0, time.UTC), loc)
	if !from.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, loc)) || !to.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, loc)) {
		t.Fatalf("PreviousDay = %s, %s", from, to)
	}
}

type fakePoster struct {
	channel string
	text    string
}

func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, _ := slack.UnsafeApplyMsgOptions("", channelID, "", options...)
	f.channel, f.text = channelID, values.Get("text")
	return channelID, "1", nil
}

func TestSendPostsPreviousDay(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init test db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	day := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	for _, rec := range []domain.AuditRecord{
		record("in", domain.DispositionFailed, day.Add(10*time.Hour)),
		record("before", domain.DispositionFailed, day.Add(-time.Hour)),
		record("after", domain.DispositionFailed, day.Add(25*time.Hour)),
	} {
		if err := sqlite.InsertAuditRecord(ctx, db, rec); err != nil {
			t.Fatalf("InsertAuditRecord failed: %v", err)
		}
	}

	poster := &fakePoster{}
	g := NewDigester(poster, Options{DB: db, ChannelID: "C-OPS", Location: time.UTC, Logger: logx.Discard()})
	g.now = func() time.Time { return day.Add(33 * time.Hour) }

	if err := g.Send(ctx); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if poster.channel != "C-OPS" || !strings.Contains(poster.text, "1 documents") || !strings.Contains(poster.text, "INV-in") {
		t.Fatalf("unexpected digest post %q to %s", poster.text, poster.channel)
	}
}
