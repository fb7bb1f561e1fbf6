package report

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/schedule"
	"supplybot/internal/storage/sqlite"
)

const maxListedProblems = 15

// Digest summarizes the documents finished in one period.
type Digest struct {
	From, To time.Time
	Total    int
	Counts   map[domain.Disposition]int
	Degraded int
	// Imported sums submitted supplies per currency.
	Imported map[string]decimal.Decimal
	Problems []domain.AuditRecord // failed and rejected, oldest first
}

func Build(records []domain.AuditRecord, from, to time.Time) Digest {
	d := Digest{
		From:     from,
		To:       to,
		Counts:   make(map[domain.Disposition]int),
		Imported: make(map[string]decimal.Decimal),
	}
	for _, r := range records {
		d.Total++
		d.Counts[r.Disposition]++
		if r.Degraded {
			d.Degraded++
		}
		switch r.Disposition {
		case domain.DispositionSubmitted:
			if v := r.Verification; v != nil {
				amount := v.Computed
				if v.AcceptedTotal == "declared" {
					amount = v.Declared
				}
				d.Imported[r.Document.Currency] = d.Imported[r.Document.Currency].Add(amount)
			}
		case domain.DispositionFailed, domain.DispositionRejected:
			d.Problems = append(d.Problems, r)
		}
	}
	return d
}

func Render(d Digest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Supply digest %s*\n", periodLabel(d.From, d.To))
	if d.Total == 0 {
		b.WriteString("No documents were processed.")
		return b.String()
	}
	fmt.Fprintf(&b, "%d documents: %d imported, %d duplicates, %d rejected, %d failed",
		d.Total,
		d.Counts[domain.DispositionSubmitted],
		d.Counts[domain.DispositionDuplicate],
		d.Counts[domain.DispositionRejected],
		d.Counts[domain.DispositionFailed],
	)
	if d.Degraded > 0 {
		fmt.Fprintf(&b, " (%d degraded)", d.Degraded)
	}
	b.WriteString("\n")

	currencies := make([]string, 0, len(d.Imported))
	for c := range d.Imported {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		fmt.Fprintf(&b, "Imported value: %s %s\n", d.Imported[c].StringFixed(2), c)
	}

	if len(d.Problems) > 0 {
		b.WriteString("\n*Needs attention*\n")
		for i, r := range d.Problems {
			if i == maxListedProblems {
				fmt.Fprintf(&b, "...and %d more\n", len(d.Problems)-i)
				break
			}
			fmt.Fprintf(&b, "• %s № %s: %s (%s)\n", orDash(r.Document.SupplierLabel), orDash(r.Document.Number), r.Disposition, orDash(r.Reason))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func periodLabel(from, to time.Time) string {
	last := to.Add(-time.Nanosecond)
	if from.Format("2006-01-02") == last.Format("2006-01-02") {
		return from.Format("Mon Jan 2")
	}
	return from.Format("Jan 2") + " - " + last.Format("Jan 2")
}

// PreviousDay is the calendar day before now in loc.
func PreviousDay(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -1), today
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}

// Poster posts a Slack message.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Options struct {
	DB        *sql.DB
	ChannelID string
	Location  *time.Location
	Logger    logrus.FieldLogger
}

// Digester posts the previous day's digest to a channel.
type Digester struct {
	api       Poster
	db        *sql.DB
	channelID string
	loc       *time.Location
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewDigester(api Poster, opts Options) *Digester {
	if opts.Logger == nil {
		opts.Logger = logx.Logger()
	}
	return &Digester{
		api:       api,
		db:        opts.DB,
		channelID: opts.ChannelID,
		loc:       opts.Location,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Start posts the digest on a cron schedule. An empty schedule or channel
// disables it.
func (g *Digester) Start(ctx context.Context, spec string) error {
	if g.channelID == "" {
		g.logger.Info("No digest channel configured, daily digest disabled")
		return nil
	}
	return schedule.Start(ctx, "daily-digest", spec, g.logger, func(ctx context.Context) {
		if err := g.Send(ctx); err != nil {
			logx.LogError(g.logger, "report", "Start", "digest failed", g.channelID, err)
		}
	})
}

func (g *Digester) Send(ctx context.Context) error {
	from, to := PreviousDay(g.now(), g.loc)
	records, err := sqlite.GetAuditRecordsBetween(ctx, g.db, from, to)
	if err != nil {
		return fmt.Errorf("load audit records: %w", err)
	}
	d := Build(records, from, to)
	if _, _, err := g.api.PostMessageContext(ctx, g.channelID, slack.MsgOptionText(Render(d), false)); err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	g.logger.WithFields(logrus.Fields{"documents": d.Total, "from": from.Format("2006-01-02")}).Info("daily digest posted")
	return nil
}
