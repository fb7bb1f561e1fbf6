package escalation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/schedule"
	"supplybot/internal/storage/sqlite"
)

var (
	ErrEscalationTimeout = errors.New("escalation timeout")
	ErrNotPending        = errors.New("escalation is no longer pending")
	ErrUnknownRequest    = errors.New("unknown escalation request")
	ErrInvalidDecision   = errors.New("decision not allowed for this request")
)

// Notifier presents a pending request to a human.
type Notifier interface {
	Prompt(ctx context.Context, req domain.EscalationRequest) error
}

// ExpiryNotifier is optionally implemented by a Notifier that wants to know
// when a prompt stopped accepting answers.
type ExpiryNotifier interface {
	Expired(ctx context.Context, req domain.EscalationRequest)
}

// SynonymWriter persists a human-confirmed label mapping.
type SynonymWriter interface {
	Confirm(ctx context.Context, kind domain.EntityKind, label, canonicalID, confirmedBy string) error
}

// Coordinator runs the Pending -> Decided | Expired state machine. A pending
// request parks only the goroutine of the document that raised it; the
// decision arrives later through Decide from whatever delivers human input.
type Coordinator struct {
	db       *sql.DB
	notifier Notifier
	synonyms SynonymWriter
	timeout  time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.Mutex
	waiters map[string]chan domain.Decision
}

func NewCoordinator(db *sql.DB, notifier Notifier, synonyms SynonymWriter, timeout time.Duration, logger logrus.FieldLogger) *Coordinator {
	if logger == nil {
		logger = logx.Logger()
	}
	return &Coordinator{
		db:       db,
		notifier: notifier,
		synonyms: synonyms,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		waiters:  make(map[string]chan domain.Decision),
	}
}

// SetNotifier swaps the human channel. Used when the chat transport starts
// after the coordinator.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

func (c *Coordinator) currentNotifier() Notifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier
}

// Escalate raises req and waits for its outcome.
func (c *Coordinator) Escalate(ctx context.Context, req domain.EscalationRequest) (domain.EscalationRequest, error) {
	raised, err := c.Raise(ctx, req)
	if err != nil {
		return raised, err
	}
	return c.Await(ctx, raised.ID)
}

// Raise persists req as Pending and presents it to a human.
func (c *Coordinator) Raise(ctx context.Context, req domain.EscalationRequest) (domain.EscalationRequest, error) {
	req.ID = uuid.NewString()
	req.State = domain.EscalationPending
	req.Decision = nil
	req.CreatedAt = c.now().UTC()
	req.ResolvedAt = time.Time{}

	// The waiter exists before the row so a sweep never sees it orphaned.
	c.mu.Lock()
	c.waiters[req.ID] = make(chan domain.Decision, 1)
	notifier := c.notifier
	c.mu.Unlock()

	if err := sqlite.InsertEscalation(ctx, c.db, req); err != nil {
		c.forget(req.ID)
		return req, fmt.Errorf("persist escalation: %w", err)
	}

	log := c.logger.WithFields(logrus.Fields{
		"escalation_id": req.ID,
		"document_key":  shortKey(req.DocumentKey),
		"kind":          req.Kind,
		"subject":       req.Subject,
		"line":          req.LineIndex,
	})

	if notifier == nil {
		c.forget(req.ID)
		c.expire(context.WithoutCancel(ctx), req.ID)
		return req, fmt.Errorf("raise escalation: no human channel configured")
	}
	if err := notifier.Prompt(ctx, req); err != nil {
		logx.LogError(log, "escalation", "Raise", "prompt failed", nil, err)
		c.forget(req.ID)
		c.expire(context.WithoutCancel(ctx), req.ID)
		return req, fmt.Errorf("present escalation: %w", err)
	}
	log.Info("escalation raised")
	return req, nil
}

// Await parks until the request is decided or its wait budget runs out. On
// timeout the request becomes Expired and ErrEscalationTimeout is returned.
func (c *Coordinator) Await(ctx context.Context, id string) (domain.EscalationRequest, error) {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return domain.EscalationRequest{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	defer c.forget(id)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return c.load(context.WithoutCancel(ctx), id)
	case <-timer.C:
		return c.expireOrCollect(context.WithoutCancel(ctx), id, ch, ErrEscalationTimeout)
	case <-ctx.Done():
		return c.expireOrCollect(context.WithoutCancel(ctx), id, ch, ctx.Err())
	}
}

// expireOrCollect expires id unless a decision won the race, in which case
// that decision is returned.
func (c *Coordinator) expireOrCollect(ctx context.Context, id string, ch chan domain.Decision, cause error) (domain.EscalationRequest, error) {
	if c.expire(ctx, id) {
		req, err := c.load(ctx, id)
		if err != nil {
			return req, err
		}
		return req, cause
	}
	select {
	case <-ch:
	default:
	}
	return c.load(ctx, id)
}

func (c *Coordinator) expire(ctx context.Context, id string) bool {
	now := c.now().UTC()
	ok, err := sqlite.ResolveEscalation(ctx, c.db, domain.EscalationRequest{
		ID:         id,
		State:      domain.EscalationExpired,
		ResolvedAt: now,
	})
	if err != nil {
		logx.LogError(c.logger, "escalation", "expire", "mark expired failed", id, err)
		return false
	}
	if !ok {
		return false
	}
	c.logger.WithField("escalation_id", id).Warn("escalation expired without a decision")

	if n, isExpiry := c.currentNotifier().(ExpiryNotifier); isExpiry {
		if req, err := sqlite.GetEscalation(ctx, c.db, id); err == nil {
			n.Expired(ctx, req)
		}
	}
	return true
}

// Decide applies a human decision to a pending request. Choosing a candidate
// for a match request also records the label as a synonym.
func (c *Coordinator) Decide(ctx context.Context, id string, d domain.Decision) (domain.EscalationRequest, error) {
	req, err := sqlite.GetEscalation(ctx, c.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		return req, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if err != nil {
		return req, fmt.Errorf("load escalation: %w", err)
	}
	if req.State != domain.EscalationPending {
		return req, ErrNotPending
	}
	if !req.Allows(d) {
		return req, fmt.Errorf("%w: %s on %s/%s", ErrInvalidDecision, d.Action, req.Kind, req.Subject)
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = c.now().UTC()
	}

	req.State = domain.EscalationDecided
	req.Decision = &d
	req.ResolvedAt = d.DecidedAt
	ok, err := sqlite.ResolveEscalation(ctx, c.db, req)
	if err != nil {
		return req, fmt.Errorf("record decision: %w", err)
	}
	if !ok {
		return req, ErrNotPending
	}

	log := c.logger.WithFields(logrus.Fields{
		"escalation_id": id,
		"action":        d.Action,
		"decided_by":    d.DecidedBy,
	})
	log.Info("escalation decided")

	if req.Kind == domain.EscalationMatch && d.Action == domain.ActionChoose && c.synonyms != nil {
		kind := domain.KindProduct
		if req.Subject == domain.SubjectSupplier {
			kind = domain.KindSupplier
		}
		if err := c.synonyms.Confirm(ctx, kind, req.Label, d.CandidateID, d.DecidedBy); err != nil {
			logx.LogError(log, "escalation", "Decide", "synonym write failed", req.Label, err)
		}
	}

	c.mu.Lock()
	ch, waiting := c.waiters[id]
	c.mu.Unlock()
	if waiting {
		select {
		case ch <- d:
		default:
		}
	}
	return req, nil
}

// ExpireOrphans marks requests left Pending by an earlier process as
// Expired. Requests this process is still waiting on are left alone.
func (c *Coordinator) ExpireOrphans(ctx context.Context) (int, error) {
	pending, err := sqlite.ListEscalationsByState(ctx, c.db, domain.EscalationPending)
	if err != nil {
		return 0, fmt.Errorf("list pending escalations: %w", err)
	}
	n := 0
	for _, req := range pending {
		c.mu.Lock()
		_, live := c.waiters[req.ID]
		c.mu.Unlock()
		if live {
			continue
		}
		if c.expire(ctx, req.ID) {
			n++
		}
	}
	if n > 0 {
		c.logger.WithField("count", n).Warn("expired orphaned escalations")
	}
	return n, nil
}

// StartSweeper runs ExpireOrphans on a cron schedule.
func (c *Coordinator) StartSweeper(ctx context.Context, spec string) error {
	return schedule.Start(ctx, "escalation-sweep", spec, c.logger, func(ctx context.Context) {
		if _, err := c.ExpireOrphans(ctx); err != nil {
			logx.LogError(c.logger, "escalation", "StartSweeper", "sweep failed", nil, err)
		}
	})
}

// Pending lists requests still waiting on a human.
func (c *Coordinator) Pending(ctx context.Context) ([]domain.EscalationRequest, error) {
	return sqlite.ListEscalationsByState(ctx, c.db, domain.EscalationPending)
}

func (c *Coordinator) load(ctx context.Context, id string) (domain.EscalationRequest, error) {
	req, err := sqlite.GetEscalation(ctx, c.db, id)
	if err != nil {
		return req, fmt.Errorf("load escalation: %w", err)
	}
	return req, nil
}

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
