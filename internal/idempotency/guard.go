package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"supplybot/internal/logx"
	"supplybot/internal/storage/sqlite"
)

type Decision string

const (
	Proceed   Decision = "proceed"
	Duplicate Decision = "duplicate"
)

// Guard decides whether a document still needs submitting. Keys are
// recorded only after a confirmed submission; the in-flight lock keeps a
// concurrent run with the same key from racing past the check.
type Guard struct {
	db     *sql.DB
	locker Locker
	logger logrus.FieldLogger
}

func NewGuard(db *sql.DB, locker Locker, logger logrus.FieldLogger) *Guard {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = logx.Logger()
	}
	return &Guard{db: db, locker: locker, logger: logger}
}

// SupplyFor returns the supply a processed key was recorded against, or ""
// when key has not been submitted.
func (g *Guard) SupplyFor(ctx context.Context, key string) (string, error) {
	id, err := sqlite.GetProcessedSupplyID(ctx, g.db, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// Claim holds the in-flight locks for one pipeline run. Release must be
// called when the run ends, whether or not Commit was.
type Claim struct {
	g        *Guard
	mu       sync.Mutex
	keys     []string
	releases []func()
}

// ShouldProcess locks key and reports Duplicate when it was already
// submitted. A Duplicate answer returns no claim and holds no lock.
func (g *Guard) ShouldProcess(ctx context.Context, key string) (*Claim, Decision, error) {
	c := &Claim{g: g}
	d, err := c.Add(ctx, key)
	if err != nil || d == Duplicate {
		c.Release()
		return nil, d, err
	}
	return c, Proceed, nil
}

// Add extends the claim with another key, locking it and re-checking the
// processed set.
func (c *Claim) Add(ctx context.Context, key string) (Decision, error) {
	c.mu.Lock()
	for _, k := range c.keys {
		if k == key {
			c.mu.Unlock()
			return Proceed, nil
		}
	}
	c.mu.Unlock()

	release, err := c.g.locker.Acquire(ctx, key)
	if err != nil {
		return "", fmt.Errorf("acquire in-flight lock: %w", err)
	}
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.releases = append(c.releases, release)
	c.mu.Unlock()

	seen, err := sqlite.AnyProcessed(ctx, c.g.db, key)
	if err != nil {
		return "", fmt.Errorf("check processed keys: %w", err)
	}
	if seen {
		c.g.logger.WithField("key", short(key)).Info("document already processed")
		return Duplicate, nil
	}
	return Proceed, nil
}

func (c *Claim) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}

// Commit durably records every claimed key against supplyID. It is called
// only after the inventory service confirmed the supply.
func (c *Claim) Commit(ctx context.Context, supplyID string) error {
	keys := c.Keys()
	if err := sqlite.MarkProcessed(ctx, c.g.db, supplyID, keys...); err != nil {
		return fmt.Errorf("record processed keys: %w", err)
	}
	return nil
}

// Release frees the in-flight locks in reverse order. Safe to call twice.
func (c *Claim) Release() {
	if c == nil {
		return
	}
	c.mu.Lock()
	releases := c.releases
	c.releases = nil
	c.mu.Unlock()
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
