package synonym

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/storage/sqlite"
)

type key struct {
	kind  domain.EntityKind
	label string
}

// Store keeps human-confirmed label mappings. Reads go to an immutable
// snapshot; writes persist first and then swap in a copied snapshot.
type Store struct {
	db     *sql.DB
	logger logrus.FieldLogger
	now    func() time.Time

	writeMu sync.Mutex
	snap    atomic.Pointer[map[key]domain.SynonymEntry]
}

func New(db *sql.DB, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logx.Logger()
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	empty := map[key]domain.SynonymEntry{}
	s.snap.Store(&empty)
	return s
}

// Load replaces the snapshot with everything persisted.
func (s *Store) Load(ctx context.Context) error {
	entries, err := sqlite.ListSynonyms(ctx, s.db)
	if err != nil {
		return fmt.Errorf("load synonyms: %w", err)
	}
	next := make(map[key]domain.SynonymEntry, len(entries))
	for _, e := range entries {
		next[key{e.Kind, e.Label}] = e
	}

	s.writeMu.Lock()
	s.snap.Store(&next)
	s.writeMu.Unlock()

	s.logger.WithField("count", len(next)).Info("synonyms loaded")
	return nil
}

// Lookup returns the canonical id confirmed for label, if any. The label is
// normalized before lookup.
func (s *Store) Lookup(kind domain.EntityKind, label string) (string, bool) {
	normalized := domain.NormalizeLabel(label)
	if normalized == "" {
		return "", false
	}
	e, ok := (*s.snap.Load())[key{kind, normalized}]
	if !ok {
		return "", false
	}
	return e.CanonicalID, true
}

// Confirm records a human decision. A later confirmation for the same
// normalized label replaces the earlier one.
func (s *Store) Confirm(ctx context.Context, kind domain.EntityKind, label, canonicalID, confirmedBy string) error {
	normalized := domain.NormalizeLabel(label)
	canonicalID = strings.TrimSpace(canonicalID)
	if normalized == "" || canonicalID == "" {
		return fmt.Errorf("confirm synonym: empty label or id")
	}
	entry := domain.SynonymEntry{
		Kind:        kind,
		Label:       normalized,
		CanonicalID: canonicalID,
		ConfirmedBy: confirmedBy,
		ConfirmedAt: s.now().UTC(),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := sqlite.UpsertSynonym(ctx, s.db, entry); err != nil {
		return fmt.Errorf("persist synonym: %w", err)
	}
	cur := *s.snap.Load()
	next := make(map[key]domain.SynonymEntry, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[key{kind, normalized}] = entry
	s.snap.Store(&next)

	s.logger.WithFields(logrus.Fields{
		"kind":         kind,
		"label":        normalized,
		"canonical_id": canonicalID,
		"confirmed_by": confirmedBy,
	}).Info("synonym confirmed")
	return nil
}

// Entries returns the current snapshot sorted by kind and label.
func (s *Store) Entries() []domain.SynonymEntry {
	cur := *s.snap.Load()
	out := make([]domain.SynonymEntry, 0, len(cur))
	for _, e := range cur {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (s *Store) Len() int {
	return len(*s.snap.Load())
}
