package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Disposition string

const (
	DispositionSubmitted Disposition = "submitted"
	DispositionDuplicate Disposition = "duplicate"
	DispositionRejected  Disposition = "rejected"
	DispositionFailed    Disposition = "failed"
)

// VerificationOutcome keeps the measured comparison as computed. When a
// reviewer settles a mismatch, Overridden is set and AcceptedTotal names the
// total they accepted; WithinTolerance still reports the raw check.
type VerificationOutcome struct {
	Computed        decimal.Decimal `json:"computed"`
	Declared        decimal.Decimal `json:"declared"`
	AbsoluteDelta   decimal.Decimal `json:"absolute_delta"`
	RelativeDelta   decimal.Decimal `json:"relative_delta"`
	Allowed         decimal.Decimal `json:"allowed"`
	WithinTolerance bool            `json:"within_tolerance"`
	Skipped         bool            `json:"skipped,omitempty"` // no declared total
	Overridden      bool            `json:"overridden,omitempty"`
	AcceptedTotal   string          `json:"accepted_total,omitempty"` // computed|declared
	OverriddenBy    string          `json:"overridden_by,omitempty"`
}

// Passed reports whether the totals check no longer blocks submission.
func (v VerificationOutcome) Passed() bool {
	return v.Skipped || v.WithinTolerance || v.Overridden
}

// AuditRecord is written once per processed document and never updated.
type AuditRecord struct {
	ID           string               `json:"id"`
	DocumentKey  string               `json:"document_key"`
	Document     ExtractedDocument    `json:"document"`
	SupplierID   string               `json:"supplier_id,omitempty"`
	Matches      []MatchResult        `json:"matches"`
	Verification *VerificationOutcome `json:"verification,omitempty"`
	Disposition  Disposition          `json:"disposition"`
	Reason       string               `json:"reason,omitempty"`
	SupplyID     string               `json:"supply_id,omitempty"`
	Degraded     bool                 `json:"degraded,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at"`
}

// SynonymEntry maps a normalized label to a confirmed catalog id.
type SynonymEntry struct {
	Kind        EntityKind `json:"kind"`
	Label       string     `json:"label"`
	CanonicalID string     `json:"canonical_id"`
	ConfirmedBy string     `json:"confirmed_by,omitempty"`
	ConfirmedAt time.Time  `json:"confirmed_at"`
}
