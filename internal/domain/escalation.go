package domain

import "time"

type EscalationKind string

const (
	EscalationMatch        EscalationKind = "match"
	EscalationVerification EscalationKind = "verification"
)

type EscalationSubject string

const (
	SubjectSupplier EscalationSubject = "supplier"
	SubjectLine     EscalationSubject = "line"
	SubjectTotals   EscalationSubject = "totals"
)

type EscalationState string

const (
	EscalationPending EscalationState = "pending"
	EscalationDecided EscalationState = "decided"
	EscalationExpired EscalationState = "expired"
)

type DecisionAction string

const (
	ActionChoose         DecisionAction = "choose"
	ActionCreateNew      DecisionAction = "create_new"
	ActionSkipLine       DecisionAction = "skip_line"
	ActionAcceptComputed DecisionAction = "accept_computed"
	ActionAcceptDeclared DecisionAction = "accept_declared"
	ActionReject         DecisionAction = "reject"
)

type Decision struct {
	Action      DecisionAction `json:"action"`
	CandidateID string         `json:"candidate_id,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	DecidedAt   time.Time      `json:"decided_at"`
}

// EscalationRequest suspends one document until a human decides or the wait
// budget runs out.
type EscalationRequest struct {
	ID          string            `json:"id"`
	DocumentKey string            `json:"document_key"`
	Kind        EscalationKind    `json:"kind"`
	Subject     EscalationSubject `json:"subject"`
	LineIndex   int               `json:"line_index"`
	Label       string            `json:"label"`
	Detail      string            `json:"detail,omitempty"`
	Candidates  []Candidate       `json:"candidates,omitempty"`
	State       EscalationState   `json:"state"`
	Decision    *Decision         `json:"decision,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}

// Allows reports whether action is a valid answer to this request.
func (r EscalationRequest) Allows(d Decision) bool {
	switch r.Kind {
	case EscalationMatch:
		switch d.Action {
		case ActionChoose:
			for _, c := range r.Candidates {
				if c.ID == d.CandidateID {
					return true
				}
			}
			return false
		case ActionCreateNew, ActionReject:
			return true
		case ActionSkipLine:
			return r.Subject == SubjectLine
		}
	case EscalationVerification:
		switch d.Action {
		case ActionAcceptComputed, ActionAcceptDeclared, ActionReject:
			return true
		}
	}
	return false
}

func (r EscalationRequest) CandidateByID(id string) (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.ID == id {
			return c, true
		}
	}
	return Candidate{}, false
}
