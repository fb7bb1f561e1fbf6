package domain

import "testing"

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Milk 1L", "milk 1l"},
		{"  ACME   Ltd\t", "acme ltd"},
		{"Молоко\n2.5%", "молоко 2.5%"},
		{"   ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeLabel(tt.in); got != tt.want {
			t.Fatalf("NormalizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscalationRequestAllows(t *testing.T) {
	line := EscalationRequest{
		Kind:       EscalationMatch,
		Subject:    SubjectLine,
		Candidates: []Candidate{{ID: "p1", Name: "Milk"}},
	}
	supplier := EscalationRequest{Kind: EscalationMatch, Subject: SubjectSupplier}
	totals := EscalationRequest{Kind: EscalationVerification, Subject: SubjectTotals}

	tests := []struct {
		name string
		req  EscalationRequest
		d    Decision
		want bool
	}{
		{"choose known candidate", line, Decision{Action: ActionChoose, CandidateID: "p1"}, true},
		{"choose unknown candidate", line, Decision{Action: ActionChoose, CandidateID: "p9"}, false},
		{"skip line", line, Decision{Action: ActionSkipLine}, true},
		{"skip supplier", supplier, Decision{Action: ActionSkipLine}, false},
		{"create supplier", supplier, Decision{Action: ActionCreateNew}, true},
		{"accept computed on match", line, Decision{Action: ActionAcceptComputed}, false},
		{"accept declared", totals, Decision{Action: ActionAcceptDeclared}, true},
		{"reject totals", totals, Decision{Action: ActionReject}, true},
		{"choose on totals", totals, Decision{Action: ActionChoose, CandidateID: "p1"}, false},
	}
	for _, tt := range tests {
		if got := tt.req.Allows(tt.d); got != tt.want {
			t.Fatalf("%s: Allows = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMatchResultSettled(t *testing.T) {
	if !(MatchResult{Status: MatchResolved}).Settled() {
		t.Fatal("resolved result must be settled")
	}
	if (MatchResult{Status: MatchAmbiguous}).Settled() {
		t.Fatal("ambiguous result must not be settled")
	}
	if !(MatchResult{Status: MatchUnresolved, Skipped: true}).Settled() {
		t.Fatal("skipped result must be settled")
	}
	if !(MatchResult{Status: MatchUnresolved, CreateNew: true}).Settled() {
		t.Fatal("create-new result must be settled")
	}
}
