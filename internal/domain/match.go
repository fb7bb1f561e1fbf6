package domain

type MatchStatus string

const (
	MatchResolved   MatchStatus = "resolved"
	MatchAmbiguous  MatchStatus = "ambiguous"
	MatchUnresolved MatchStatus = "unresolved"
)

type MatchMethod string

const (
	MethodBarcode MatchMethod = "barcode"
	MethodSKU     MatchMethod = "sku"
	MethodSynonym MatchMethod = "synonym"
	MethodFuzzy   MatchMethod = "fuzzy"
	MethodHuman   MatchMethod = "human"
)

type Candidate struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// MatchResult is the outcome of resolving one label. ID, Name, Method and
// Score are set only when Status is MatchResolved; Candidates holds ranked
// suggestions for the other two states.
type MatchResult struct {
	Kind       EntityKind  `json:"kind"`
	LineIndex  int         `json:"line_index"` // -1 for the supplier
	Label      string      `json:"label"`
	Status     MatchStatus `json:"status"`
	ID         string      `json:"id,omitempty"`
	Name       string      `json:"name,omitempty"`
	Method     MatchMethod `json:"method,omitempty"`
	Score      float64     `json:"score,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	CreateNew  bool        `json:"create_new,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
}

func (m MatchResult) Resolved() bool {
	return m.Status == MatchResolved
}

// Settled reports whether the pipeline can move past this result without a
// human decision.
func (m MatchResult) Settled() bool {
	return m.Status == MatchResolved || m.CreateNew || m.Skipped
}
