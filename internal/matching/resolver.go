package matching

import (
	"sort"

	"supplybot/internal/catalog"
	"supplybot/internal/domain"
)

const defaultMaxSuggestions = 5

type Config struct {
	SupplierThreshold float64
	ProductThreshold  float64
	// TieMargin is how close to the best score another candidate has to be
	// for the result to count as ambiguous.
	TieMargin      float64
	MaxSuggestions int
}

func (c Config) threshold(kind domain.EntityKind) float64 {
	if kind == domain.KindSupplier {
		return c.SupplierThreshold
	}
	return c.ProductThreshold
}

// SynonymLookup is the read side of the synonym store.
type SynonymLookup interface {
	Lookup(kind domain.EntityKind, label string) (string, bool)
}

// Resolver maps free-text labels onto catalog identities. It never writes:
// synonyms only grow through confirmed human decisions.
type Resolver struct {
	cfg      Config
	synonyms SynonymLookup
	score    func(a, b string) float64
}

func NewResolver(cfg Config, synonyms SynonymLookup) *Resolver {
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = defaultMaxSuggestions
	}
	return &Resolver{cfg: cfg, synonyms: synonyms, score: Similarity}
}

// ResolveSupplier runs the synonym and fuzzy stages against the supplier
// catalog.
func (r *Resolver) ResolveSupplier(snap *catalog.Snapshot, label string) domain.MatchResult {
	res := domain.MatchResult{Kind: domain.KindSupplier, LineIndex: -1, Label: label}
	return r.resolveByLabel(snap, res)
}

// ResolveLine runs barcode, SKU, synonym and fuzzy stages in that order,
// stopping at the first that yields an identity.
func (r *Resolver) ResolveLine(snap *catalog.Snapshot, index int, item domain.ExtractedLineItem) domain.MatchResult {
	res := domain.MatchResult{Kind: domain.KindProduct, LineIndex: index, Label: item.Description}

	if p, ok := snap.ProductByBarcode(item.Barcode); ok {
		return resolved(res, p, domain.MethodBarcode, 1)
	}
	if p, ok := snap.ProductBySKU(item.SKU); ok {
		return resolved(res, p, domain.MethodSKU, 1)
	}
	return r.resolveByLabel(snap, res)
}

func (r *Resolver) resolveByLabel(snap *catalog.Snapshot, res domain.MatchResult) domain.MatchResult {
	res.Status = domain.MatchUnresolved
	label := domain.NormalizeLabel(res.Label)
	if label == "" {
		return res
	}
	entries := snap.Entries(res.Kind)
	if len(entries) == 0 {
		return res
	}

	if r.synonyms != nil {
		if id, ok := r.synonyms.Lookup(res.Kind, label); ok {
			// A synonym pointing at an id the catalog no longer has falls
			// through to fuzzy matching.
			if e, found := snap.Lookup(res.Kind, id); found {
				return resolved(res, e, domain.MethodSynonym, 1)
			}
		}
	}

	return r.fuzzy(entries, label, res)
}

func (r *Resolver) fuzzy(entries []domain.CatalogEntry, label string, res domain.MatchResult) domain.MatchResult {
	ranked := make([]domain.Candidate, 0, len(entries))
	var exact []domain.CatalogEntry
	for _, e := range entries {
		name := domain.NormalizeLabel(e.Name)
		if name == label {
			exact = append(exact, e)
			ranked = append(ranked, domain.Candidate{ID: e.ID, Name: e.Name, Score: 1})
			continue
		}
		ranked = append(ranked, domain.Candidate{ID: e.ID, Name: e.Name, Score: r.score(label, name)})
	}
	if len(exact) == 1 {
		return resolved(res, exact[0], domain.MethodFuzzy, 1)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Name != ranked[j].Name {
			return ranked[i].Name < ranked[j].Name
		}
		return ranked[i].ID < ranked[j].ID
	})

	best := ranked[0]
	if best.Score < r.cfg.threshold(res.Kind) {
		res.Candidates = top(ranked, r.cfg.MaxSuggestions)
		return res
	}

	contenders := 1
	for _, c := range ranked[1:] {
		if best.Score-c.Score > r.cfg.TieMargin {
			break
		}
		contenders++
	}
	if contenders > 1 {
		res.Status = domain.MatchAmbiguous
		n := r.cfg.MaxSuggestions
		if contenders > n {
			n = contenders
		}
		res.Candidates = top(ranked, n)
		return res
	}

	res.Status = domain.MatchResolved
	res.ID = best.ID
	res.Name = best.Name
	res.Method = domain.MethodFuzzy
	res.Score = best.Score
	return res
}

func resolved(res domain.MatchResult, e domain.CatalogEntry, method domain.MatchMethod, score float64) domain.MatchResult {
	res.Status = domain.MatchResolved
	res.ID = e.ID
	res.Name = e.Name
	res.Method = method
	res.Score = score
	res.Candidates = nil
	return res
}

func top(ranked []domain.Candidate, n int) []domain.Candidate {
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return append([]domain.Candidate(nil), ranked...)
}
