package matching

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"supplybot/internal/catalog"
	"supplybot/internal/domain"
)

type mapSynonyms map[string]string

func (m mapSynonyms) Lookup(kind domain.EntityKind, label string) (string, bool) {
	id, ok := m[string(kind)+"|"+domain.NormalizeLabel(label)]
	return id, ok
}

var testConfig = Config{SupplierThreshold: 0.92, ProductThreshold: 0.90, TieMargin: 0.02}

func testSnapshot() *catalog.Snapshot {
	suppliers := []domain.CatalogEntry{
		{ID: "s1", Name: "Acme Ltd"},
		{ID: "s2", Name: "Acme Trading"},
		{ID: "s3", Name: "Globex"},
	}
	products := []domain.CatalogEntry{
		{ID: "p1", Name: "Milk 1L", Barcode: "4820000000017", SKU: "MLK-1"},
		{ID: "p2", Name: "Bread"},
		{ID: "p3", Name: "Sunflower oil 1 l"},
		{ID: "p4", Name: "Acme Trading"},
	}
	return catalog.NewSnapshot(suppliers, products, time.Now())
}

func TestResolveLineBarcodeScenario(t *testing.T) {
	r := NewResolver(testConfig, nil)
	item := domain.ExtractedLineItem{Description: "Milk 1L", Barcode: "4820000000017", Unit: "pcs"}

	res := r.ResolveLine(testSnapshot(), 0, item)
	if res.Status != domain.MatchResolved || res.Method != domain.MethodBarcode || res.ID != "p1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveLineStages(t *testing.T) {
	syn := mapSynonyms{"product|mlk one litre": "p1", "product|ghost": "p404"}
	r := NewResolver(testConfig, syn)
	snap := testSnapshot()

	tests := []struct {
		name       string
		item       domain.ExtractedLineItem
		wantStatus domain.MatchStatus
		wantMethod domain.MatchMethod
		wantID     string
	}{
		{"barcode beats label", domain.ExtractedLineItem{Description: "Bread", Barcode: "4820000000017"}, domain.MatchResolved, domain.MethodBarcode, "p1"},
		{"barcode with empty label", domain.ExtractedLineItem{Barcode: "4820000000017"}, domain.MatchResolved, domain.MethodBarcode, "p1"},
		{"sku", domain.ExtractedLineItem{Description: "whatever", SKU: "mlk-1"}, domain.MatchResolved, domain.MethodSKU, "p1"},
		{"unknown barcode falls through", domain.ExtractedLineItem{Description: "Bread", Barcode: "000"}, domain.MatchResolved, domain.MethodFuzzy, "p2"},
		{"synonym", domain.ExtractedLineItem{Description: "MLK  one litre"}, domain.MatchResolved, domain.MethodSynonym, "p1"},
		{"stale synonym falls through", domain.ExtractedLineItem{Description: "ghost"}, domain.MatchUnresolved, "", ""},
		{"exact name", domain.ExtractedLineItem{Description: "  bread "}, domain.MatchResolved, domain.MethodFuzzy, "p2"},
		{"fuzzy above threshold", domain.ExtractedLineItem{Description: "Sunflower oil 1l"}, domain.MatchResolved, domain.MethodFuzzy, "p3"},
		{"empty label", domain.ExtractedLineItem{Description: "   "}, domain.MatchUnresolved, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.ResolveLine(snap, 3, tt.item)
			if res.Status != tt.wantStatus || res.Method != tt.wantMethod || res.ID != tt.wantID {
				t.Fatalf("got %+v", res)
			}
			if res.LineIndex != 3 || res.Kind != domain.KindProduct {
				t.Fatalf("result not tagged with line: %+v", res)
			}
		})
	}
}

func TestResolveEmptyLabelHasNoCandidates(t *testing.T) {
	r := NewResolver(testConfig, nil)
	res := r.ResolveLine(testSnapshot(), 0, domain.ExtractedLineItem{Description: "\t"})
	if res.Status != domain.MatchUnresolved || len(res.Candidates) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveEmptyCatalogIsUnresolved(t *testing.T) {
	r := NewResolver(testConfig, nil)
	empty := catalog.NewSnapshot(nil, nil, time.Now())
	if res := r.ResolveLine(empty, 0, domain.ExtractedLineItem{Description: "Milk 1L"}); res.Status != domain.MatchUnresolved {
		t.Fatalf("expected unresolved, got %+v", res)
	}
	if res := r.ResolveSupplier(empty, "Acme Ltd"); res.Status != domain.MatchUnresolved {
		t.Fatalf("expected unresolved supplier, got %+v", res)
	}
	if res := r.ResolveSupplier(nil, "Acme Ltd"); res.Status != domain.MatchUnresolved {
		t.Fatalf("expected unresolved supplier for nil snapshot, got %+v", res)
	}
}

func TestSupplierThresholdIsStricter(t *testing.T) {
	r := NewResolver(testConfig, nil)
	snap := testSnapshot()

	// "acme tradin" vs "acme trading" scores 11/12.
	if res := r.ResolveLine(snap, 0, domain.ExtractedLineItem{Description: "Acme Tradin"}); res.Status != domain.MatchResolved || res.ID != "p4" {
		t.Fatalf("expected product match, got %+v", res)
	}
	res := r.ResolveSupplier(snap, "Acme Tradin")
	if res.Status != domain.MatchUnresolved {
		t.Fatalf("expected unresolved supplier, got %+v", res)
	}
	if len(res.Candidates) == 0 || res.Candidates[0].ID != "s2" {
		t.Fatalf("expected s2 as top suggestion, got %+v", res.Candidates)
	}
}

func TestNearTieIsAmbiguous(t *testing.T) {
	r := NewResolver(testConfig, nil)
	snap := catalog.NewSnapshot(nil, []domain.CatalogEntry{
		{ID: "a", Name: "Sunflower oil 1 l"},
		{ID: "b", Name: "Sunflower oil 1lt"},
		{ID: "c", Name: "Bread"},
	}, time.Now())

	res := r.ResolveLine(snap, 1, domain.ExtractedLineItem{Description: "sunflower oil 1l"})
	if res.Status != domain.MatchAmbiguous {
		t.Fatalf("expected ambiguous, got %+v", res)
	}
	if len(res.Candidates) < 2 || res.Candidates[0].Score != res.Candidates[1].Score {
		t.Fatalf("expected tied candidates first, got %+v", res.Candidates)
	}
	if res.ID != "" {
		t.Fatal("ambiguous result must not pick an identity")
	}
}

func TestDuplicateExactNamesAreAmbiguous(t *testing.T) {
	r := NewResolver(testConfig, nil)
	snap := catalog.NewSnapshot([]domain.CatalogEntry{
		{ID: "s1", Name: "Acme Ltd"},
		{ID: "s9", Name: "ACME LTD"},
	}, nil, time.Now())
	if res := r.ResolveSupplier(snap, "acme ltd"); res.Status != domain.MatchAmbiguous || len(res.Candidates) != 2 {
		t.Fatalf("expected ambiguous, got %+v", res)
	}
}

func TestUnresolvedSuggestionsAreCapped(t *testing.T) {
	var products []domain.CatalogEntry
	for i := 0; i < 12; i++ {
		products = append(products, domain.CatalogEntry{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Item %d", i)})
	}
	snap := catalog.NewSnapshot(nil, products, time.Now())
	r := NewResolver(testConfig, nil)

	res := r.ResolveLine(snap, 0, domain.ExtractedLineItem{Description: "completely different"})
	if res.Status != domain.MatchUnresolved || len(res.Candidates) != defaultMaxSuggestions {
		t.Fatalf("expected %d suggestions, got %+v", defaultMaxSuggestions, res)
	}
	for i := 1; i < len(res.Candidates); i++ {
		if res.Candidates[i].Score > res.Candidates[i-1].Score {
			t.Fatalf("suggestions not ranked: %+v", res.Candidates)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Acme Ltd", "ltd ACME"); got != 1 {
		t.Fatalf("token order should not matter, got %v", got)
	}
	if got := Similarity("", "x"); got != 0 {
		t.Fatalf("empty label must score 0, got %v", got)
	}
	if got := Similarity("milk", "milk"); got != 1 {
		t.Fatalf("identical labels must score 1, got %v", got)
	}
	if got := Similarity("milk 1l", "milk 2l"); got >= 0.90 {
		t.Fatalf("different volumes must stay below product threshold, got %v", got)
	}
}

// TestProperty_BarcodeAlwaysWins verifies that a line carrying a catalog
// barcode resolves to that product whatever its label says.
func TestProperty_BarcodeAlwaysWins(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		products := make([]domain.CatalogEntry, n)
		for i := range products {
			products[i] = domain.CatalogEntry{
				ID:      fmt.Sprintf("p%d", i),
				Name:    rapid.StringMatching(`[a-z ]{0,12}`).Draw(rt, "name"),
				Barcode: fmt.Sprintf("48200000%05d", i),
			}
		}
		pick := rapid.IntRange(0, n-1).Draw(rt, "pick")
		label := rapid.StringMatching(`[a-zA-Z0-9 ]{0,20}`).Draw(rt, "label")

		r := NewResolver(testConfig, mapSynonyms{"product|" + domain.NormalizeLabel(label): "p0"})
		res := r.ResolveLine(catalog.NewSnapshot(nil, products, time.Now()), 0, domain.ExtractedLineItem{
			Description: label,
			Barcode:     products[pick].Barcode,
		})
		if res.Method != domain.MethodBarcode || res.ID != products[pick].ID {
			rt.Fatalf("expected barcode match on %s, got %+v", products[pick].ID, res)
		}
	})
}

// TestProperty_FuzzyRespectsThresholdAndMargin verifies that fuzzy matching
// never accepts a score below threshold and never picks between near ties.
func TestProperty_FuzzyRespectsThresholdAndMargin(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := Config{
			SupplierThreshold: rapid.Float64Range(0.5, 1).Draw(rt, "supplier_threshold"),
			ProductThreshold:  rapid.Float64Range(0.3, 1).Draw(rt, "product_threshold"),
			TieMargin:         rapid.Float64Range(0, 0.1).Draw(rt, "margin"),
		}
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		products := make([]domain.CatalogEntry, n)
		for i := range products {
			products[i] = domain.CatalogEntry{ID: fmt.Sprintf("p%d", i), Name: rapid.StringMatching(`[ab]{1,6}( [ab]{1,3})?`).Draw(rt, "name")}
		}
		label := rapid.StringMatching(`[ab]{1,6}( [ab]{1,3})?`).Draw(rt, "label")

		r := NewResolver(cfg, nil)
		res := r.ResolveLine(catalog.NewSnapshot(nil, products, time.Now()), 0, domain.ExtractedLineItem{Description: label})

		switch res.Status {
		case domain.MatchResolved:
			if res.Score < cfg.ProductThreshold {
				rt.Fatalf("accepted score %v below threshold %v", res.Score, cfg.ProductThreshold)
			}
			if res.Score == 1 {
				return
			}
			for _, p := range products {
				if p.ID == res.ID {
					continue
				}
				if s := Similarity(label, p.Name); res.Score-s <= cfg.TieMargin {
					rt.Fatalf("picked %s (%v) over near tie %s (%v)", res.ID, res.Score, p.ID, s)
				}
			}
		case domain.MatchAmbiguous:
			if len(res.Candidates) < 2 || res.Candidates[0].Score-res.Candidates[1].Score > cfg.TieMargin {
				rt.Fatalf("ambiguous without a near tie: %+v", res.Candidates)
			}
		case domain.MatchUnresolved:
			if len(res.Candidates) > 0 && res.Candidates[0].Score >= cfg.ProductThreshold {
				rt.Fatalf("unresolved although best %v meets threshold %v", res.Candidates[0].Score, cfg.ProductThreshold)
			}
		}
	})
}

// TestProperty_SynonymIsDeterministic verifies that a confirmed synonym
// resolves the same way on every run, without fuzzy scoring.
func TestProperty_SynonymIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		label := rapid.StringMatching(`[a-z]{1,8}( [a-z]{1,8})?`).Draw(rt, "label")
		snap := testSnapshot()
		target := rapid.SampledFrom([]string{"p1", "p2", "p3"}).Draw(rt, "target")
		r := NewResolver(testConfig, mapSynonyms{"product|" + label: target})
		r.score = func(a, b string) float64 {
			rt.Fatalf("fuzzy scoring used for a synonym hit")
			return 0
		}
		for i := 0; i < 3; i++ {
			res := r.ResolveLine(snap, i, domain.ExtractedLineItem{Description: label})
			if res.Method != domain.MethodSynonym || res.ID != target || res.Score != 1 {
				rt.Fatalf("run %d: got %+v", i, res)
			}
		}
	})
}
