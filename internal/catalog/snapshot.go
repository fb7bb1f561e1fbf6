package catalog

import (
	"strings"
	"time"

	"supplybot/internal/domain"
)

// Snapshot is one wholesale copy of both catalogs. It is never mutated after
// NewSnapshot returns.
type Snapshot struct {
	Suppliers []domain.CatalogEntry
	Products  []domain.CatalogEntry
	FetchedAt time.Time

	supplierByID map[string]int
	productByID  map[string]int
	byBarcode    map[string]int
	bySKU        map[string]int
}

func NewSnapshot(suppliers, products []domain.CatalogEntry, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		Suppliers:    append([]domain.CatalogEntry(nil), suppliers...),
		Products:     append([]domain.CatalogEntry(nil), products...),
		FetchedAt:    fetchedAt,
		supplierByID: make(map[string]int, len(suppliers)),
		productByID:  make(map[string]int, len(products)),
		byBarcode:    make(map[string]int),
		bySKU:        make(map[string]int),
	}
	for i, e := range s.Suppliers {
		if _, ok := s.supplierByID[e.ID]; !ok {
			s.supplierByID[e.ID] = i
		}
	}
	for i, e := range s.Products {
		if _, ok := s.productByID[e.ID]; !ok {
			s.productByID[e.ID] = i
		}
		if code := normalizeCode(e.Barcode); code != "" {
			if _, ok := s.byBarcode[code]; !ok {
				s.byBarcode[code] = i
			}
		}
		if code := normalizeCode(e.SKU); code != "" {
			if _, ok := s.bySKU[code]; !ok {
				s.bySKU[code] = i
			}
		}
	}
	return s
}

// Entries returns the catalog for kind.
func (s *Snapshot) Entries(kind domain.EntityKind) []domain.CatalogEntry {
	if s == nil {
		return nil
	}
	if kind == domain.KindSupplier {
		return s.Suppliers
	}
	return s.Products
}

func (s *Snapshot) Lookup(kind domain.EntityKind, id string) (domain.CatalogEntry, bool) {
	if s == nil {
		return domain.CatalogEntry{}, false
	}
	idx := s.productByID
	entries := s.Products
	if kind == domain.KindSupplier {
		idx = s.supplierByID
		entries = s.Suppliers
	}
	i, ok := idx[id]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return entries[i], true
}

func (s *Snapshot) ProductByBarcode(code string) (domain.CatalogEntry, bool) {
	return s.productByCode(s.byBarcode, code)
}

func (s *Snapshot) ProductBySKU(code string) (domain.CatalogEntry, bool) {
	return s.productByCode(s.bySKU, code)
}

func (s *Snapshot) productByCode(idx map[string]int, code string) (domain.CatalogEntry, bool) {
	if s == nil {
		return domain.CatalogEntry{}, false
	}
	code = normalizeCode(code)
	if code == "" {
		return domain.CatalogEntry{}, false
	}
	i, ok := idx[code]
	if !ok {
		return domain.CatalogEntry{}, false
	}
	return s.Products[i], true
}

// normalizeCode trims and upper-cases barcodes and SKUs; codes are otherwise
// compared exactly.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
