package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractedDocument is the typed boundary produced by the extraction
// collaborator. Nothing past the boundary looks at loosely typed data.
type ExtractedDocument struct {
	SupplierLabel string              `json:"supplier"`
	Number        string              `json:"invoice_number" validate:"max=128"`
	Date          string              `json:"invoice_date" validate:"omitempty,datetime=2006-01-02"`
	Currency      string              `json:"currency" validate:"omitempty,len=3,alpha"`
	DeclaredTotal decimal.NullDecimal `json:"total"`
	Items         []ExtractedLineItem `json:"items" validate:"required,min=1,dive"`
}

type ExtractedLineItem struct {
	Description string              `json:"name" validate:"max=512"`
	Barcode     string              `json:"barcode,omitempty" validate:"omitempty,max=64"`
	SKU         string              `json:"sku,omitempty" validate:"omitempty,max=64"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Unit        string              `json:"uom,omitempty" validate:"omitempty,max=32"`
	UnitPrice   decimal.Decimal     `json:"price"`
	LineTotal   decimal.NullDecimal `json:"line_total"`
	TaxRate     decimal.NullDecimal `json:"tax"` // percent, e.g. 20 for 20%
}

type EntityKind string

const (
	KindSupplier EntityKind = "supplier"
	KindProduct  EntityKind = "product"
)

// CatalogEntry is one supplier or product as the inventory service knows it.
type CatalogEntry struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Barcode   string              `json:"barcode,omitempty"`
	SKU       string              `json:"sku,omitempty"`
	Unit      string              `json:"unit,omitempty"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
}

type SupplyLine struct {
	ProductID string              `json:"product_id,omitempty"`
	Name      string              `json:"name"`
	Quantity  decimal.Decimal     `json:"quantity"` // in the product's canonical unit
	UnitPrice decimal.Decimal     `json:"unit_price"`
	TaxRate   decimal.NullDecimal `json:"tax"`
}

// Supply is the write request sent to the inventory service.
type Supply struct {
	IdempotencyKey string       `json:"idempotency_key"`
	SupplierID     string       `json:"supplier_id,omitempty"`
	SupplierName   string       `json:"supplier_name,omitempty"`
	Number         string       `json:"number"`
	Date           string       `json:"date"`
	Currency       string       `json:"currency"`
	Lines          []SupplyLine `json:"lines"`
}

// NormalizeLabel case-folds and collapses whitespace. Synonym keys and fuzzy
// comparisons both go through it.
func NormalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
