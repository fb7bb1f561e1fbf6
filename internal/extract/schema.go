package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"supplybot/internal/domain"
)

// ErrInvalidDocument wraps every rejection at the extraction boundary.
var ErrInvalidDocument = errors.New("invalid extracted document")

// ValidationError lists the offending fields by their JSON path.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// wireText accepts a JSON string, a number or null. Extractors are not
// consistent about quoting barcodes and invoice numbers.
type wireText string

func (t *wireText) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*t = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*t = wireText(strings.TrimSpace(str))
	default:
		*t = wireText(s)
	}
	return nil
}

// wireNumber accepts a JSON number, a numeric string ("1 234,50") or null.
type wireNumber struct {
	decimal.NullDecimal
}

func (n *wireNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		n.Valid = false
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = str
	}
	if strings.TrimSpace(s) == "" {
		n.Valid = false
		return nil
	}
	d, err := parseAmount(s)
	if err != nil {
		return err
	}
	n.NullDecimal = decimal.NewNullDecimal(d)
	return nil
}

// parseAmount reads numbers written with a decimal comma or with spaces as
// thousand separators.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if strings.Contains(s, ",") {
		if strings.Contains(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number: %q", s)
	}
	return d, nil
}

type wireItem struct {
	Name      wireText   `json:"name"`
	SKU       wireText   `json:"sku"`
	Barcode   wireText   `json:"barcode"`
	Quantity  wireNumber `json:"quantity"`
	UOM       wireText   `json:"uom"`
	Price     wireNumber `json:"price"`
	Tax       wireNumber `json:"tax"`
	LineTotal wireNumber `json:"line_total"`
}

type wireDocument struct {
	Supplier      wireText   `json:"supplier"`
	InvoiceNumber wireText   `json:"invoice_number"`
	InvoiceDate   wireText   `json:"invoice_date"`
	Currency      wireText   `json:"currency"`
	Total         wireNumber `json:"total"`
	Totals        struct {
		Subtotal wireNumber `json:"subtotal"`
		Tax      wireNumber `json:"tax"`
		Total    wireNumber `json:"total"`
	} `json:"totals"`
	Items []wireItem `json:"items"`
}

// Decode parses extractor JSON into a validated ExtractedDocument.
func Decode(data []byte, defaultCurrency string) (domain.ExtractedDocument, error) {
	var wd wireDocument
	if err := json.Unmarshal(data, &wd); err != nil {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return wd.document(defaultCurrency)
}

func (wd wireDocument) document(defaultCurrency string) (domain.ExtractedDocument, error) {
	doc := domain.ExtractedDocument{
		SupplierLabel: string(wd.Supplier),
		Number:        string(wd.InvoiceNumber),
		Date:          normalizeDate(string(wd.InvoiceDate)),
		Currency:      strings.ToUpper(string(wd.Currency)),
		DeclaredTotal: wd.Total.NullDecimal,
	}
	if !doc.DeclaredTotal.Valid {
		doc.DeclaredTotal = wd.Totals.Total.NullDecimal
	}
	if doc.Currency == "" {
		doc.Currency = strings.ToUpper(defaultCurrency)
	}

	for _, it := range wd.Items {
		if it.Name == "" && it.Barcode == "" && it.SKU == "" {
			continue
		}
		item := domain.ExtractedLineItem{
			Description: string(it.Name),
			Barcode:     string(it.Barcode),
			SKU:         string(it.SKU),
			Unit:        string(it.UOM),
			Quantity:    it.Quantity.Decimal,
			UnitPrice:   it.Price.Decimal,
			LineTotal:   it.LineTotal.NullDecimal,
			TaxRate:     it.Tax.NullDecimal,
		}
		if !it.Price.Valid && it.LineTotal.Valid && it.Quantity.Valid && !it.Quantity.Decimal.IsZero() {
			item.UnitPrice = it.LineTotal.Decimal.DivRound(it.Quantity.Decimal, 6)
		}
		doc.Items = append(doc.Items, item)
	}

	if err := Validate(doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// Validate checks doc against the boundary schema. Nothing past the
// extraction boundary re-checks these rules.
func Validate(doc domain.ExtractedDocument) error {
	fields := map[string]string{}
	if err := validate.Struct(doc); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		for _, fe := range ve {
			ns := fe.Namespace()
			if i := strings.Index(ns, "."); i >= 0 {
				ns = ns[i+1:]
			}
			fields[ns] = fe.Tag()
		}
	}
	for i, it := range doc.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if !it.Quantity.IsPositive() {
			fields[prefix+"quantity"] = "gt=0"
		}
		if it.UnitPrice.IsNegative() {
			fields[prefix+"price"] = "gte=0"
		}
		if it.TaxRate.Valid && (it.TaxRate.Decimal.IsNegative() || it.TaxRate.Decimal.GreaterThan(decimal.NewFromInt(100))) {
			fields[prefix+"tax"] = "range=0..100"
		}
	}
	if doc.DeclaredTotal.Valid && doc.DeclaredTotal.Decimal.IsNegative() {
		fields["total"] = "gte=0"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", "2006-1-2", "02-01-2006", "2-1-2006"}

// normalizeDate brings dotted, slashed and day-first dates to YYYY-MM-DD.
// Unparseable input is returned as is and fails validation later.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(".", "-", "/", "-").Replace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, r); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
