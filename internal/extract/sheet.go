package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"supplybot/internal/domain"
)

// SheetHeader carries document fields a spreadsheet has no place for.
type SheetHeader struct {
	Supplier string
	Number   string
	Date     string
	Total    string
}

// columnHints are tried in order; each header cell is claimed by the first
// field whose hint it contains.
var columnHints = []struct {
	field string
	hints []string
}{
	{"barcode", []string{"barcode", "ean", "штрих"}},
	{"sku", []string{"sku", "артикул", "code", "код"}},
	{"quantity", []string{"qty", "quantity", "кільк", "к-сть"}},
	{"line_total", []string{"line total", "amount", "sum", "сума"}},
	{"price", []string{"price", "ціна"}},
	{"tax", []string{"tax", "vat", "пдв"}},
	{"uom", []string{"uom", "unit", "од"}},
	{"name", []string{"name", "description", "товар", "опис", "найменування"}},
}

// FromSpreadsheet reads line items from the first sheet of an .xlsx workbook
// or from a .csv file. The first row must be a header.
func FromSpreadsheet(name string, data []byte, header SheetHeader, defaultCurrency string) (domain.ExtractedDocument, error) {
	rows, err := readRows(name, data)
	if err != nil {
		return domain.ExtractedDocument{}, err
	}
	if len(rows) < 2 {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: %s has no data rows", ErrInvalidDocument, name)
	}

	cols := mapColumns(rows[0])
	if _, ok := cols["name"]; !ok {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: no product name column in %s", ErrInvalidDocument, name)
	}
	if _, ok := cols["quantity"]; !ok {
		return domain.ExtractedDocument{}, fmt.Errorf("%w: no quantity column in %s", ErrInvalidDocument, name)
	}

	wd := wireDocument{
		Supplier:      wireText(strings.TrimSpace(header.Supplier)),
		InvoiceNumber: wireText(strings.TrimSpace(header.Number)),
		InvoiceDate:   wireText(strings.TrimSpace(header.Date)),
	}
	if strings.TrimSpace(header.Total) != "" {
		d, err := parseAmount(header.Total)
		if err != nil {
			return domain.ExtractedDocument{}, fmt.Errorf("%w: total: %v", ErrInvalidDocument, err)
		}
		wd.Total = wireNumber{decimal.NewNullDecimal(d)}
	}

	for i, row := range rows[1:] {
		cell := func(field string) string {
			idx, ok := cols[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		item := wireItem{
			Name:    wireText(cell("name")),
			SKU:     wireText(cell("sku")),
			Barcode: wireText(cell("barcode")),
			UOM:     wireText(cell("uom")),
		}
		if item.Name == "" {
			continue
		}
		for field, dst := range map[string]*wireNumber{
			"quantity":   &item.Quantity,
			"price":      &item.Price,
			"tax":        &item.Tax,
			"line_total": &item.LineTotal,
		} {
			raw := strings.TrimSuffix(cell(field), "%")
			if raw == "" {
				continue
			}
			d, err := parseAmount(raw)
			if err != nil {
				return domain.ExtractedDocument{}, fmt.Errorf("%w: row %d %s: %v", ErrInvalidDocument, i+2, field, err)
			}
			dst.NullDecimal = decimal.NewNullDecimal(d)
		}
		wd.Items = append(wd.Items, item)
	}
	return wd.document(defaultCurrency)
}

func readRows(name string, data []byte) ([][]string, error) {
	switch strings.ToLower(fileExt(name)) {
	case ".xlsx":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open workbook %s: %w", name, err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook %s has no sheets", ErrInvalidDocument, name)
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
		}
		return rows, nil
	case ".csv":
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		r.Comma = sniffDelimiter(data)
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read csv %s: %w", name, err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// sniffDelimiter picks ';' when the header row uses it more than ','.
// Spreadsheet exports with a decimal comma do that.
func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		return ';'
	}
	return ','
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for idx, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
	hints:
		for _, c := range columnHints {
			if _, taken := cols[c.field]; taken {
				continue
			}
			for _, hint := range c.hints {
				if strings.Contains(h, hint) {
					cols[c.field] = idx
					break hints
				}
			}
		}
	}
	return cols
}
