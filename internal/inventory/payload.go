package inventory

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"supplybot/internal/domain"
)

// flexString accepts ids and codes sent either as JSON strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type rawEntry struct {
	ID           flexString `json:"id"`
	SupplierID   flexString `json:"supplier_id"`
	ProductID    flexString `json:"product_id"`
	Name         string     `json:"name"`
	SupplierName string     `json:"supplier_name"`
	ProductName  string     `json:"product_name"`
	Barcode      flexString `json:"barcode"`
	SKU          flexString `json:"sku"`
	ProductCode  flexString `json:"product_code"`
	Unit         string     `json:"unit"`
	Price        flexString `json:"price"`
}

func (r rawEntry) entry() domain.CatalogEntry {
	e := domain.CatalogEntry{
		ID:      firstNonEmpty(string(r.SupplierID), string(r.ProductID), string(r.ID)),
		Name:    strings.TrimSpace(firstNonEmpty(r.Name, r.SupplierName, r.ProductName)),
		Barcode: string(r.Barcode),
		SKU:     firstNonEmpty(string(r.SKU), string(r.ProductCode)),
		Unit:    strings.TrimSpace(r.Unit),
	}
	if p, err := decimal.NewFromString(string(r.Price)); err == nil {
		e.UnitPrice = decimal.NewNullDecimal(p)
	}
	return e
}

// decodeEntries reads either a bare list or an object holding the list under
// one of listKeys. Entries without id or name are dropped.
func decodeEntries(data json.RawMessage, listKeys ...string) ([]domain.CatalogEntry, error) {
	data = bytes.TrimSpace(data)
	var raws []rawEntry
	if len(data) > 0 && data[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		for _, k := range listKeys {
			if v, ok := obj[k]; ok {
				if err := json.Unmarshal(v, &raws); err != nil {
					return nil, err
				}
				break
			}
		}
	} else if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	out := make([]domain.CatalogEntry, 0, len(raws))
	for _, r := range raws {
		e := r.entry()
		if e.ID == "" || e.Name == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func supplyDate(date string) string {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	return date + " 12:00:00"
}

func (c *Client) storagePayload(s domain.Supply) map[string]any {
	block := map[string]any{"date": supplyDate(s.Date)}
	if s.SupplierID != "" {
		block["supplier_id"] = s.SupplierID
	} else if s.SupplierName != "" {
		block["supplier_name"] = s.SupplierName
	}
	if c.storageID != "" {
		if n, err := strconv.Atoi(c.storageID); err == nil {
			block["storage_id"] = n
		} else {
			block["storage_id"] = c.storageID
		}
	}

	ingredients := make([]map[string]any, 0, len(s.Lines))
	for _, l := range s.Lines {
		row := map[string]any{
			"name":  l.Name,
			"num":   number(l.Quantity),
			"price": number(l.UnitPrice),
		}
		if l.ProductID != "" {
			row["id"] = l.ProductID
		}
		if l.TaxRate.Valid {
			row["tax"] = number(l.TaxRate.Decimal)
		}
		ingredients = append(ingredients, row)
	}

	return map[string]any{
		"supply":     block,
		"ingredient": ingredients,
		"invoice": map[string]any{
			"number":   s.Number,
			"currency": s.Currency,
		},
	}
}

func genericPayload(s domain.Supply) map[string]any {
	items := make([]map[string]any, 0, len(s.Lines))
	for _, l := range s.Lines {
		item := map[string]any{
			"product_name": l.Name,
			"quantity":     number(l.Quantity),
			"price":        number(l.UnitPrice),
		}
		if l.ProductID != "" {
			item["product_id"] = l.ProductID
		}
		if l.TaxRate.Valid {
			item["tax"] = number(l.TaxRate.Decimal)
		}
		items = append(items, item)
	}
	payload := map[string]any{
		"invoice_number": s.Number,
		"invoice_date":   supplyDate(s.Date)[:10],
		"currency":       s.Currency,
		"items":          items,
		"comment":        "Created by supplybot",
	}
	if s.SupplierID != "" {
		payload["supplier_id"] = s.SupplierID
	} else {
		payload["supplier_name"] = s.SupplierName
	}
	return payload
}

// supplyIDFrom pulls the created record id out of a create response. The
// service answers with an object or a one-element list depending on method.
func supplyIDFrom(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	var obj struct {
		SupplyID flexString `json:"supply_id"`
		ID       flexString `json:"id"`
		Number   flexString `json:"number"`
	}
	if len(data) > 0 && data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
			data = list[0]
		}
	}
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &obj); err == nil {
			if id := firstNonEmpty(string(obj.SupplyID), string(obj.ID), string(obj.Number)); id != "" {
				return id
			}
		}
	}
	var scalar flexString
	if err := json.Unmarshal(data, &scalar); err == nil && scalar != "" {
		return string(scalar)
	}
	return "unknown"
}
