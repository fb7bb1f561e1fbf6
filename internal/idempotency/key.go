package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"supplybot/internal/domain"
)

// Fingerprint hashes the normalized (supplier, number, date, total) tuple.
// The scope prefix keeps keys built from a raw label apart from keys built
// from a resolved supplier id.
func Fingerprint(scope, supplier, number, date string, total decimal.NullDecimal) string {
	t := ""
	if total.Valid {
		t = total.Decimal.String()
	}
	raw := strings.Join([]string{
		scope,
		domain.NormalizeLabel(supplier),
		domain.NormalizeLabel(number),
		strings.TrimSpace(date),
		t,
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LabelKey is known before matching and is always checked.
func LabelKey(doc domain.ExtractedDocument) string {
	return Fingerprint("label", doc.SupplierLabel, doc.Number, doc.Date, doc.DeclaredTotal)
}

// SupplierKey catches the same invoice arriving with a differently spelled
// supplier label once the supplier id is known.
func SupplierKey(doc domain.ExtractedDocument, supplierID string) string {
	return Fingerprint("id", supplierID, doc.Number, doc.Date, doc.DeclaredTotal)
}
