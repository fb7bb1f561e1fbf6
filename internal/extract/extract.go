package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"supplybot/internal/domain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNoTextExtractor   = errors.New("no text extractor configured")
)

// Extractor picks a decoding route by file extension.
type Extractor struct {
	llm      *LLMExtractor
	currency string
}

// New returns an Extractor. llm may be nil, in which case plain-text
// documents are refused.
func New(defaultCurrency string, llm *LLMExtractor) *Extractor {
	return &Extractor{llm: llm, currency: defaultCurrency}
}

// FromFile decodes one uploaded or local file.
func (e *Extractor) FromFile(ctx context.Context, name string, data []byte, header SheetHeader) (domain.ExtractedDocument, error) {
	switch ext := strings.ToLower(fileExt(name)); ext {
	case ".json":
		return Decode(data, e.currency)
	case ".xlsx", ".csv":
		return FromSpreadsheet(name, data, header, e.currency)
	case ".txt", ".text", ".md", ".eml", "":
		if !utf8.Valid(data) {
			return domain.ExtractedDocument{}, fmt.Errorf("%w: %s is not text", ErrUnsupportedFormat, name)
		}
		if e.llm == nil {
			return domain.ExtractedDocument{}, ErrNoTextExtractor
		}
		return e.llm.Extract(ctx, string(data))
	default:
		return domain.ExtractedDocument{}, fmt.Errorf("%w: %s (send text, json, csv or xlsx)", ErrUnsupportedFormat, ext)
	}
}

func fileExt(name string) string {
	return filepath.Ext(strings.TrimSpace(name))
}
