package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"supplybot/internal/domain"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"process"}, {"synonyms", "list"}, {"audit", "recent"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not found: %v", path, err)
		}
	}
	process, _, _ := root.Find([]string{"process"})
	for _, flag := range []string{"supplier", "number", "date", "total"} {
		if process.Flags().Lookup(flag) == nil {
			t.Fatalf("process is missing --%s", flag)
		}
	}
}

func TestProcessRequiresOneFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"process"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an argument error")
	}
}

func TestWriteAudit(t *testing.T) {
	var buf bytes.Buffer
	err := writeAudit(&buf, []domain.AuditRecord{{
		Document:    domain.ExtractedDocument{SupplierLabel: "Acme Ltd", Number: "INV-42"},
		Disposition: domain.DispositionSubmitted,
		SupplyID:    "991",
		FinishedAt:  time.Date(2024, 1, 5, 12, 30, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("writeAudit failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", buf.String())
	}
	for _, want := range []string{"2024-01-05 12:30:00", "Acme Ltd", "INV-42", "submitted", "991"} {
		if !strings.Contains(lines[1], want) {
			t.Fatalf("row %q is missing %q", lines[1], want)
		}
	}
}

func TestWriteSynonyms(t *testing.T) {
	var buf bytes.Buffer
	err := writeSynonyms(&buf, []domain.SynonymEntry{{Kind: domain.KindProduct, Label: "mlk 1l", CanonicalID: "p1"}})
	if err != nil {
		t.Fatalf("writeSynonyms failed: %v", err)
	}
	if !strings.Contains(buf.String(), "product  mlk 1l") || !strings.Contains(buf.String(), "p1") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
