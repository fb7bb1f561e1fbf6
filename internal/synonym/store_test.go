package synonym

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"supplybot/internal/domain"
	"supplybot/internal/logx"
	"supplybot/internal/storage/sqlite"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "synonyms.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, logx.Discard()), db
}

func TestConfirmThenLookupNormalizes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok := s.Lookup(domain.KindProduct, "Mlk 1L"); ok {
		t.Fatal("expected miss before confirmation")
	}
	if err := s.Confirm(ctx, domain.KindProduct, "  MLK   1l ", "p1", "U1"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	for _, label := range []string{"mlk 1l", "Mlk 1L", "MLK\t1L"} {
		id, ok := s.Lookup(domain.KindProduct, label)
		if !ok || id != "p1" {
			t.Fatalf("Lookup(%q) = %q, %v", label, id, ok)
		}
	}
	if _, ok := s.Lookup(domain.KindSupplier, "mlk 1l"); ok {
		t.Fatal("synonyms must be scoped by kind")
	}
}

func TestConfirmOverwritesAndSurvivesReload(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	if err := s.Confirm(ctx, domain.KindSupplier, "Acme", "s1", "U1"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := s.Confirm(ctx, domain.KindSupplier, "acme", "s2", "U2"); err != nil {
		t.Fatalf("Confirm overwrite failed: %v", err)
	}

	reloaded := New(db, logx.Discard())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	id, ok := reloaded.Lookup(domain.KindSupplier, "ACME")
	if !ok || id != "s2" {
		t.Fatalf("expected s2 after reload, got %q, %v", id, ok)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", reloaded.Len())
	}
}

func TestConfirmRejectsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Confirm(context.Background(), domain.KindProduct, "   ", "p1", ""); err == nil {
		t.Fatal("expected error for empty label")
	}
	if err := s.Confirm(context.Background(), domain.KindProduct, "milk", " ", ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestConcurrentReadsDuringConfirm(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Confirm(ctx, domain.KindProduct, "bread", "p-bread", ""); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if id, ok := s.Lookup(domain.KindProduct, "bread"); !ok || id != "p-bread" {
					t.Errorf("Lookup during writes = %q, %v", id, ok)
					return
				}
			}
		}()
	}
	labels := []string{"butter", "cheese", "eggs", "flour"}
	for _, l := range labels {
		if err := s.Confirm(ctx, domain.KindProduct, l, "p-"+l, ""); err != nil {
			t.Fatalf("Confirm %s failed: %v", l, err)
		}
	}
	wg.Wait()

	entries := s.Entries()
	if len(entries) != 5 || entries[0].Label != "bread" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
