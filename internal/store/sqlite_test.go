package store

import (
	"path/filepath"
	"testing"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), "")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	store := openSQLite(t)
	ledger, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ledger.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ledger.Len())
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := openSQLite(t)
	original := testLedger(t)

	if err := store.Save(original); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := loaded.Transactions()
	want := original.Transactions()
	if len(got) != len(want) {
		t.Fatalf("Len() = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transaction %d = %+v, want %+v (order and fields must survive)", i, got[i], want[i])
		}
	}
}

func TestSQLiteStore_SaveReplacesPreviousState(t *testing.T) {
	store := openSQLite(t)

	if err := store.Save(testLedger(t)); err != nil {
		t.Fatal(err)
	}

	smaller := domain.NewLedger()
	if err := smaller.Add(domain.Transaction{
		ID: "only", Date: "2025-04-01", Month: "2025-04",
		Label: "SINGLE ROW", Amount: -1, Category: "Divers",
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(smaller); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 1 || !loaded.Contains("only") {
		t.Errorf("Len() = %d, want 1 (save must rewrite, not append)", loaded.Len())
	}
}

func TestSQLiteStore_MigratesLegacyCategories(t *testing.T) {
	store := openSQLite(t)

	legacy := domain.NewLedger()
	if err := legacy.Add(domain.Transaction{
		ID: "old", Date: "2025-03-10", Month: "2025-03",
		Label: "VIR LIVRET A", Amount: -1200, Category: "💰 Mouvement interne",
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(legacy); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Transactions()[0].Category; got != domain.CategoryInternal {
		t.Errorf("Category = %q, want %q", got, domain.CategoryInternal)
	}
}

func TestSQLiteStore_SaveNilLedger(t *testing.T) {
	store := openSQLite(t)
	if err := store.Save(nil); !isPersistenceError(err) {
		t.Errorf("Save(nil) error = %v, want *PersistenceError", err)
	}
}
