package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"crypto_view/internal/domain"

	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestFavorites_RoundTrip(t *testing.T) {
	s := setupTestDB(t)

	favs, err := s.LoadFavorites()
	if err != nil {
		t.Fatalf("LoadFavorites failed: %v", err)
	}
	if len(favs) != 0 {
		t.Fatalf("expected empty favorites, got %v", favs)
	}

	want := []domain.AssetID{"ethereum", "bitcoin", "solana"}
	if err := s.SaveFavorites(want); err != nil {
		t.Fatalf("SaveFavorites failed: %v", err)
	}

	got, err := s.LoadFavorites()
	if err != nil {
		t.Fatalf("LoadFavorites failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order not preserved at %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// Full rewrite, not append.
	if err := s.SaveFavorites([]domain.AssetID{"bitcoin"}); err != nil {
		t.Fatalf("SaveFavorites failed: %v", err)
	}
	got, _ = s.LoadFavorites()
	if len(got) != 1 || got[0] != "bitcoin" {
		t.Errorf("expected [bitcoin], got %v", got)
	}

	raw, ok, err := s.GetConfig(domain.FavoritesKey)
	if err != nil || !ok {
		t.Fatalf("GetConfig failed: %v %v", ok, err)
	}
	if raw != `["bitcoin"]` {
		t.Errorf("expected JSON array, got %s", raw)
	}
}

func TestFavorites_CorruptOrDuplicateEntries(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveConfig(domain.FavoritesKey, "not json"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	got, err := s.LoadFavorites()
	if err != nil || len(got) != 0 {
		t.Errorf("corrupt entry should load as empty, got %v %v", got, err)
	}

	if err := s.SaveConfig(domain.FavoritesKey, `["Bitcoin"," bitcoin ","eth",""]`); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	got, _ = s.LoadFavorites()
	if len(got) != 2 || got[0] != "bitcoin" || got[1] != "eth" {
		t.Errorf("expected normalized unique ids, got %v", got)
	}
}

func TestHoldings(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveHolding("bitcoin", decimal.RequireFromString("0.12345678")); err != nil {
		t.Fatalf("SaveHolding failed: %v", err)
	}
	if err := s.SaveHolding("ethereum", decimal.NewFromInt(3)); err != nil {
		t.Fatalf("SaveHolding failed: %v", err)
	}
	// Upsert
	if err := s.SaveHolding("ethereum", decimal.NewFromInt(5)); err != nil {
		t.Fatalf("SaveHolding update failed: %v", err)
	}

	h, err := s.LoadHoldings()
	if err != nil {
		t.Fatalf("LoadHoldings failed: %v", err)
	}
	if len(h) != 2 {
		t.Fatalf("expected 2 holdings, got %v", h)
	}
	if !h["bitcoin"].Equal(decimal.RequireFromString("0.12345678")) {
		t.Errorf("precision lost: %s", h["bitcoin"])
	}
	if !h["ethereum"].Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected upserted quantity 5, got %s", h["ethereum"])
	}

	if err := s.SaveHolding("bitcoin", decimal.Zero); err != nil {
		t.Fatalf("SaveHolding zero failed: %v", err)
	}
	h, _ = s.LoadHoldings()
	if _, ok := h["bitcoin"]; ok {
		t.Error("zero quantity should delete the row")
	}

	if err := s.SaveHolding("bitcoin", decimal.NewFromInt(-1)); !errors.Is(err, domain.ErrNegativeQuantity) {
		t.Errorf("expected ErrNegativeQuantity, got %v", err)
	}
}

func TestConfigOperations(t *testing.T) {
	s := setupTestDB(t)

	if _, ok, err := s.GetConfig("missing"); err != nil || ok {
		t.Errorf("missing key should be (false, nil), got (%v, %v)", ok, err)
	}

	if err := s.SaveConfig("theme", "dark"); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := s.SaveConfig("theme", "light"); err != nil {
		t.Fatalf("SaveConfig overwrite failed: %v", err)
	}

	m, err := s.LoadConfigMap()
	if err != nil {
		t.Fatalf("LoadConfigMap failed: %v", err)
	}
	if m["theme"] != "light" {
		t.Errorf("expected light, got %q", m["theme"])
	}
}

func TestStorageImplementsPreferenceStore(t *testing.T) {
	var _ domain.PreferenceStore = setupTestDB(t)
}
