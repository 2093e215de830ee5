package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config failed Validate: %v", err)
	}
}

func TestValidateRejectsBadEnums(t *testing.T) {
	cfg := Default()
	cfg.BuyPrice = "vwap"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid buy_price")
	}

	cfg = Default()
	cfg.WeightMethod = "momentum"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid weight_method")
	}

	cfg = Default()
	cfg.Universe = "sme"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid universe")
	}

	cfg = Default()
	cfg.TopN = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive top_n")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.TopN = 8
	cfg.InitialCapital = 1_000_000
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TopN != 8 || loaded.InitialCapital != 1_000_000 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadMissingFieldsFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"top_n": 3}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TopN != 3 {
		t.Fatalf("top_n = %d, want 3", cfg.TopN)
	}
	if cfg.RebalanceFreq != Default().RebalanceFreq {
		t.Fatalf("rebalance_freq should fall back to default, got %d", cfg.RebalanceFreq)
	}
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	a := Default()
	b := Default()
	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	fb, err := b.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if fa != fb {
		t.Fatal("identical configs should fingerprint identically")
	}
	b.TopN = a.TopN + 1
	fb2, err := b.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	if fa == fb2 {
		t.Fatal("differing configs should not fingerprint identically")
	}
}
