package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const validRegistry = `
stable_class: stable_yield
classes:
  - key: stable_yield
    name: Stable Yield
    asset: USDC
    price_usd: "1"
  - key: gold
    name: Tokenized Gold
    asset: PAXG
    price_usd: "2000"
  - key: crypto
    name: Crypto
    asset: WETH
    price_usd: "2500"
models:
  - key: balanced
    name: Balanced
    targets:
      stable_yield: "40"
      gold: "30"
      crypto: "30"
  - key: conservative
    name: Conservative
    targets:
      stable_yield: "70"
      gold: "30"
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(validRegistry))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if reg.StableClass() != "stable_yield" {
		t.Errorf("Expected stable class stable_yield, got %s", reg.StableClass())
	}
	if reg.StableAsset() != "USDC" {
		t.Errorf("Expected stable asset USDC, got %s", reg.StableAsset())
	}
	if len(reg.Classes()) != 3 {
		t.Errorf("Expected 3 classes, got %d", len(reg.Classes()))
	}

	asset, err := reg.AssetFor("gold")
	if err != nil {
		t.Fatalf("AssetFor failed: %v", err)
	}
	if asset != "PAXG" {
		t.Errorf("Expected PAXG for gold, got %s", asset)
	}

	targets, err := reg.Model("balanced")
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	if !targets["stable_yield"].Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected stable_yield target 40, got %s", targets["stable_yield"].String())
	}

	prices := reg.Prices()
	if !prices["PAXG"].Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected PAXG price 2000, got %s", prices["PAXG"].String())
	}

	keys := reg.ModelKeys()
	if len(keys) != 2 || keys[0] != "balanced" || keys[1] != "conservative" {
		t.Errorf("Expected sorted model keys [balanced conservative], got %v", keys)
	}
}

func TestParse_TargetsMustSumTo100(t *testing.T) {
	bad := strings.Replace(validRegistry, `stable_yield: "70"`, `stable_yield: "60"`, 1)
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("Expected error for targets not summing to 100")
	}
	if !strings.Contains(err.Error(), "sum") {
		t.Errorf("Expected sum error, got: %v", err)
	}
}

func TestParse_UnknownTargetClass(t *testing.T) {
	bad := strings.Replace(validRegistry, "gold: \"30\"\n      crypto", "bonds: \"30\"\n      crypto", 1)
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("Expected error for unknown target class")
	}
}

func TestParse_StableClassMustBeDeclared(t *testing.T) {
	bad := strings.Replace(validRegistry, "stable_class: stable_yield", "stable_class: cash", 1)
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("Expected error for undeclared stable class")
	}
}

func TestParse_DuplicateClassKey(t *testing.T) {
	bad := strings.Replace(validRegistry, "key: gold", "key: stable_yield", 1)
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("Expected error for duplicate class key")
	}
}

func TestModel_Unknown(t *testing.T) {
	reg, err := Parse([]byte(validRegistry))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if _, err := reg.Model("aggressive"); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(validRegistry), 0o644); err != nil {
		t.Fatalf("Failed to write registry file: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reg.StableClass() != "stable_yield" {
		t.Errorf("Expected stable class stable_yield, got %s", reg.StableClass())
	}
}
