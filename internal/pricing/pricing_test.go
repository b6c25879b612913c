package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestStatic(t *testing.T) {
	source := NewStatic(map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(1),
		"PAXG": decimal.NewFromInt(2000),
	})

	price, err := source.Price("PAXG")
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected price 2000, got %s", price.String())
	}

	source.SetPrice("PAXG", decimal.NewFromInt(2100))
	price, err = source.Price("PAXG")
	if err != nil {
		t.Fatalf("Price after update failed: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(2100)) {
		t.Errorf("Expected price 2100, got %s", price.String())
	}
}

func TestStatic_UnknownAsset(t *testing.T) {
	source := NewStatic(nil)

	_, err := source.Price("SDAI")
	if !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("Expected ErrUnknownAsset, got: %v", err)
	}
}

func TestStatic_SnapshotIsCopy(t *testing.T) {
	source := NewStatic(map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(1),
	})

	snapshot := source.Snapshot()
	snapshot["USDC"] = decimal.NewFromInt(2)

	price, err := source.Price("USDC")
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected snapshot mutation not to leak, got %s", price.String())
	}
}
