package rebalance

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

type staticResolver map[string]string

func (r staticResolver) AssetFor(classKey string) (string, error) {
	asset, ok := r[classKey]
	if !ok {
		return "", fmt.Errorf("unknown class %q", classKey)
	}
	return asset, nil
}

func testCalculator() *Calculator {
	return NewCalculator(staticResolver{
		"stable_yield": "USDC",
		"gold":         "PAXG",
		"crypto":       "WETH",
		"defi_yield":   "SDAI",
	})
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func allocation(pairs map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for classKey, value := range pairs {
		out[classKey] = dec(value)
	}
	return out
}

func assertInstruction(t *testing.T, got SwapInstruction, fromClass, toClass, amount string) {
	t.Helper()
	if got.FromClass != fromClass {
		t.Errorf("Expected from class %s, got %s", fromClass, got.FromClass)
	}
	if got.ToClass != toClass {
		t.Errorf("Expected to class %s, got %s", toClass, got.ToClass)
	}
	if !got.UsdAmount.Equal(dec(amount)) {
		t.Errorf("Expected amount %s, got %s", amount, got.UsdAmount.String())
	}
}

func TestDrift(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "60", "gold": "40"})
	target := allocation(map[string]string{"stable_yield": "50", "gold": "50"})

	if drift := Drift(current, target); !drift.Equal(dec("20")) {
		t.Errorf("Expected drift 20, got %s", drift.String())
	}
}

func TestDrift_CountsMissingClasses(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "100"})
	target := allocation(map[string]string{"stable_yield": "40", "gold": "30", "crypto": "30"})

	if drift := Drift(current, target); !drift.Equal(dec("120")) {
		t.Errorf("Expected drift 120, got %s", drift.String())
	}
}

func TestNeedsRebalance(t *testing.T) {
	target := allocation(map[string]string{"stable_yield": "50", "gold": "50"})

	balanced := allocation(map[string]string{"stable_yield": "50", "gold": "50"})
	if NeedsRebalance(balanced, target) {
		t.Error("Expected no rebalance for matching allocations")
	}

	// Drift of exactly 5 points sits on the threshold and does not trigger.
	onThreshold := allocation(map[string]string{"stable_yield": "52.5", "gold": "47.5"})
	if NeedsRebalance(onThreshold, target) {
		t.Error("Expected no rebalance at exactly 5 points of drift")
	}

	drifted := allocation(map[string]string{"stable_yield": "60", "gold": "40"})
	if !NeedsRebalance(drifted, target) {
		t.Error("Expected rebalance at 20 points of drift")
	}
}

func TestCalculate_BelowThresholdSkipsSwaps(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "52", "gold": "48"})
	target := allocation(map[string]string{"stable_yield": "50", "gold": "50"})
	balances := allocation(map[string]string{"stable_yield": "520", "gold": "480"})

	plan, err := testCalculator().Calculate(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if plan.NeedsRebalance {
		t.Error("Expected needsRebalance false")
	}
	if !plan.Drift.Equal(dec("4")) {
		t.Errorf("Expected drift 4, got %s", plan.Drift.String())
	}
	if len(plan.Swaps) != 0 {
		t.Errorf("Expected no swaps, got %d", len(plan.Swaps))
	}
	if !plan.TotalSwapValue.IsZero() {
		t.Errorf("Expected zero swap value, got %s", plan.TotalSwapValue.String())
	}
}

func TestCalculate_SingleSwap(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "60", "gold": "40"})
	target := allocation(map[string]string{"stable_yield": "50", "gold": "50"})
	balances := allocation(map[string]string{"stable_yield": "600", "gold": "400"})

	plan, err := testCalculator().Calculate(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if !plan.NeedsRebalance {
		t.Fatal("Expected needsRebalance true")
	}
	if len(plan.Swaps) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(plan.Swaps))
	}
	assertInstruction(t, plan.Swaps[0], "stable_yield", "gold", "100")
	if plan.Swaps[0].FromAsset != "USDC" || plan.Swaps[0].ToAsset != "PAXG" {
		t.Errorf("Expected USDC -> PAXG, got %s -> %s", plan.Swaps[0].FromAsset, plan.Swaps[0].ToAsset)
	}
	if !plan.TotalSwapValue.Equal(dec("100")) {
		t.Errorf("Expected total swap value 100, got %s", plan.TotalSwapValue.String())
	}
}

func TestRequiredSwaps_KeepsOneDollarFragment(t *testing.T) {
	// The stable source sheds $5 into deficits of $4 and $1.50, leaving a
	// final $1.00 fragment that sits exactly on the dust line and is kept.
	current := allocation(map[string]string{"stable_yield": "50.5", "gold": "29.6", "crypto": "19.85"})
	target := allocation(map[string]string{"stable_yield": "50", "gold": "30", "crypto": "20"})
	balances := allocation(map[string]string{"stable_yield": "505", "gold": "296", "crypto": "198.5"})

	swaps, err := testCalculator().RequiredSwaps(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("RequiredSwaps failed: %v", err)
	}

	if len(swaps) != 2 {
		t.Fatalf("Expected 2 swaps, got %d", len(swaps))
	}
	assertInstruction(t, swaps[0], "stable_yield", "gold", "4")
	assertInstruction(t, swaps[1], "stable_yield", "crypto", "1")
}

func TestRequiredSwaps_DropsSubDollarFragment(t *testing.T) {
	// Same shape but the source sheds $4.99, so the trailing $0.99 fragment
	// falls below the dust line and never becomes an instruction.
	current := allocation(map[string]string{"stable_yield": "50.499", "gold": "29.6", "crypto": "19.85"})
	target := allocation(map[string]string{"stable_yield": "50", "gold": "30", "crypto": "20"})
	balances := allocation(map[string]string{"stable_yield": "504.99", "gold": "296", "crypto": "198.5"})

	swaps, err := testCalculator().RequiredSwaps(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("RequiredSwaps failed: %v", err)
	}

	if len(swaps) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(swaps))
	}
	assertInstruction(t, swaps[0], "stable_yield", "gold", "4")
}

func TestRequiredSwaps_IgnoresDustDeltas(t *testing.T) {
	// Every class delta is within one dollar of target, so nothing moves.
	current := allocation(map[string]string{"stable_yield": "50.05", "gold": "49.95"})
	target := allocation(map[string]string{"stable_yield": "50", "gold": "50"})
	balances := allocation(map[string]string{"stable_yield": "500.5", "gold": "499.5"})

	swaps, err := testCalculator().RequiredSwaps(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("RequiredSwaps failed: %v", err)
	}
	if len(swaps) != 0 {
		t.Errorf("Expected no swaps for dust deltas, got %d", len(swaps))
	}
}

func TestRequiredSwaps_ClampsToHeldBalance(t *testing.T) {
	// The gold class should shed $50 on paper but only holds $30, so exactly
	// one clamped instruction for $30 comes out.
	current := allocation(map[string]string{"gold": "50", "stable_yield": "50"})
	target := allocation(map[string]string{"gold": "0", "stable_yield": "100"})
	balances := allocation(map[string]string{"gold": "30", "stable_yield": "70"})

	swaps, err := testCalculator().RequiredSwaps(current, target, dec("100"), balances)
	if err != nil {
		t.Fatalf("RequiredSwaps failed: %v", err)
	}

	if len(swaps) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(swaps))
	}
	assertInstruction(t, swaps[0], "gold", "stable_yield", "30")
}

func TestRequiredSwaps_GreedyLargestFirst(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "40", "gold": "30", "crypto": "20", "defi_yield": "10"})
	target := allocation(map[string]string{"stable_yield": "25", "gold": "25", "crypto": "25", "defi_yield": "25"})
	balances := allocation(map[string]string{"stable_yield": "400", "gold": "300", "crypto": "200", "defi_yield": "100"})

	calculator := testCalculator()
	swaps, err := calculator.RequiredSwaps(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("RequiredSwaps failed: %v", err)
	}

	// Largest source pairs with largest sink first, then the remainders.
	if len(swaps) != 2 {
		t.Fatalf("Expected 2 swaps, got %d", len(swaps))
	}
	assertInstruction(t, swaps[0], "stable_yield", "defi_yield", "150")
	assertInstruction(t, swaps[1], "gold", "crypto", "50")

	// Same inputs, same instruction list.
	again, err := calculator.RequiredSwaps(current, target, dec("1000"), balances)
	if err != nil {
		t.Fatalf("RequiredSwaps failed on repeat: %v", err)
	}
	if len(again) != len(swaps) {
		t.Fatalf("Expected identical swap count across runs, got %d and %d", len(swaps), len(again))
	}
	for i := range swaps {
		sameRoute := swaps[i].FromClass == again[i].FromClass && swaps[i].ToClass == again[i].ToClass
		if !sameRoute || !swaps[i].UsdAmount.Equal(again[i].UsdAmount) {
			t.Errorf("Expected deterministic output, swap %d differs", i)
		}
	}
}

func TestRequiredSwaps_ZeroTotalValue(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "100"})
	target := allocation(map[string]string{"gold": "100"})

	swaps, err := testCalculator().RequiredSwaps(current, target, decimal.Zero, nil)
	if err != nil {
		t.Fatalf("RequiredSwaps failed: %v", err)
	}
	if len(swaps) != 0 {
		t.Errorf("Expected no swaps for empty portfolio, got %d", len(swaps))
	}
}

func TestRequiredSwaps_UnknownClass(t *testing.T) {
	current := allocation(map[string]string{"mystery": "100"})
	target := allocation(map[string]string{"stable_yield": "100"})
	balances := allocation(map[string]string{"mystery": "1000"})

	if _, err := testCalculator().RequiredSwaps(current, target, dec("1000"), balances); err == nil {
		t.Error("Expected error for unresolvable class")
	}
}

func TestCalculate_RoundTripConverges(t *testing.T) {
	current := allocation(map[string]string{"stable_yield": "100"})
	target := allocation(map[string]string{"stable_yield": "40", "gold": "30", "crypto": "30"})
	balances := allocation(map[string]string{"stable_yield": "1000"})
	totalValue := dec("1000")

	plan, err := testCalculator().Calculate(current, target, totalValue, balances)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if !plan.NeedsRebalance {
		t.Fatal("Expected needsRebalance true")
	}
	if !plan.TotalSwapValue.Equal(dec("600")) {
		t.Errorf("Expected total swap value 600, got %s", plan.TotalSwapValue.String())
	}

	// Simulate execution and recompute the allocation.
	for _, swap := range plan.Swaps {
		balances[swap.FromClass] = classValue(balances, swap.FromClass).Sub(swap.UsdAmount)
		balances[swap.ToClass] = classValue(balances, swap.ToClass).Add(swap.UsdAmount)
	}
	settled := make(map[string]decimal.Decimal, len(balances))
	for classKey, value := range balances {
		settled[classKey] = value.Div(totalValue).Mul(hundred)
	}

	if drift := Drift(settled, target); !drift.IsZero() {
		t.Errorf("Expected zero drift after executing the plan, got %s", drift.String())
	}
}
