package rebalance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"
	"kiota-savings-go/internal/swap"

	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	mu         sync.Mutex
	portfolio  *models.Portfolio
	holdings   []models.Holding
	groups     map[string]*models.SwapGroup
	groupCalls int
}

func newFakeLedger(portfolio *models.Portfolio, holdings []models.Holding) *fakeLedger {
	return &fakeLedger{
		portfolio: portfolio,
		holdings:  holdings,
		groups:    make(map[string]*models.SwapGroup),
	}
}

func (f *fakeLedger) GetPortfolio(ctx context.Context, userId string) (*models.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.portfolio == nil || f.portfolio.UserId != userId {
		return nil, fmt.Errorf("user %s - %w", userId, store.ErrPortfolioNotFound)
	}
	found := *f.portfolio
	return &found, nil
}

func (f *fakeLedger) GetHoldings(ctx context.Context, portfolioId string) ([]models.Holding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Holding, len(f.holdings))
	copy(out, f.holdings)
	return out, nil
}

func (f *fakeLedger) CreateSwapGroup(ctx context.Context, params store.CreateSwapGroupParams) (*models.SwapGroup, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.groupCalls++
	if group, ok := f.groups[params.IdempotencyKey]; ok {
		found := *group
		return &found, true, nil
	}

	group := &models.SwapGroup{
		Id:             fmt.Sprintf("group-%d", len(f.groups)+1),
		UserId:         params.UserId,
		Kind:           params.Kind,
		IdempotencyKey: params.IdempotencyKey,
		Drift:          params.Drift,
		TotalValue:     params.TotalValue,
		CreatedAt:      time.Now(),
	}
	f.groups[params.IdempotencyKey] = group
	found := *group
	return &found, false, nil
}

func (f *fakeLedger) groupByKind(t *testing.T, kind models.GroupKind) *models.SwapGroup {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, group := range f.groups {
		if group.Kind == kind {
			found := *group
			return &found
		}
	}
	t.Fatalf("No %s group was created", kind)
	return nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	byHandle map[string]*models.SwapTransaction
	calls    []swap.SubmitParams
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{byHandle: make(map[string]*models.SwapTransaction)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, params swap.SubmitParams) (*models.SwapTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, params)
	if existing, ok := f.byHandle[params.OrderHandle]; ok {
		found := *existing
		return &found, nil
	}

	transaction := &models.SwapTransaction{
		Id:          fmt.Sprintf("swap-%d", len(f.byHandle)+1),
		UserId:      params.UserId,
		PortfolioId: params.PortfolioId,
		GroupId:     params.GroupId,
		FromClass:   params.FromClass,
		ToClass:     params.ToClass,
		FromAsset:   params.FromAsset,
		ToAsset:     params.ToAsset,
		UsdAmount:   params.UsdAmount,
		Status:      models.SwapPending,
		OrderHandle: params.OrderHandle,
	}
	f.byHandle[params.OrderHandle] = transaction
	found := *transaction
	return &found, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRegistry struct {
	staticResolver
	targets map[string]map[string]decimal.Decimal
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		staticResolver: staticResolver{
			"stable_yield": "USDC",
			"gold":         "PAXG",
			"defi_yield":   "SDAI",
			"crypto":       "WETH",
		},
		targets: map[string]map[string]decimal.Decimal{
			"split": allocation(map[string]string{
				"stable_yield": "50",
				"gold":         "50",
			}),
			"balanced": allocation(map[string]string{
				"stable_yield": "40",
				"gold":         "25",
				"defi_yield":   "20",
				"crypto":       "15",
			}),
		},
	}
}

func (f *fakeRegistry) Model(key string) (map[string]decimal.Decimal, error) {
	target, ok := f.targets[key]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", key)
	}
	return target, nil
}

func (f *fakeRegistry) StableClass() string { return "stable_yield" }
func (f *fakeRegistry) StableAsset() string { return "USDC" }

func testPortfolio(modelKey, totalValue string) *models.Portfolio {
	return &models.Portfolio{
		Id:         "portfolio-1",
		UserId:     "user-1",
		ModelKey:   modelKey,
		TotalValue: dec(totalValue),
	}
}

func testHolding(classKey, usdValue, pct string) models.Holding {
	return models.Holding{
		PortfolioId: "portfolio-1",
		ClassKey:    classKey,
		UsdValue:    dec(usdValue),
		Pct:         dec(pct),
	}
}

func TestCheckDrift(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("split", "1000"), []models.Holding{
		testHolding("stable_yield", "600", "60"),
		testHolding("gold", "400", "40"),
	})
	service := NewService(ledger, newFakeSubmitter(), newFakeRegistry())

	drift, needs, err := service.CheckDrift(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CheckDrift failed: %v", err)
	}
	if !drift.Equal(dec("20")) {
		t.Errorf("Expected drift 20, got %s", drift.String())
	}
	if !needs {
		t.Error("Expected drift 20 to need rebalancing")
	}
}

func TestCheckDrift_WithinThreshold(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("split", "1000"), []models.Holding{
		testHolding("stable_yield", "520", "52"),
		testHolding("gold", "480", "48"),
	})
	service := NewService(ledger, newFakeSubmitter(), newFakeRegistry())

	drift, needs, err := service.CheckDrift(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CheckDrift failed: %v", err)
	}
	if !drift.Equal(dec("4")) {
		t.Errorf("Expected drift 4, got %s", drift.String())
	}
	if needs {
		t.Error("Expected drift 4 to stay within the threshold")
	}
}

func TestCheckDrift_PortfolioMissing(t *testing.T) {
	ledger := newFakeLedger(nil, nil)
	service := NewService(ledger, newFakeSubmitter(), newFakeRegistry())

	_, _, err := service.CheckDrift(context.Background(), "user-1")
	if !errors.Is(err, store.ErrPortfolioNotFound) {
		t.Errorf("Expected ErrPortfolioNotFound, got %v", err)
	}
}

func TestRebalancePortfolio_WithinTolerance(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("split", "1000"), []models.Holding{
		testHolding("stable_yield", "520", "52"),
		testHolding("gold", "480", "48"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	result, err := service.RebalancePortfolio(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("RebalancePortfolio failed: %v", err)
	}

	if result.GroupId != "" {
		t.Errorf("Expected no group for in-tolerance portfolio, got %s", result.GroupId)
	}
	if len(result.Swaps) != 0 {
		t.Errorf("Expected no swaps, got %d", len(result.Swaps))
	}
	if !result.Drift.Equal(dec("4")) {
		t.Errorf("Expected drift 4, got %s", result.Drift.String())
	}
	if ledger.groupCalls != 0 {
		t.Errorf("Expected no group writes, got %d", ledger.groupCalls)
	}
	if submitter.callCount() != 0 {
		t.Errorf("Expected no submissions, got %d", submitter.callCount())
	}
}

func TestRebalancePortfolio_SubmitsSwaps(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("split", "1000"), []models.Holding{
		testHolding("stable_yield", "600", "60"),
		testHolding("gold", "400", "40"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	result, err := service.RebalancePortfolio(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("RebalancePortfolio failed: %v", err)
	}

	if result.GroupId == "" {
		t.Fatal("Expected a group id on a submitted rebalance")
	}
	if len(result.Swaps) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(result.Swaps))
	}

	transaction := result.Swaps[0]
	if transaction.FromClass != "stable_yield" || transaction.ToClass != "gold" {
		t.Errorf("Expected stable_yield -> gold, got %s -> %s", transaction.FromClass, transaction.ToClass)
	}
	if transaction.FromAsset != "USDC" || transaction.ToAsset != "PAXG" {
		t.Errorf("Expected USDC -> PAXG, got %s -> %s", transaction.FromAsset, transaction.ToAsset)
	}
	if !transaction.UsdAmount.Equal(dec("100")) {
		t.Errorf("Expected 100 USD swap, got %s", transaction.UsdAmount.String())
	}
	if !result.TotalSwapValue.Equal(dec("100")) {
		t.Errorf("Expected total swap value 100, got %s", result.TotalSwapValue.String())
	}

	group := ledger.groupByKind(t, models.GroupRebalance)
	if group.Id != result.GroupId {
		t.Errorf("Expected result group %s, got %s", group.Id, result.GroupId)
	}
	if !strings.HasPrefix(group.IdempotencyKey, "rebalance:user-1:") {
		t.Errorf("Unexpected group key %s", group.IdempotencyKey)
	}
	if !group.Drift.Equal(dec("20")) {
		t.Errorf("Expected group drift 20, got %s", group.Drift.String())
	}

	expectedHandle := fmt.Sprintf("%s:stable_yield->gold", group.Id)
	if transaction.OrderHandle != expectedHandle {
		t.Errorf("Expected handle %s, got %s", expectedHandle, transaction.OrderHandle)
	}
}

func TestRebalancePortfolio_ForceBypassesThreshold(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("split", "1000"), []models.Holding{
		testHolding("stable_yield", "520", "52"),
		testHolding("gold", "480", "48"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	result, err := service.RebalancePortfolio(context.Background(), "user-1", true)
	if err != nil {
		t.Fatalf("RebalancePortfolio failed: %v", err)
	}

	if result.GroupId == "" {
		t.Fatal("Expected forced rebalance to submit a group")
	}
	if len(result.Swaps) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(result.Swaps))
	}
	if !result.Swaps[0].UsdAmount.Equal(dec("20")) {
		t.Errorf("Expected 20 USD swap, got %s", result.Swaps[0].UsdAmount.String())
	}
}

func TestRebalancePortfolio_SameWindowReusesGroup(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("split", "1000"), []models.Holding{
		testHolding("stable_yield", "600", "60"),
		testHolding("gold", "400", "40"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	first, err := service.RebalancePortfolio(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("First rebalance failed: %v", err)
	}
	second, err := service.RebalancePortfolio(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("Second rebalance failed: %v", err)
	}

	if second.GroupId != first.GroupId {
		t.Errorf("Expected both runs to share group %s, got %s", first.GroupId, second.GroupId)
	}
	if len(ledger.groups) != 1 {
		t.Errorf("Expected a single group, got %d", len(ledger.groups))
	}
	if second.Swaps[0].Id != first.Swaps[0].Id {
		t.Errorf("Expected deduped swap %s, got %s", first.Swaps[0].Id, second.Swaps[0].Id)
	}
}

func TestAllocateDeposit(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("balanced", "1000"), []models.Holding{
		testHolding("stable_yield", "1000", "100"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	swaps, err := service.AllocateDeposit(context.Background(), "user-1", dec("100"), "txn-1")
	if err != nil {
		t.Fatalf("AllocateDeposit failed: %v", err)
	}

	if len(swaps) != 3 {
		t.Fatalf("Expected 3 conversion swaps, got %d", len(swaps))
	}
	for _, transaction := range swaps {
		if transaction.FromClass != "stable_yield" {
			t.Errorf("Expected conversions out of stable_yield, got %s", transaction.FromClass)
		}
	}

	// Instructions follow sorted class keys, stable class excluded.
	expected := []struct {
		toClass string
		amount  string
	}{
		{"crypto", "15"},
		{"defi_yield", "20"},
		{"gold", "25"},
	}
	for i, want := range expected {
		if swaps[i].ToClass != want.toClass {
			t.Errorf("Swap %d: expected sink %s, got %s", i, want.toClass, swaps[i].ToClass)
		}
		if !swaps[i].UsdAmount.Equal(dec(want.amount)) {
			t.Errorf("Swap %d: expected %s USD, got %s", i, want.amount, swaps[i].UsdAmount.String())
		}
	}

	group := ledger.groupByKind(t, models.GroupDepositConversion)
	if group.IdempotencyKey != "deposit-conversion:txn-1" {
		t.Errorf("Unexpected group key %s", group.IdempotencyKey)
	}
}

func TestAllocateDeposit_SecondCallReturnsSameSwaps(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("balanced", "1000"), []models.Holding{
		testHolding("stable_yield", "1000", "100"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	first, err := service.AllocateDeposit(context.Background(), "user-1", dec("100"), "txn-1")
	if err != nil {
		t.Fatalf("First allocation failed: %v", err)
	}
	second, err := service.AllocateDeposit(context.Background(), "user-1", dec("100"), "txn-1")
	if err != nil {
		t.Fatalf("Second allocation failed: %v", err)
	}

	if len(ledger.groups) != 1 {
		t.Errorf("Expected a single conversion group, got %d", len(ledger.groups))
	}
	if len(second) != len(first) {
		t.Fatalf("Expected %d swaps on replay, got %d", len(first), len(second))
	}
	for i := range first {
		if second[i].Id != first[i].Id {
			t.Errorf("Swap %d: expected deduped %s, got %s", i, first[i].Id, second[i].Id)
		}
	}
}

func TestAllocateDeposit_SubDollarSlicesStay(t *testing.T) {
	ledger := newFakeLedger(testPortfolio("balanced", "1000"), []models.Holding{
		testHolding("stable_yield", "1000", "100"),
	})
	submitter := newFakeSubmitter()
	service := NewService(ledger, submitter, newFakeRegistry())

	// 3 USD splits into 0.75 / 0.60 / 0.45 per class, all below the dust
	// threshold, so the whole deposit stays in the stable class.
	swaps, err := service.AllocateDeposit(context.Background(), "user-1", dec("3"), "txn-2")
	if err != nil {
		t.Fatalf("AllocateDeposit failed: %v", err)
	}

	if swaps != nil {
		t.Errorf("Expected no swaps for a dust-only split, got %d", len(swaps))
	}
	if ledger.groupCalls != 0 {
		t.Errorf("Expected no group writes, got %d", ledger.groupCalls)
	}
	if submitter.callCount() != 0 {
		t.Errorf("Expected no submissions, got %d", submitter.callCount())
	}
}

func TestAllocateDeposit_Validation(t *testing.T) {
	service := NewService(newFakeLedger(nil, nil), newFakeSubmitter(), newFakeRegistry())

	if _, err := service.AllocateDeposit(context.Background(), "user-1", decimal.Zero, "txn-1"); err == nil {
		t.Error("Expected error for zero amount")
	}
	if _, err := service.AllocateDeposit(context.Background(), "user-1", dec("-5"), "txn-1"); err == nil {
		t.Error("Expected error for negative amount")
	}
	if _, err := service.AllocateDeposit(context.Background(), "user-1", dec("100"), ""); err == nil {
		t.Error("Expected error for missing deposit reference")
	}
}
