package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/rebalance"

	"github.com/shopspring/decimal"
)

type fakeWorkerStore struct {
	mu         sync.Mutex
	sessions   []models.DepositSession
	swaps      []models.SwapTransaction
	portfolios []models.Portfolio
	listErr    error
	revalueErr map[string]error
	revalued   map[string]map[string]decimal.Decimal
}

func newFakeWorkerStore() *fakeWorkerStore {
	return &fakeWorkerStore{
		revalueErr: make(map[string]error),
		revalued:   make(map[string]map[string]decimal.Decimal),
	}
}

func (f *fakeWorkerStore) ListSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.DepositSession, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	wanted := make(map[models.SessionStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	var matched []models.DepositSession
	for _, session := range f.sessions {
		if wanted[session.Status] {
			matched = append(matched, session)
		}
	}
	return matched, nil
}

func (f *fakeWorkerStore) ListSwapTransactionsByStatus(ctx context.Context, status models.SwapStatus) ([]models.SwapTransaction, error) {
	var matched []models.SwapTransaction
	for _, transaction := range f.swaps {
		if transaction.Status == status {
			matched = append(matched, transaction)
		}
	}
	return matched, nil
}

func (f *fakeWorkerStore) GetPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.portfolios, nil
}

func (f *fakeWorkerStore) RevaluePortfolio(ctx context.Context, userId string, prices map[string]decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.revalueErr[userId]; err != nil {
		return err
	}
	f.revalued[userId] = prices
	return nil
}

func (f *fakeWorkerStore) revaluedPrices(userId string) map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revalued[userId]
}

type fakeEngineDeposits struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeEngineDeposits) ScheduleConfirmation(sessionId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, sessionId)
}

func (f *fakeEngineDeposits) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

type fakeEngineSwaps struct {
	mu     sync.Mutex
	polled []string
}

func (f *fakeEngineSwaps) SchedulePoll(swapId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, swapId)
}

func (f *fakeEngineSwaps) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.polled)
}

type fakeEnginePlanner struct {
	mu      sync.Mutex
	results map[string]*rebalance.Result
	errs    map[string]error
	calls   []string
}

func newFakeEnginePlanner() *fakeEnginePlanner {
	return &fakeEnginePlanner{
		results: make(map[string]*rebalance.Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeEnginePlanner) RebalancePortfolio(ctx context.Context, userId string, force bool) (*rebalance.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, userId)
	if err := f.errs[userId]; err != nil {
		return nil, err
	}
	if result, ok := f.results[userId]; ok {
		return result, nil
	}
	return &rebalance.Result{Drift: decimal.Zero}, nil
}

func (f *fakeEnginePlanner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeEnginePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakeEnginePrices) Snapshot() map[string]decimal.Decimal {
	return f.prices
}

func newTestEngine(db *fakeWorkerStore) (*Engine, *fakeEngineDeposits, *fakeEngineSwaps, *fakeEnginePlanner) {
	deposits := &fakeEngineDeposits{}
	swaps := &fakeEngineSwaps{}
	planner := newFakeEnginePlanner()
	prices := &fakeEnginePrices{prices: map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(1),
		"PAXG": decimal.NewFromInt(2000),
	}}

	engine := NewEngine(EngineConfig{
		DbService: db,
		Deposits:  deposits,
		Swaps:     swaps,
		Planner:   planner,
		Prices:    prices,
		Config: models.WorkerConfig{
			RevalueInterval:   time.Hour,
			DriftScanInterval: time.Hour,
			RecoveryTimeout:   5 * time.Second,
		},
	})
	return engine, deposits, swaps, planner
}

func TestStartupRecovery(t *testing.T) {
	db := newFakeWorkerStore()
	db.sessions = []models.DepositSession{
		{Id: "session1", Status: models.SessionAwaitingTransfer},
		{Id: "session2", Status: models.SessionReceived},
		{Id: "session3", Status: models.SessionConfirmed},
		{Id: "session4", Status: models.SessionExpired},
	}
	db.swaps = []models.SwapTransaction{
		{Id: "swap1", Status: models.SwapPending},
		{Id: "swap2", Status: models.SwapCompleted},
		{Id: "swap3", Status: models.SwapFailed},
	}

	engine, deposits, swaps, _ := newTestEngine(db)

	if err := engine.performStartupRecovery(context.Background()); err != nil {
		t.Fatalf("Recovery failed: %v", err)
	}

	if deposits.count() != 2 {
		t.Errorf("Expected 2 confirmation jobs re-registered, got %d", deposits.count())
	}
	if swaps.count() != 1 {
		t.Errorf("Expected 1 poll job re-registered, got %d", swaps.count())
	}
}

func TestStartupRecovery_ListFailure(t *testing.T) {
	db := newFakeWorkerStore()
	db.listErr = errors.New("database locked")

	engine, _, _, _ := newTestEngine(db)

	if err := engine.performStartupRecovery(context.Background()); err == nil {
		t.Error("Expected recovery to fail")
	}
}

func TestRevaluePortfolios(t *testing.T) {
	db := newFakeWorkerStore()
	db.portfolios = []models.Portfolio{
		{Id: "portfolio1", UserId: "user1"},
		{Id: "portfolio2", UserId: "user2"},
	}
	db.revalueErr["user2"] = errors.New("version conflict")

	engine, _, _, _ := newTestEngine(db)
	engine.revaluePortfolios(context.Background())

	prices := db.revaluedPrices("user1")
	if prices == nil {
		t.Fatal("Expected user1 to be revalued")
	}
	if !prices["PAXG"].Equal(decimal.NewFromInt(2000)) {
		t.Errorf("Expected snapshot price 2000 for PAXG, got %s", prices["PAXG"].String())
	}
	if db.revaluedPrices("user2") != nil {
		t.Error("Expected user2 revaluation to fail")
	}
}

func TestScanDrift(t *testing.T) {
	db := newFakeWorkerStore()
	db.portfolios = []models.Portfolio{
		{Id: "portfolio1", UserId: "user1"},
		{Id: "portfolio2", UserId: "user2"},
		{Id: "portfolio3", UserId: "user3"},
	}

	engine, _, _, planner := newTestEngine(db)
	planner.results["user1"] = &rebalance.Result{
		GroupId: "group1",
		Drift:   decimal.RequireFromString("12"),
	}
	planner.errs["user2"] = errors.New("portfolio busy")

	engine.scanDrift(context.Background())

	// One failing portfolio must not stop the sweep.
	if planner.callCount() != 3 {
		t.Errorf("Expected all 3 portfolios scanned, got %d", planner.callCount())
	}
}

func TestEngineStartStop(t *testing.T) {
	db := newFakeWorkerStore()
	engine, _, _, _ := newTestEngine(db)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		engine.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Engine did not stop in time")
	}
}
