package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func seedDepositSession(t *testing.T, service *Service, userId, sessionId string) *models.DepositSession {
	ctx := context.Background()
	now := time.Now()

	session, err := service.CreateDepositSession(ctx, models.DepositSession{
		Id:             sessionId,
		UserId:         userId,
		DepositAddress: "0x1111111111111111111111111111111111111111",
		Token:          "USDC",
		ExpectedAmount: decimal.NewFromInt(250),
		MinAmount:      decimal.NewFromFloat(237.5),
		MaxAmount:      decimal.NewFromFloat(262.5),
		CreatedAtBlock: 1000,
		Status:         models.SessionAwaitingTransfer,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateDepositSession failed: %v", err)
	}
	return session
}

func TestCreditDeposit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")

	amount := decimal.NewFromInt(250)
	transaction, err := service.CreditDeposit(ctx, store.CreditDepositParams{
		SessionId:   "session-1",
		UserId:      userId,
		Chain:       "ethereum",
		TxHash:      "0xdeadbeef",
		LogIndex:    3,
		Amount:      amount,
		ClassKey:    "stable_yield",
		AssetSymbol: "USDC",
	})
	if err != nil {
		t.Fatalf("CreditDeposit failed: %v", err)
	}

	if transaction.TransactionType != "deposit" {
		t.Errorf("Expected transaction type deposit, got %s", transaction.TransactionType)
	}
	if !transaction.BalanceAfter.Equal(amount) {
		t.Errorf("Expected balance after %s, got %s", amount.String(), transaction.BalanceAfter.String())
	}

	session, err := service.GetDepositSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetDepositSession failed: %v", err)
	}
	if session.Status != models.SessionConfirmed {
		t.Errorf("Expected status CONFIRMED, got %s", session.Status)
	}
	if session.LedgerTransactionId != transaction.Id {
		t.Errorf("Expected ledger transaction %s, got %s", transaction.Id, session.LedgerTransactionId)
	}
	if session.ConfirmedAt.IsZero() {
		t.Error("Expected confirmed_at to be set")
	}

	portfolio, err := service.GetPortfolio(ctx, userId)
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !portfolio.TotalValue.Equal(amount) {
		t.Errorf("Expected total %s, got %s", amount.String(), portfolio.TotalValue.String())
	}
}

func TestCreditDeposit_SameEventTwice(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")

	params := store.CreditDepositParams{
		SessionId:   "session-1",
		UserId:      userId,
		Chain:       "ethereum",
		TxHash:      "0xdeadbeef",
		LogIndex:    3,
		Amount:      decimal.NewFromInt(250),
		ClassKey:    "stable_yield",
		AssetSymbol: "USDC",
	}

	if _, err := service.CreditDeposit(ctx, params); err != nil {
		t.Fatalf("First CreditDeposit failed: %v", err)
	}

	// Second credit with the same event must be rejected without moving funds.
	_, err := service.CreditDeposit(ctx, params)
	if !errors.Is(err, store.ErrEventAlreadyProcessed) {
		t.Fatalf("Expected ErrEventAlreadyProcessed, got: %v", err)
	}

	portfolio, err := service.GetPortfolio(ctx, userId)
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !portfolio.TotalValue.Equal(decimal.NewFromInt(250)) {
		t.Errorf("Expected total 250 after duplicate credit, got %s", portfolio.TotalValue.String())
	}

	history, err := service.GetTransactionHistory(ctx, userId, 10, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected 1 ledger entry, got %d", len(history))
	}
}

func TestMarkEventProcessed_BlocksCredit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")

	if err := service.MarkEventProcessed(ctx, "ethereum", "0xabc", 0, "session-1"); err != nil {
		t.Fatalf("MarkEventProcessed failed: %v", err)
	}

	processed, err := service.IsEventProcessed(ctx, "ethereum", "0xabc", 0)
	if err != nil {
		t.Fatalf("IsEventProcessed failed: %v", err)
	}
	if !processed {
		t.Error("Expected event to be processed")
	}

	err = service.MarkEventProcessed(ctx, "ethereum", "0xabc", 0, "session-1")
	if !errors.Is(err, store.ErrEventAlreadyProcessed) {
		t.Errorf("Expected ErrEventAlreadyProcessed, got: %v", err)
	}

	_, err = service.CreditDeposit(ctx, store.CreditDepositParams{
		SessionId:   "session-1",
		UserId:      userId,
		Chain:       "ethereum",
		TxHash:      "0xabc",
		LogIndex:    0,
		Amount:      decimal.NewFromInt(100),
		ClassKey:    "stable_yield",
		AssetSymbol: "USDC",
	})
	if !errors.Is(err, store.ErrEventAlreadyProcessed) {
		t.Errorf("Expected ErrEventAlreadyProcessed, got: %v", err)
	}
}

func TestBindDepositMatch(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")

	err := service.BindDepositMatch(ctx, store.BindMatchParams{
		SessionId:   "session-1",
		TxHash:      "0xdeadbeef",
		LogIndex:    7,
		FromAddress: "0x2222222222222222222222222222222222222222",
		Amount:      decimal.NewFromInt(250),
		BlockNumber: 1042,
	})
	if err != nil {
		t.Fatalf("BindDepositMatch failed: %v", err)
	}

	session, err := service.GetDepositSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetDepositSession failed: %v", err)
	}
	if session.MatchedTxHash != "0xdeadbeef" {
		t.Errorf("Expected matched tx 0xdeadbeef, got %s", session.MatchedTxHash)
	}
	if session.MatchedLogIndex != 7 {
		t.Errorf("Expected matched log index 7, got %d", session.MatchedLogIndex)
	}
	if session.MatchedBlock != 1042 {
		t.Errorf("Expected matched block 1042, got %d", session.MatchedBlock)
	}
}

func TestBindDepositMatch_TerminalSession(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")

	err := service.TransitionSession(ctx, "session-1", models.SessionAwaitingTransfer, models.SessionExpired)
	if err != nil {
		t.Fatalf("TransitionSession failed: %v", err)
	}

	err = service.BindDepositMatch(ctx, store.BindMatchParams{
		SessionId: "session-1",
		TxHash:    "0xdeadbeef",
		Amount:    decimal.NewFromInt(250),
	})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition on expired session, got: %v", err)
	}
}

func TestTransitionSession_WrongFromStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")

	// Session is AWAITING_TRANSFER, so a RECEIVED -> CONFIRMED transition must fail.
	err := service.TransitionSession(ctx, "session-1", models.SessionReceived, models.SessionConfirmed)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got: %v", err)
	}

	session, err := service.GetDepositSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetDepositSession failed: %v", err)
	}
	if session.Status != models.SessionAwaitingTransfer {
		t.Errorf("Expected status AWAITING_TRANSFER, got %s", session.Status)
	}
}

func TestListSessionsByStatus(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	userId := "user1"
	seedUserWithPortfolio(t, service, userId)
	seedDepositSession(t, service, userId, "session-1")
	seedDepositSession(t, service, userId, "session-2")

	if err := service.TransitionSession(ctx, "session-2", models.SessionAwaitingTransfer, models.SessionReceived); err != nil {
		t.Fatalf("TransitionSession failed: %v", err)
	}

	sessions, err := service.ListSessionsByStatus(ctx, models.SessionAwaitingTransfer, models.SessionReceived)
	if err != nil {
		t.Fatalf("ListSessionsByStatus failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}

	awaiting, err := service.ListSessionsByStatus(ctx, models.SessionAwaitingTransfer)
	if err != nil {
		t.Fatalf("ListSessionsByStatus failed: %v", err)
	}
	if len(awaiting) != 1 || awaiting[0].Id != "session-1" {
		t.Errorf("Expected only session-1 awaiting, got %d sessions", len(awaiting))
	}
}
