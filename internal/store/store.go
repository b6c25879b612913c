package store

import (
	"context"
	"errors"

	"kiota-savings-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrEventAlreadyProcessed  = errors.New("event already processed")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("user not found")
	ErrPortfolioNotFound      = errors.New("portfolio not found")
	ErrHoldingNotFound        = errors.New("holding not found")
	ErrSessionNotFound        = errors.New("deposit session not found")
	ErrSwapNotFound           = errors.New("swap transaction not found")
	ErrInvalidTransition      = errors.New("invalid session transition")
)

// BalanceDelta is one signed adjustment to a class holding. Units and
// UsdValue carry the same sign; a zero-unit delta adjusts value only
// (revaluation).
type BalanceDelta struct {
	ClassKey    string
	AssetSymbol string
	Units       decimal.Decimal
	UsdValue    decimal.Decimal
}

// BindMatchParams binds an observed on-chain event to a session. The bind is
// overwritable until the event is credited.
type BindMatchParams struct {
	SessionId   string
	TxHash      string
	LogIndex    uint
	FromAddress string
	Amount      decimal.Decimal
	BlockNumber uint64
}

// CreditDepositParams applies the one-time deposit credit: processed-event
// marker, stable-class balance increase, ledger entry, and the CONFIRMED
// transition, all in one transactional unit.
type CreditDepositParams struct {
	SessionId   string
	UserId      string
	Chain       string
	TxHash      string
	LogIndex    uint
	Amount      decimal.Decimal
	ClassKey    string
	AssetSymbol string
}

// CreateSwapGroupParams creates a swap group, deduplicated by idempotency key.
type CreateSwapGroupParams struct {
	UserId         string
	Kind           models.GroupKind
	IdempotencyKey string
	Drift          decimal.Decimal
	TotalValue     decimal.Decimal
}

// CreateSwapParams creates a PENDING swap transaction, deduplicated by the
// client-assigned order handle.
type CreateSwapParams struct {
	UserId       string
	PortfolioId  string
	GroupId      string
	FromClass    string
	ToClass      string
	FromAsset    string
	ToAsset      string
	UsdAmount    decimal.Decimal
	EstimatedOut decimal.Decimal
	OrderHandle  string
}

// SettleSwapParams completes a swap: the PENDING -> COMPLETED transition and
// the balance deltas are applied in one transactional unit, exactly once.
type SettleSwapParams struct {
	SwapId           string
	ActualOut        decimal.Decimal
	SettlementTxHash string
	Deltas           []BalanceDelta
}

// RecordTransactionParams appends an immutable ledger entry.
type RecordTransactionParams struct {
	UserId          string
	TransactionType string // deposit, swap-out, swap-in
	ClassKey        string
	Asset           string
	AmountUsd       decimal.Decimal
	Units           decimal.Decimal
	Reference       string
}

// LedgerStore defines the contract that every backend must satisfy.
type LedgerStore interface {
	// --- Users ---
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, userId, name, email, depositAddress string) (*models.User, error)

	// --- Portfolios ---
	CreatePortfolio(ctx context.Context, userId, modelKey string) (*models.Portfolio, error)
	GetPortfolio(ctx context.Context, userId string) (*models.Portfolio, error)
	GetPortfolios(ctx context.Context) ([]models.Portfolio, error)
	GetHoldings(ctx context.Context, portfolioId string) ([]models.Holding, error)
	GetHolding(ctx context.Context, portfolioId, classKey string) (*models.Holding, error)
	IncrementBalances(ctx context.Context, userId string, deltas []BalanceDelta) error
	RevaluePortfolio(ctx context.Context, userId string, prices map[string]decimal.Decimal) error

	// --- Deposit sessions ---
	CreateDepositSession(ctx context.Context, session models.DepositSession) error
	GetDepositSession(ctx context.Context, sessionId string) (*models.DepositSession, error)
	BindDepositMatch(ctx context.Context, params BindMatchParams) error
	TransitionSession(ctx context.Context, sessionId string, from, to models.SessionStatus) error
	ListSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.DepositSession, error)

	// --- Processed events ---
	IsEventProcessed(ctx context.Context, chain, txHash string, logIndex uint) (bool, error)
	MarkEventProcessed(ctx context.Context, chain, txHash string, logIndex uint, sessionId string) error
	CreditDeposit(ctx context.Context, params CreditDepositParams) (*models.Transaction, error)

	// --- Swaps ---
	CreateSwapGroup(ctx context.Context, params CreateSwapGroupParams) (*models.SwapGroup, bool, error)
	CreateSwapTransaction(ctx context.Context, params CreateSwapParams) (*models.SwapTransaction, bool, error)
	GetSwapTransaction(ctx context.Context, swapId string) (*models.SwapTransaction, error)
	GetSwapTransactionByHandle(ctx context.Context, orderHandle string) (*models.SwapTransaction, error)
	ListSwapTransactionsByStatus(ctx context.Context, status models.SwapStatus) ([]models.SwapTransaction, error)
	UpdateSwapProviderStatus(ctx context.Context, swapId, providerStatus string) error
	CompleteSwapSettlement(ctx context.Context, params SettleSwapParams) (bool, error)
	FailSwapTransaction(ctx context.Context, swapId, reason string) error

	// --- Transactions ---
	RecordTransaction(ctx context.Context, params RecordTransactionParams) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)

	// --- Lifecycle ---
	Close()
}
