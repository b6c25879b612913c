package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a user in the system
type User struct {
	Id             string    `db:"id"`
	Name           string    `db:"name"`
	Email          string    `db:"email"`
	DepositAddress string    `db:"deposit_address"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// SessionStatus is the lifecycle state of a deposit session
type SessionStatus string

const (
	SessionAwaitingTransfer SessionStatus = "AWAITING_TRANSFER"
	SessionReceived         SessionStatus = "RECEIVED"
	SessionConfirmed        SessionStatus = "CONFIRMED"
	SessionExpired          SessionStatus = "EXPIRED"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionConfirmed || s == SessionExpired
}

// DepositSession represents one deposit intent from creation to credit.
// ExpectedAmount zero means the caller gave no expectation; MaxAmount zero
// means the acceptance band has no ceiling.
type DepositSession struct {
	Id                  string          `db:"id"`
	UserId              string          `db:"user_id"`
	DepositAddress      string          `db:"deposit_address"`
	Token               string          `db:"token"`
	ExpectedAmount      decimal.Decimal `db:"expected_amount"`
	MinAmount           decimal.Decimal `db:"min_amount"`
	MaxAmount           decimal.Decimal `db:"max_amount"`
	CreatedAtBlock      uint64          `db:"created_at_block"`
	Status              SessionStatus   `db:"status"`
	MatchedTxHash       string          `db:"matched_tx_hash"`
	MatchedLogIndex     uint            `db:"matched_log_index"`
	MatchedFrom         string          `db:"matched_from"`
	MatchedAmount       decimal.Decimal `db:"matched_amount"`
	MatchedBlock        uint64          `db:"matched_block"`
	LedgerTransactionId string          `db:"ledger_transaction_id"`
	CreatedAt           time.Time       `db:"created_at"`
	ExpiresAt           time.Time       `db:"expires_at"`
	ConfirmedAt         time.Time       `db:"confirmed_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// Portfolio represents per-user aggregate state (hot data)
type Portfolio struct {
	Id         string          `db:"id"`
	UserId     string          `db:"user_id"`
	ModelKey   string          `db:"model_key"`
	TotalValue decimal.Decimal `db:"total_value_usd"`
	Version    int64           `db:"version"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// Holding represents one asset class position within a portfolio
type Holding struct {
	Id          string          `db:"id"`
	PortfolioId string          `db:"portfolio_id"`
	ClassKey    string          `db:"class_key"`
	AssetSymbol string          `db:"asset_symbol"`
	Units       decimal.Decimal `db:"units"`
	UsdValue    decimal.Decimal `db:"usd_value"`
	Pct         decimal.Decimal `db:"pct"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// SwapStatus is the lifecycle state of a swap transaction
type SwapStatus string

const (
	SwapPending   SwapStatus = "PENDING"
	SwapCompleted SwapStatus = "COMPLETED"
	SwapFailed    SwapStatus = "FAILED"
)

// GroupKind distinguishes why a set of swaps was created together
type GroupKind string

const (
	GroupRebalance         GroupKind = "REBALANCE"
	GroupDepositConversion GroupKind = "DEPOSIT_CONVERSION"
)

// SwapGroup links swap transactions created by one rebalance or
// deposit-conversion decision. The idempotency key dedupes the trigger.
type SwapGroup struct {
	Id             string          `db:"id"`
	UserId         string          `db:"user_id"`
	Kind           GroupKind       `db:"kind"`
	IdempotencyKey string          `db:"idempotency_key"`
	Drift          decimal.Decimal `db:"drift"`
	TotalValue     decimal.Decimal `db:"total_value"`
	CreatedAt      time.Time       `db:"created_at"`
}

// SwapTransaction represents one submitted swap order. OrderHandle is the
// client-assigned idempotency key for both submission and status polling.
type SwapTransaction struct {
	Id               string          `db:"id"`
	UserId           string          `db:"user_id"`
	PortfolioId      string          `db:"portfolio_id"`
	GroupId          string          `db:"group_id"`
	FromClass        string          `db:"from_class"`
	ToClass          string          `db:"to_class"`
	FromAsset        string          `db:"from_asset"`
	ToAsset          string          `db:"to_asset"`
	UsdAmount        decimal.Decimal `db:"usd_amount"`
	EstimatedOut     decimal.Decimal `db:"estimated_out"`
	ActualOut        decimal.Decimal `db:"actual_out"`
	Status           SwapStatus      `db:"status"`
	OrderHandle      string          `db:"order_handle"`
	ProviderStatus   string          `db:"provider_status"`
	SettlementTxHash string          `db:"settlement_tx_hash"`
	FailureReason    string          `db:"failure_reason"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	CompletedAt      time.Time       `db:"completed_at"`
}

// Transaction represents immutable ledger history (cold data). BalanceBefore
// and BalanceAfter record the portfolio total value around the mutation.
type Transaction struct {
	Id              string          `db:"id"`
	UserId          string          `db:"user_id"`
	TransactionType string          `db:"transaction_type"`
	ClassKey        string          `db:"class_key"`
	Asset           string          `db:"asset"`
	AmountUsd       decimal.Decimal `db:"amount_usd"`
	Units           decimal.Decimal `db:"units"`
	BalanceBefore   decimal.Decimal `db:"balance_before"`
	BalanceAfter    decimal.Decimal `db:"balance_after"`
	Reference       string          `db:"reference"`
	Status          string          `db:"status"`
	CreatedAt       time.Time       `db:"created_at"`
	ProcessedAt     time.Time       `db:"processed_at"`
}

// ProcessedEvent is the globally unique (chain, txHash, logIndex) marker
// whose insertion gates a one-time credit.
type ProcessedEvent struct {
	Chain     string    `db:"chain"`
	TxHash    string    `db:"tx_hash"`
	LogIndex  uint      `db:"log_index"`
	SessionId string    `db:"session_id"`
	CreatedAt time.Time `db:"created_at"`
}
