/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package deposit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"kiota-savings-go/internal/chain"
	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/scheduler"
	"kiota-savings-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	bandLower     = decimal.RequireFromString("0.95")
	bandUpper     = decimal.RequireFromString("1.05")
	minOpenAmount = decimal.RequireFromString("0.1")
)

// Store is the slice of the ledger the deposit flow needs.
type Store interface {
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	CreateDepositSession(ctx context.Context, session models.DepositSession) error
	GetDepositSession(ctx context.Context, sessionId string) (*models.DepositSession, error)
	BindDepositMatch(ctx context.Context, params store.BindMatchParams) error
	TransitionSession(ctx context.Context, sessionId string, from, to models.SessionStatus) error
	IsEventProcessed(ctx context.Context, chainName, txHash string, logIndex uint) (bool, error)
	CreditDeposit(ctx context.Context, params store.CreditDepositParams) (*models.Transaction, error)
}

var _ Store = store.LedgerStore(nil)

// Observer is the chain read surface the deposit flow needs.
type Observer interface {
	LatestBlock(ctx context.Context) (uint64, error)
	TransferLogs(ctx context.Context, fromBlock, toBlock uint64, recipient string) ([]models.TransferEvent, error)
}

var _ Observer = chain.Observer(nil)

// Allocator spreads a credited deposit across the portfolio's model targets.
type Allocator interface {
	AllocateDeposit(ctx context.Context, userId string, amount decimal.Decimal, depositRef string) ([]*models.SwapTransaction, error)
}

// Registry names the class and asset deposits are credited into.
type Registry interface {
	StableClass() string
	StableAsset() string
}

// Scheduler is the recurring-job surface the deposit flow drives.
type Scheduler interface {
	Schedule(jobKey string, interval time.Duration, maxAttempts int, handler scheduler.Handler) bool
	Cancel(jobKey string)
}

var _ Scheduler = (*scheduler.Scheduler)(nil)

// Confirmation is the outcome of one confirmation attempt. Confirmations is
// only computed on attempts that reach the chain; a short-circuit on an
// already-confirmed session leaves it zero.
type Confirmation struct {
	Status        models.SessionStatus
	MatchedAmount decimal.Decimal
	TxHash        string
	Confirmations int64
	Credited      bool
	TransactionId string
}

// ServiceParams wires the deposit service's collaborators.
type ServiceParams struct {
	Ledger    Store
	Observer  Observer
	Allocator Allocator
	Jobs      Scheduler
	Assets    Registry
	Config    models.DepositConfig
	Chain     models.ChainConfig
}

// Service owns the deposit session lifecycle: AWAITING_TRANSFER to RECEIVED
// to CONFIRMED, or AWAITING_TRANSFER to EXPIRED. Confirmation is re-entrant;
// the processed-event marker and the terminal short-circuit are the only
// synchronization, so concurrent invocations for one session are safe.
type Service struct {
	ledger    Store
	observer  Observer
	allocator Allocator
	jobs      Scheduler
	assets    Registry
	cfg       models.DepositConfig
	chainCfg  models.ChainConfig
}

func NewService(params ServiceParams) *Service {
	return &Service{
		ledger:    params.Ledger,
		observer:  params.Observer,
		allocator: params.Allocator,
		jobs:      params.Jobs,
		assets:    params.Assets,
		cfg:       params.Config,
		chainCfg:  params.Chain,
	}
}

// CreateSession opens a deposit session for the user's deposit address and
// schedules the recurring confirmation check. The current chain head becomes
// the scan floor so pre-existing transfers are never matched.
func (s *Service) CreateSession(ctx context.Context, userId, token string, expectedAmount decimal.Decimal) (*models.DepositSession, error) {
	if token != s.chainCfg.TokenSymbol {
		return nil, fmt.Errorf("%w: %s, only %s deposits are supported", ErrUnsupportedToken, token, s.chainCfg.TokenSymbol)
	}
	if expectedAmount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, expectedAmount.String())
	}

	user, err := s.ledger.GetUserById(ctx, userId)
	if err != nil {
		return nil, err
	}

	latestBlock, err := s.observer.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	minAmount, maxAmount := acceptanceBand(expectedAmount)
	now := time.Now()
	session := models.DepositSession{
		Id:             uuid.New().String(),
		UserId:         userId,
		DepositAddress: user.DepositAddress,
		Token:          token,
		ExpectedAmount: expectedAmount,
		MinAmount:      minAmount,
		MaxAmount:      maxAmount,
		CreatedAtBlock: latestBlock,
		Status:         models.SessionAwaitingTransfer,
		MatchedAmount:  decimal.Zero,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		UpdatedAt:      now,
	}

	if err := s.ledger.CreateDepositSession(ctx, session); err != nil {
		return nil, err
	}

	s.ScheduleConfirmation(session.Id)

	zap.L().Info("Created deposit session",
		zap.String("session_id", session.Id),
		zap.String("user_id", userId),
		zap.String("deposit_address", session.DepositAddress),
		zap.String("expected_amount", expectedAmount.String()),
		zap.Uint64("created_at_block", latestBlock),
		zap.Time("expires_at", session.ExpiresAt))

	return &session, nil
}

// acceptanceBand derives the matching band: five percent around the expected
// amount when one was given, otherwise a 0.1 floor with no ceiling.
func acceptanceBand(expectedAmount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if expectedAmount.IsPositive() {
		return expectedAmount.Mul(bandLower), expectedAmount.Mul(bandUpper)
	}
	return minOpenAmount, decimal.Zero
}

// ConfirmSession runs one confirmation attempt. It is callable from the
// scheduled job and synchronously from user triggers with identical results.
// ErrNoMatchYet and ErrAwaitingConfirmations mean try again later;
// ErrSessionExpired is terminal.
func (s *Service) ConfirmSession(ctx context.Context, sessionId string) (*Confirmation, error) {
	session, err := s.ledger.GetDepositSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	// Already credited: answer from session state alone.
	if session.Status == models.SessionConfirmed {
		return &Confirmation{
			Status:        session.Status,
			MatchedAmount: session.MatchedAmount,
			TxHash:        session.MatchedTxHash,
			Credited:      true,
			TransactionId: session.LedgerTransactionId,
		}, nil
	}
	if session.Status == models.SessionExpired {
		return nil, fmt.Errorf("session %s - %w", sessionId, ErrSessionExpired)
	}

	// Wall-clock expiry applies only while no transfer has been seen. Once a
	// match is bound the session waits for confirmations however long mining
	// takes.
	if session.Status == models.SessionAwaitingTransfer && time.Now().After(session.ExpiresAt) {
		if err := s.ledger.TransitionSession(ctx, sessionId, models.SessionAwaitingTransfer, models.SessionExpired); err != nil {
			return nil, err
		}
		zap.L().Info("Deposit session expired",
			zap.String("session_id", sessionId),
			zap.Time("expires_at", session.ExpiresAt))
		return nil, fmt.Errorf("session %s - %w", sessionId, ErrSessionExpired)
	}

	latestBlock, err := s.observer.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	events, err := s.observer.TransferLogs(ctx, session.CreatedAtBlock, latestBlock, session.DepositAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to scan transfer logs: %w", err)
	}

	match, err := s.selectMatch(ctx, session, events)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, ErrNoMatchYet
	}

	// Binding is overwritable until the credit lands; it records what we saw,
	// it does not consume the event.
	err = s.ledger.BindDepositMatch(ctx, store.BindMatchParams{
		SessionId:   sessionId,
		TxHash:      match.TxHash,
		LogIndex:    match.LogIndex,
		FromAddress: match.From,
		Amount:      match.Amount,
		BlockNumber: match.BlockNumber,
	})
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionAwaitingTransfer {
		err = s.ledger.TransitionSession(ctx, sessionId, models.SessionAwaitingTransfer, models.SessionReceived)
		if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return nil, err
		}
		if err != nil {
			zap.L().Debug("Session already advanced by a concurrent attempt",
				zap.String("session_id", sessionId))
		}
	}

	confirmations := int64(latestBlock-match.BlockNumber) + 1
	if confirmations < s.cfg.RequiredConfirmations {
		zap.L().Debug("Deposit match awaiting confirmations",
			zap.String("session_id", sessionId),
			zap.String("tx_hash", match.TxHash),
			zap.Int64("confirmations", confirmations),
			zap.Int64("required", s.cfg.RequiredConfirmations))
		return nil, ErrAwaitingConfirmations
	}

	transaction, err := s.ledger.CreditDeposit(ctx, store.CreditDepositParams{
		SessionId:   sessionId,
		UserId:      session.UserId,
		Chain:       match.Chain,
		TxHash:      match.TxHash,
		LogIndex:    match.LogIndex,
		Amount:      match.Amount,
		ClassKey:    s.assets.StableClass(),
		AssetSymbol: s.assets.StableAsset(),
	})
	if err != nil {
		if errors.Is(err, store.ErrEventAlreadyProcessed) {
			return s.resolveCreditRace(ctx, sessionId)
		}
		return nil, err
	}

	zap.L().Info("Deposit session confirmed",
		zap.String("session_id", sessionId),
		zap.String("user_id", session.UserId),
		zap.String("tx_hash", match.TxHash),
		zap.String("amount", match.Amount.String()),
		zap.Int64("confirmations", confirmations),
		zap.String("transaction_id", transaction.Id))

	s.allocateCredit(ctx, session.UserId, sessionId, match.Amount)

	return &Confirmation{
		Status:        models.SessionConfirmed,
		MatchedAmount: match.Amount,
		TxHash:        match.TxHash,
		Confirmations: confirmations,
		Credited:      true,
		TransactionId: transaction.Id,
	}, nil
}

// selectMatch filters the scanned events and picks the oldest qualifying one,
// so concurrent scans converge on the same transfer and deposits credit in
// arrival order.
func (s *Service) selectMatch(ctx context.Context, session *models.DepositSession, events []models.TransferEvent) (*models.TransferEvent, error) {
	candidates := make([]models.TransferEvent, len(events))
	copy(candidates, events)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].BlockNumber == candidates[j].BlockNumber {
			return candidates[i].LogIndex < candidates[j].LogIndex
		}
		return candidates[i].BlockNumber < candidates[j].BlockNumber
	})

	for i := range candidates {
		event := &candidates[i]
		if !event.BlockTime.IsZero() && event.BlockTime.Before(session.CreatedAt) {
			continue
		}
		if !amountInBand(session, event.Amount) {
			continue
		}

		processed, err := s.ledger.IsEventProcessed(ctx, event.Chain, event.TxHash, event.LogIndex)
		if err != nil {
			return nil, err
		}
		if processed {
			continue
		}
		return event, nil
	}
	return nil, nil
}

func amountInBand(session *models.DepositSession, amount decimal.Decimal) bool {
	if amount.LessThan(session.MinAmount) {
		return false
	}
	if session.MaxAmount.IsPositive() && amount.GreaterThan(session.MaxAmount) {
		return false
	}
	return true
}

// resolveCreditRace handles a lost credit race: the marker exists, so either
// this session was credited by a concurrent attempt or another session
// consumed the event.
func (s *Service) resolveCreditRace(ctx context.Context, sessionId string) (*Confirmation, error) {
	session, err := s.ledger.GetDepositSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionConfirmed {
		return &Confirmation{
			Status:        session.Status,
			MatchedAmount: session.MatchedAmount,
			TxHash:        session.MatchedTxHash,
			Credited:      true,
			TransactionId: session.LedgerTransactionId,
		}, nil
	}

	zap.L().Debug("Matched event was consumed elsewhere, rescanning later",
		zap.String("session_id", sessionId))
	return nil, ErrNoMatchYet
}

// allocateCredit hands the credited amount to the rebalance side. Failure is
// logged, not returned: the credit stands either way and the periodic drift
// scan converges the portfolio onto its model.
func (s *Service) allocateCredit(ctx context.Context, userId, sessionId string, amount decimal.Decimal) {
	if s.allocator == nil {
		return
	}

	swaps, err := s.allocator.AllocateDeposit(ctx, userId, amount, sessionId)
	if err != nil {
		zap.L().Error("Failed to allocate credited deposit",
			zap.String("session_id", sessionId),
			zap.String("user_id", userId),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return
	}
	if len(swaps) > 0 {
		zap.L().Info("Deposit allocation submitted",
			zap.String("session_id", sessionId),
			zap.Int("swaps", len(swaps)))
	}
}

// ScheduleConfirmation registers the recurring confirmation job for a
// session. Duplicate keys are rejected by the scheduler, so this is safe to
// call again on recovery.
func (s *Service) ScheduleConfirmation(sessionId string) {
	jobKey := fmt.Sprintf("deposit-confirm:%s", sessionId)
	s.jobs.Schedule(jobKey, s.cfg.ConfirmInterval, s.cfg.ConfirmMaxAttempts, func(ctx context.Context) scheduler.Outcome {
		return s.confirmJob(ctx, sessionId)
	})
}

func (s *Service) confirmJob(ctx context.Context, sessionId string) scheduler.Outcome {
	confirmation, err := s.ConfirmSession(ctx, sessionId)
	switch {
	case err == nil:
		zap.L().Debug("Deposit confirmation finished",
			zap.String("session_id", sessionId),
			zap.Bool("credited", confirmation.Credited))
		return scheduler.Done()
	case errors.Is(err, ErrNoMatchYet):
		return scheduler.Retry("no match yet")
	case errors.Is(err, ErrAwaitingConfirmations):
		return scheduler.Retry("awaiting confirmations")
	case errors.Is(err, ErrSessionExpired):
		// Terminal business outcome; the job's work is finished.
		return scheduler.Done()
	case errors.Is(err, store.ErrSessionNotFound):
		return scheduler.Fatal(err)
	case errors.Is(err, store.ErrInvalidTransition):
		return scheduler.Retry("session state changed")
	default:
		zap.L().Warn("Deposit confirmation attempt failed",
			zap.String("session_id", sessionId),
			zap.Error(err))
		return scheduler.Retry("transient error")
	}
}
