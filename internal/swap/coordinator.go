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

package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/scheduler"
	"kiota-savings-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrStillPending signals that the provider has not finished the order yet
// and the caller should poll again later.
var ErrStillPending = errors.New("swap still pending")

const (
	providerStatusCreated   = "created"
	providerStatusSubmitted = "submitted"
)

// Store is the slice of the ledger the coordinator needs.
type Store interface {
	CreateSwapTransaction(ctx context.Context, params store.CreateSwapParams) (*models.SwapTransaction, bool, error)
	GetSwapTransaction(ctx context.Context, swapId string) (*models.SwapTransaction, error)
	UpdateSwapProviderStatus(ctx context.Context, swapId, providerStatus string) error
	CompleteSwapSettlement(ctx context.Context, params store.SettleSwapParams) (bool, error)
	FailSwapTransaction(ctx context.Context, swapId, reason string) error
}

var _ Store = store.LedgerStore(nil)

// PriceSource values assets in USD.
type PriceSource interface {
	Price(asset string) (decimal.Decimal, error)
}

// Scheduler is the recurring-job surface the coordinator drives.
type Scheduler interface {
	Schedule(jobKey string, interval time.Duration, maxAttempts int, handler scheduler.Handler) bool
	Cancel(jobKey string)
}

var _ Scheduler = (*scheduler.Scheduler)(nil)

// SubmitParams describes one swap to execute. OrderHandle is optional: when
// set, resubmission with the same handle returns the existing transaction
// instead of creating a second one; when empty a fresh handle is generated.
type SubmitParams struct {
	UserId      string
	PortfolioId string
	GroupId     string
	FromClass   string
	ToClass     string
	FromAsset   string
	ToAsset     string
	UsdAmount   decimal.Decimal
	OrderHandle string
}

// Coordinator submits swap orders and drives them to settlement. The balance
// mutation happens exactly once, on the first poll that observes the order
// completed, inside the same transactional unit as the status flip.
type Coordinator struct {
	ledger   Store
	provider Provider
	prices   PriceSource
	jobs     Scheduler
	cfg      models.SwapConfig
}

func NewCoordinator(ledger Store, provider Provider, prices PriceSource, jobs Scheduler, cfg models.SwapConfig) *Coordinator {
	return &Coordinator{
		ledger:   ledger,
		provider: provider,
		prices:   prices,
		jobs:     jobs,
		cfg:      cfg,
	}
}

// Submit persists a PENDING swap, hands the order to the provider, and
// schedules the status poll. A provider outage during submission does not
// fail the swap: the poll job re-submits as long as the provider status is
// still "created".
func (c *Coordinator) Submit(ctx context.Context, params SubmitParams) (*models.SwapTransaction, error) {
	if !params.UsdAmount.IsPositive() {
		return nil, fmt.Errorf("swap amount must be positive, got %s", params.UsdAmount.String())
	}
	if params.FromAsset == params.ToAsset {
		return nil, fmt.Errorf("swap from and to assets must differ, got %s", params.FromAsset)
	}

	orderHandle := params.OrderHandle
	if orderHandle == "" {
		orderHandle = uuid.New().String()
	}

	toPrice, err := c.assetPrice(params.ToAsset)
	if err != nil {
		return nil, err
	}
	estimatedOut := params.UsdAmount.Div(toPrice)

	transaction, existed, err := c.ledger.CreateSwapTransaction(ctx, store.CreateSwapParams{
		UserId:       params.UserId,
		PortfolioId:  params.PortfolioId,
		GroupId:      params.GroupId,
		FromClass:    params.FromClass,
		ToClass:      params.ToClass,
		FromAsset:    params.FromAsset,
		ToAsset:      params.ToAsset,
		UsdAmount:    params.UsdAmount,
		EstimatedOut: estimatedOut,
		OrderHandle:  orderHandle,
	})
	if err != nil {
		return nil, err
	}
	if existed {
		zap.L().Info("Swap already exists for order handle",
			zap.String("swap_id", transaction.Id),
			zap.String("order_handle", orderHandle))
		if transaction.Status == models.SwapPending {
			c.SchedulePoll(transaction.Id)
		}
		return transaction, nil
	}

	if err := c.submitOrder(ctx, transaction); err != nil {
		zap.L().Warn("Order submission failed, poll will re-submit",
			zap.String("swap_id", transaction.Id),
			zap.Error(err))
	}

	c.SchedulePoll(transaction.Id)
	return transaction, nil
}

// Poll checks the provider once and advances the swap accordingly. It
// returns ErrStillPending while the order is in flight; other errors are
// transient and safe to retry. Terminal swaps are returned unchanged.
func (c *Coordinator) Poll(ctx context.Context, swapId string) (*models.SwapTransaction, error) {
	transaction, err := c.ledger.GetSwapTransaction(ctx, swapId)
	if err != nil {
		return nil, err
	}

	if transaction.Status != models.SwapPending {
		return transaction, nil
	}

	// A swap still marked "created" never reached the provider; submit it
	// before asking for a status.
	if transaction.ProviderStatus == providerStatusCreated {
		if err := c.submitOrder(ctx, transaction); err != nil {
			return nil, err
		}
		return transaction, ErrStillPending
	}

	status, err := c.provider.OrderStatus(ctx, transaction.OrderHandle)
	if err != nil {
		return nil, err
	}

	switch status.State {
	case OrderStateCompleted:
		return c.settle(ctx, transaction, status)

	case OrderStateFailed:
		if err := c.ledger.FailSwapTransaction(ctx, transaction.Id, status.Reason); err != nil {
			return nil, err
		}
		zap.L().Warn("Swap failed at provider",
			zap.String("swap_id", transaction.Id),
			zap.String("order_handle", transaction.OrderHandle),
			zap.String("reason", status.Reason))
		return c.ledger.GetSwapTransaction(ctx, transaction.Id)

	default:
		if status.ProviderStatus != "" && status.ProviderStatus != transaction.ProviderStatus {
			if err := c.ledger.UpdateSwapProviderStatus(ctx, transaction.Id, status.ProviderStatus); err != nil {
				zap.L().Warn("Failed to record provider status",
					zap.String("swap_id", transaction.Id),
					zap.Error(err))
			}
		}
		return transaction, ErrStillPending
	}
}

// SchedulePoll registers the recurring status poll for a swap. Calling it for
// an already-polled swap is a no-op: the scheduler rejects duplicate keys.
func (c *Coordinator) SchedulePoll(swapId string) {
	jobKey := fmt.Sprintf("swap-poll:%s", swapId)
	c.jobs.Schedule(jobKey, c.cfg.PollInterval, c.cfg.PollMaxAttempts, func(ctx context.Context) scheduler.Outcome {
		return c.pollJob(ctx, swapId)
	})
}

func (c *Coordinator) pollJob(ctx context.Context, swapId string) scheduler.Outcome {
	transaction, err := c.Poll(ctx, swapId)
	switch {
	case errors.Is(err, ErrStillPending):
		return scheduler.Retry("order pending")
	case errors.Is(err, store.ErrSwapNotFound):
		return scheduler.Fatal(err)
	case err != nil:
		zap.L().Warn("Swap poll failed",
			zap.String("swap_id", swapId),
			zap.Error(err))
		return scheduler.Retry("provider error")
	}

	zap.L().Debug("Swap reached terminal state",
		zap.String("swap_id", swapId),
		zap.String("status", string(transaction.Status)))
	return scheduler.Done()
}

func (c *Coordinator) submitOrder(ctx context.Context, transaction *models.SwapTransaction) error {
	err := c.provider.SubmitOrder(ctx, SubmitOrderParams{
		OrderHandle: transaction.OrderHandle,
		FromAsset:   transaction.FromAsset,
		ToAsset:     transaction.ToAsset,
		UsdAmount:   transaction.UsdAmount,
		SlippageBps: c.cfg.SlippageBps,
	})
	if err != nil {
		return fmt.Errorf("failed to submit order %s: %w", transaction.OrderHandle, err)
	}

	if err := c.ledger.UpdateSwapProviderStatus(ctx, transaction.Id, providerStatusSubmitted); err != nil {
		// Not fatal: the next poll re-submits and the provider dedupes on the
		// order handle.
		zap.L().Warn("Failed to record provider status",
			zap.String("swap_id", transaction.Id),
			zap.Error(err))
	}
	return nil
}

// settle applies the actual fill, never the estimate. A partial fill is
// recorded as-is.
func (c *Coordinator) settle(ctx context.Context, transaction *models.SwapTransaction, status *OrderStatus) (*models.SwapTransaction, error) {
	if !status.ActualOutput.IsPositive() {
		return nil, fmt.Errorf("completed order %s reported no output", transaction.OrderHandle)
	}

	fromPrice, err := c.assetPrice(transaction.FromAsset)
	if err != nil {
		return nil, err
	}
	toPrice, err := c.assetPrice(transaction.ToAsset)
	if err != nil {
		return nil, err
	}

	deltas := []store.BalanceDelta{
		{
			ClassKey:    transaction.FromClass,
			AssetSymbol: transaction.FromAsset,
			Units:       transaction.UsdAmount.Div(fromPrice).Neg(),
			UsdValue:    transaction.UsdAmount.Neg(),
		},
		{
			ClassKey:    transaction.ToClass,
			AssetSymbol: transaction.ToAsset,
			Units:       status.ActualOutput,
			UsdValue:    status.ActualOutput.Mul(toPrice),
		},
	}

	settled, err := c.ledger.CompleteSwapSettlement(ctx, store.SettleSwapParams{
		SwapId:           transaction.Id,
		ActualOut:        status.ActualOutput,
		SettlementTxHash: status.SettlementTxHash,
		Deltas:           deltas,
	})
	if err != nil {
		return nil, err
	}

	if settled {
		zap.L().Info("Swap settled",
			zap.String("swap_id", transaction.Id),
			zap.String("order_handle", transaction.OrderHandle),
			zap.String("actual_out", status.ActualOutput.String()),
			zap.String("settlement_tx", status.SettlementTxHash))
	} else {
		zap.L().Debug("Swap already settled by another invocation",
			zap.String("swap_id", transaction.Id))
	}

	return c.ledger.GetSwapTransaction(ctx, transaction.Id)
}

func (c *Coordinator) assetPrice(asset string) (decimal.Decimal, error) {
	price, err := c.prices.Price(asset)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no positive price for asset %s", asset)
	}
	return price, nil
}
