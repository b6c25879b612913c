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

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kiota-savings-go/internal/deposit"
	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/pricing"
	"kiota-savings-go/internal/rebalance"
	"kiota-savings-go/internal/store"
	"kiota-savings-go/internal/swap"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the ledger slice the engine needs.
type Store interface {
	ListSessionsByStatus(ctx context.Context, statuses ...models.SessionStatus) ([]models.DepositSession, error)
	ListSwapTransactionsByStatus(ctx context.Context, status models.SwapStatus) ([]models.SwapTransaction, error)
	GetPortfolios(ctx context.Context) ([]models.Portfolio, error)
	RevaluePortfolio(ctx context.Context, userId string, prices map[string]decimal.Decimal) error
}

var _ Store = store.LedgerStore(nil)

// Deposits re-registers confirmation jobs for live sessions.
type Deposits interface {
	ScheduleConfirmation(sessionId string)
}

var _ Deposits = (*deposit.Service)(nil)

// Swaps re-registers poll jobs for in-flight swaps.
type Swaps interface {
	SchedulePoll(swapId string)
}

var _ Swaps = (*swap.Coordinator)(nil)

// Planner runs the automatic drift-triggered rebalance.
type Planner interface {
	RebalancePortfolio(ctx context.Context, userId string, force bool) (*rebalance.Result, error)
}

var _ Planner = (*rebalance.Service)(nil)

// Prices supplies the current price table for revaluation.
type Prices interface {
	Snapshot() map[string]decimal.Decimal
}

var _ Prices = (*pricing.Static)(nil)

// EngineConfig contains configuration for the worker engine.
type EngineConfig struct {
	DbService Store
	Deposits  Deposits
	Swaps     Swaps
	Planner   Planner
	Prices    Prices
	Config    models.WorkerConfig
}

// Engine owns the long-running side of the system: startup recovery of
// interrupted jobs, the periodic portfolio revaluation, and the periodic
// drift scan that auto-rebalances portfolios off their model.
type Engine struct {
	dbService Store
	deposits  Deposits
	swaps     Swaps
	planner   Planner
	prices    Prices

	revalueInterval time.Duration
	driftInterval   time.Duration
	recoveryTimeout time.Duration

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		dbService:       cfg.DbService,
		deposits:        cfg.Deposits,
		swaps:           cfg.Swaps,
		planner:         cfg.Planner,
		prices:          cfg.Prices,
		revalueInterval: cfg.Config.RevalueInterval,
		driftInterval:   cfg.Config.DriftScanInterval,
		recoveryTimeout: cfg.Config.RecoveryTimeout,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start recovers interrupted jobs and begins the periodic loops.
func (e *Engine) Start(ctx context.Context) error {
	zap.L().Info("Starting savings engine")

	if err := e.performStartupRecovery(ctx); err != nil {
		zap.L().Error("Startup recovery failed", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.revalueLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.driftLoop(ctx)
	}()
	go func() {
		wg.Wait()
		close(e.doneChan)
	}()

	zap.L().Info("Savings engine started successfully",
		zap.Duration("revalue_interval", e.revalueInterval),
		zap.Duration("drift_scan_interval", e.driftInterval))

	return nil
}

// Stop gracefully stops the engine loops. Scheduled jobs keep their own
// lifecycle; stopping the scheduler is the caller's shutdown step.
func (e *Engine) Stop() {
	zap.L().Info("Stopping savings engine")
	close(e.stopChan)
	<-e.doneChan
	zap.L().Info("Savings engine stopped")
}

// performStartupRecovery re-registers the recurring jobs that were live when
// the previous process exited: confirmation jobs for sessions still waiting
// on a transfer or on depth, and poll jobs for swaps still pending. Both
// scans run concurrently under one deadline.
func (e *Engine) performStartupRecovery(ctx context.Context) error {
	zap.L().Info("Starting startup recovery process")

	recoveryCtx := ctx
	if e.recoveryTimeout > 0 {
		var cancel context.CancelFunc
		recoveryCtx, cancel = context.WithTimeout(ctx, e.recoveryTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(recoveryCtx)

	var sessionCount, swapCount int
	g.Go(func() error {
		sessions, err := e.dbService.ListSessionsByStatus(gctx,
			models.SessionAwaitingTransfer, models.SessionReceived)
		if err != nil {
			return fmt.Errorf("failed to list live deposit sessions: %w", err)
		}
		for _, session := range sessions {
			e.deposits.ScheduleConfirmation(session.Id)
		}
		sessionCount = len(sessions)
		return nil
	})

	g.Go(func() error {
		pending, err := e.dbService.ListSwapTransactionsByStatus(gctx, models.SwapPending)
		if err != nil {
			return fmt.Errorf("failed to list pending swaps: %w", err)
		}
		for _, transaction := range pending {
			e.swaps.SchedulePoll(transaction.Id)
		}
		swapCount = len(pending)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("Startup recovery completed successfully",
		zap.Int("sessions_recovered", sessionCount),
		zap.Int("swaps_recovered", swapCount))
	return nil
}

// revalueLoop runs the periodic portfolio revaluation.
func (e *Engine) revalueLoop(ctx context.Context) {
	ticker := time.NewTicker(e.revalueInterval)
	defer ticker.Stop()

	e.revaluePortfolios(ctx)

	for {
		select {
		case <-ticker.C:
			e.revaluePortfolios(ctx)
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// driftLoop runs the periodic drift scan.
func (e *Engine) driftLoop(ctx context.Context) {
	ticker := time.NewTicker(e.driftInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.scanDrift(ctx)
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// revaluePortfolios reprices every portfolio's holdings from the current
// price table. One failing portfolio does not stop the sweep.
func (e *Engine) revaluePortfolios(ctx context.Context) {
	prices := e.prices.Snapshot()

	portfolios, err := e.dbService.GetPortfolios(ctx)
	if err != nil {
		zap.L().Error("Failed to list portfolios for revaluation", zap.Error(err))
		return
	}

	revalued := 0
	for _, portfolio := range portfolios {
		if err := e.dbService.RevaluePortfolio(ctx, portfolio.UserId, prices); err != nil {
			zap.L().Error("Failed to revalue portfolio",
				zap.String("user_id", portfolio.UserId),
				zap.String("portfolio_id", portfolio.Id),
				zap.Error(err))
			continue
		}
		revalued++
	}

	zap.L().Debug("Portfolios revalued",
		zap.Int("revalued", revalued),
		zap.Int("total", len(portfolios)))
}

// scanDrift checks every portfolio against its model and submits a rebalance
// where drift exceeds the threshold. The hour-window group key means a
// portfolio is rebalanced at most once per window no matter how often the
// scan fires.
func (e *Engine) scanDrift(ctx context.Context) {
	portfolios, err := e.dbService.GetPortfolios(ctx)
	if err != nil {
		zap.L().Error("Failed to list portfolios for drift scan", zap.Error(err))
		return
	}

	for _, portfolio := range portfolios {
		result, err := e.planner.RebalancePortfolio(ctx, portfolio.UserId, false)
		if err != nil {
			zap.L().Error("Drift scan rebalance failed",
				zap.String("user_id", portfolio.UserId),
				zap.Error(err))
			continue
		}
		if result.GroupId != "" {
			zap.L().Info("Auto-rebalance submitted",
				zap.String("user_id", portfolio.UserId),
				zap.String("group_id", result.GroupId),
				zap.String("drift", result.Drift.String()),
				zap.Int("swaps", len(result.Swaps)))
		}
	}
}
