package api

import (
	"context"
	"fmt"

	"kiota-savings-go/internal/rebalance"

	"go.uber.org/zap"
)

// CheckDrift returns the portfolio's drift against its model and whether a
// rebalance is due. Read-only.
func (s *SavingsService) CheckDrift(ctx context.Context, userId string) (*rebalance.DriftReport, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	drift, needed, err := s.planner.CheckDrift(ctx, userId)
	if err != nil {
		return nil, err
	}
	return &rebalance.DriftReport{Drift: drift, NeedsRebalance: needed}, nil
}

// RebalancePortfolio computes and submits the swap set that moves a portfolio
// back onto its model. A portfolio within tolerance returns a result with no
// swaps unless force is set.
func (s *SavingsService) RebalancePortfolio(ctx context.Context, userId string, force bool) (*rebalance.Result, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	result, err := s.planner.RebalancePortfolio(ctx, userId, force)
	if err != nil {
		zap.L().Error("Rebalance failed",
			zap.String("user_id", userId),
			zap.Bool("force", force),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}
