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

package rebalance

import (
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// driftThreshold is the total drift, in percentage points, above which a
	// portfolio is considered out of balance.
	driftThreshold = decimal.NewFromInt(5)

	// dustThreshold is the USD amount below which a delta is not worth
	// swapping. Class deltas within the band are ignored outright and no
	// emitted instruction may fall below it.
	dustThreshold = decimal.NewFromInt(1)

	hundred = decimal.NewFromInt(100)
)

// SwapInstruction is one computed source-to-sink move. It is ephemeral: the
// coordinator turns accepted instructions into persisted swap transactions.
type SwapInstruction struct {
	FromClass string
	ToClass   string
	FromAsset string
	ToAsset   string
	UsdAmount decimal.Decimal
}

// Plan is the full rebalance decision for one portfolio.
type Plan struct {
	NeedsRebalance bool
	Drift          decimal.Decimal
	Swaps          []SwapInstruction
	TotalSwapValue decimal.Decimal
}

// AssetResolver maps an asset class key to its tradable asset symbol.
type AssetResolver interface {
	AssetFor(classKey string) (string, error)
}

// Calculator derives swap instructions from allocation drift. It holds no
// state beyond the class-to-asset mapping and performs no I/O, so the same
// inputs always produce the same plan.
type Calculator struct {
	resolver AssetResolver
}

func NewCalculator(resolver AssetResolver) *Calculator {
	return &Calculator{resolver: resolver}
}

// Drift is the sum of absolute percentage-point differences between the
// current and target allocation across all classes.
func Drift(current, target map[string]decimal.Decimal) decimal.Decimal {
	drift := decimal.Zero
	for _, classKey := range unionKeys(current, target) {
		gap := classValue(target, classKey).Sub(classValue(current, classKey))
		drift = drift.Add(gap.Abs())
	}
	return drift
}

// NeedsRebalance reports whether drift exceeds the threshold. The scalar
// drift is the sole trigger; there is no per-class threshold.
func NeedsRebalance(current, target map[string]decimal.Decimal) bool {
	return Drift(current, target).GreaterThan(driftThreshold)
}

// Calculate composes drift detection and instruction generation. When drift
// is at or below the threshold the plan carries no swaps regardless of
// balances.
func (c *Calculator) Calculate(current, target map[string]decimal.Decimal, totalValue decimal.Decimal, balances map[string]decimal.Decimal) (*Plan, error) {
	plan := &Plan{
		Drift:          Drift(current, target),
		TotalSwapValue: decimal.Zero,
	}
	plan.NeedsRebalance = plan.Drift.GreaterThan(driftThreshold)
	if !plan.NeedsRebalance {
		return plan, nil
	}

	swaps, err := c.RequiredSwaps(current, target, totalValue, balances)
	if err != nil {
		return nil, err
	}

	plan.Swaps = swaps
	for _, swap := range swaps {
		plan.TotalSwapValue = plan.TotalSwapValue.Add(swap.UsdAmount)
	}
	return plan, nil
}

// RequiredSwaps matches over-allocated classes (sources) to under-allocated
// classes (sinks) greedily, largest amounts first. The matching is
// deterministic and explainable rather than globally optimal: it does not net
// swaps down to a minimal count, and that is an accepted trade.
func (c *Calculator) RequiredSwaps(current, target map[string]decimal.Decimal, totalValue decimal.Decimal, balances map[string]decimal.Decimal) ([]SwapInstruction, error) {
	if !totalValue.IsPositive() {
		return nil, nil
	}

	var sources, sinks []classDelta
	for _, classKey := range unionKeys(current, target) {
		gap := classValue(target, classKey).Sub(classValue(current, classKey))
		delta := gap.Div(hundred).Mul(totalValue)
		switch {
		case delta.LessThan(dustThreshold.Neg()):
			sources = append(sources, classDelta{classKey: classKey, amount: delta.Neg()})
		case delta.GreaterThan(dustThreshold):
			sinks = append(sinks, classDelta{classKey: classKey, amount: delta})
		}
	}
	if len(sources) == 0 || len(sinks) == 0 {
		return nil, nil
	}

	sortLargestFirst(sources)
	sortLargestFirst(sinks)

	var swaps []SwapInstruction
	for i := range sources {
		remaining := sources[i].amount

		// A class cannot shed more than it actually holds. The clamp rounds
		// down so a partial swap never overdraws by a sub-cent fragment.
		if held := classValue(balances, sources[i].classKey); held.LessThan(remaining) {
			remaining = held.RoundDown(2)
		}

		for j := range sinks {
			if !remaining.IsPositive() {
				break
			}
			if sinks[j].amount.LessThan(dustThreshold) {
				continue
			}

			amount := decimal.Min(remaining, sinks[j].amount)
			if amount.GreaterThanOrEqual(dustThreshold) {
				instruction, err := c.instruction(sources[i].classKey, sinks[j].classKey, amount)
				if err != nil {
					return nil, err
				}
				swaps = append(swaps, instruction)
			}

			remaining = remaining.Sub(amount)
			sinks[j].amount = sinks[j].amount.Sub(amount)
		}
	}
	return swaps, nil
}

func (c *Calculator) instruction(fromClass, toClass string, amount decimal.Decimal) (SwapInstruction, error) {
	fromAsset, err := c.resolver.AssetFor(fromClass)
	if err != nil {
		return SwapInstruction{}, err
	}
	toAsset, err := c.resolver.AssetFor(toClass)
	if err != nil {
		return SwapInstruction{}, err
	}
	return SwapInstruction{
		FromClass: fromClass,
		ToClass:   toClass,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		UsdAmount: amount,
	}, nil
}

type classDelta struct {
	classKey string
	amount   decimal.Decimal
}

// sortLargestFirst orders deltas by descending amount, breaking ties on class
// key so repeated runs over the same inputs emit the same instruction order.
func sortLargestFirst(deltas []classDelta) {
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].amount.Equal(deltas[j].amount) {
			return deltas[i].classKey < deltas[j].classKey
		}
		return deltas[i].amount.GreaterThan(deltas[j].amount)
	})
}

func classValue(values map[string]decimal.Decimal, classKey string) decimal.Decimal {
	if value, ok := values[classKey]; ok {
		return value
	}
	return decimal.Zero
}

func unionKeys(current, target map[string]decimal.Decimal) []string {
	seen := make(map[string]struct{}, len(current)+len(target))
	for classKey := range current {
		seen[classKey] = struct{}{}
	}
	for classKey := range target {
		seen[classKey] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for classKey := range seen {
		keys = append(keys, classKey)
	}
	sort.Strings(keys)
	return keys
}
