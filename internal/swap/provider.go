package swap

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderState collapses provider status strings into the three phases the
// coordinator acts on.
type OrderState string

const (
	OrderStatePending   OrderState = "pending"
	OrderStateCompleted OrderState = "completed"
	OrderStateFailed    OrderState = "failed"
)

// OrderStatus is one poll result. ProviderStatus carries the raw provider
// phase for observability; ActualOutput and SettlementTxHash are only set on
// completed orders, Reason only on failed ones.
type OrderStatus struct {
	State            OrderState
	ProviderStatus   string
	ActualOutput     decimal.Decimal
	SettlementTxHash string
	Reason           string
}

// SubmitOrderParams describes one order. OrderHandle is the client-assigned
// order id; submitting the same handle twice must not create a second order.
type SubmitOrderParams struct {
	OrderHandle string
	FromAsset   string
	ToAsset     string
	UsdAmount   decimal.Decimal
	SlippageBps int
}

// Provider executes swap orders against an external venue.
type Provider interface {
	SubmitOrder(ctx context.Context, params SubmitOrderParams) error
	OrderStatus(ctx context.Context, orderHandle string) (*OrderStatus, error)
}
