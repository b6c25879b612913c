package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferEvent is one ERC-20 Transfer log observed on chain, with the
// amount already scaled by the token's decimals.
type TransferEvent struct {
	Chain       string
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	BlockTime   time.Time
	From        string
	To          string
	Token       string
	Amount      decimal.Decimal
}
