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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositSessionReceipt is returned when a deposit session is opened
type DepositSessionReceipt struct {
	SessionId      string          `json:"session_id"`
	DepositAddress string          `json:"deposit_address"`
	Token          string          `json:"token"`
	MinAmount      decimal.Decimal `json:"min_amount"`
	MaxAmount      decimal.Decimal `json:"max_amount,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// DepositConfirmation represents the outcome of one confirmation check
type DepositConfirmation struct {
	SessionId     string          `json:"session_id"`
	Status        SessionStatus   `json:"status"`
	MatchedAmount decimal.Decimal `json:"matched_amount,omitempty"`
	TxHash        string          `json:"tx_hash,omitempty"`
	Confirmations int64           `json:"confirmations"`
	Credited      bool            `json:"credited"`
	TransactionId string          `json:"transaction_id,omitempty"`
}

// PortfolioView is a portfolio with its class holdings
type PortfolioView struct {
	Portfolio Portfolio `json:"portfolio"`
	Holdings  []Holding `json:"holdings"`
}

// TransactionRecord represents a ledger entry in the user's history
type TransactionRecord struct {
	Id          string          `json:"id"`
	Type        string          `json:"type"` // "deposit", "swap", "rebalance", "revaluation"
	ClassKey    string          `json:"class_key"`
	Asset       string          `json:"asset"`
	AmountUsd   decimal.Decimal `json:"amount_usd"`
	Units       decimal.Decimal `json:"units"`
	Reference   string          `json:"reference,omitempty"`
	Status      string          `json:"status"`
	ProcessedAt time.Time       `json:"processed_at"`
}
