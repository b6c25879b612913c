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

package database

const (
	// User queries
	queryGetActiveUsers = `
		SELECT id, name, email, deposit_address, created_at, updated_at
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, deposit_address) VALUES (?, ?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, deposit_address, created_at, updated_at
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByEmail = `
		SELECT id, name, email, deposit_address, created_at, updated_at
		FROM users
		WHERE email = ? AND active = 1`

	// Portfolio queries
	queryInsertPortfolio = `
		INSERT INTO portfolios (id, user_id, model_key, total_value_usd, version)
		VALUES (?, ?, ?, ?, 1)`

	queryGetPortfolioByUser = `
		SELECT id, user_id, model_key, total_value_usd, version, created_at, updated_at
		FROM portfolios
		WHERE user_id = ?`

	queryGetAllPortfolios = `
		SELECT id, user_id, model_key, total_value_usd, version, created_at, updated_at
		FROM portfolios
		ORDER BY created_at`

	queryUpdatePortfolioTotal = `
		UPDATE portfolios
		SET total_value_usd = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	queryGetHoldings = `
		SELECT id, portfolio_id, class_key, asset_symbol, units, usd_value, pct, updated_at
		FROM holdings
		WHERE portfolio_id = ?
		ORDER BY class_key`

	queryGetHolding = `
		SELECT id, portfolio_id, class_key, asset_symbol, units, usd_value, pct, updated_at
		FROM holdings
		WHERE portfolio_id = ? AND class_key = ?`

	queryInsertHolding = `
		INSERT INTO holdings (id, portfolio_id, class_key, asset_symbol, units, usd_value, pct)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryUpdateHolding = `
		UPDATE holdings
		SET units = ?, usd_value = ?, updated_at = CURRENT_TIMESTAMP
		WHERE portfolio_id = ? AND class_key = ?`

	queryUpdateHoldingPct = `
		UPDATE holdings
		SET pct = ?, updated_at = CURRENT_TIMESTAMP
		WHERE portfolio_id = ? AND class_key = ?`

	// Deposit session queries
	queryInsertDepositSession = `
		INSERT INTO deposit_sessions (
			id, user_id, deposit_address, token, expected_amount, min_amount, max_amount,
			created_at_block, status, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetDepositSession = `
		SELECT id, user_id, deposit_address, token, expected_amount, min_amount, max_amount,
		       created_at_block, status, matched_tx_hash, matched_log_index, matched_from,
		       matched_amount, matched_block, ledger_transaction_id,
		       created_at, expires_at, confirmed_at, updated_at
		FROM deposit_sessions
		WHERE id = ?`

	queryBindDepositMatch = `
		UPDATE deposit_sessions
		SET matched_tx_hash = ?, matched_log_index = ?, matched_from = ?, matched_amount = ?,
		    matched_block = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('AWAITING_TRANSFER', 'RECEIVED')`

	queryTransitionSession = `
		UPDATE deposit_sessions
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`

	queryConfirmSession = `
		UPDATE deposit_sessions
		SET status = 'CONFIRMED', ledger_transaction_id = ?, confirmed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('AWAITING_TRANSFER', 'RECEIVED')`

	queryListSessionsByStatus = `
		SELECT id, user_id, deposit_address, token, expected_amount, min_amount, max_amount,
		       created_at_block, status, matched_tx_hash, matched_log_index, matched_from,
		       matched_amount, matched_block, ledger_transaction_id,
		       created_at, expires_at, confirmed_at, updated_at
		FROM deposit_sessions
		WHERE status = ?
		ORDER BY created_at`

	// Processed event queries
	queryCheckEventProcessed = `
		SELECT 1 FROM processed_events WHERE chain = ? AND tx_hash = ? AND log_index = ? LIMIT 1`

	queryInsertProcessedEvent = `
		INSERT INTO processed_events (chain, tx_hash, log_index, session_id)
		VALUES (?, ?, ?, ?)`

	// Swap group queries
	queryInsertSwapGroup = `
		INSERT INTO swap_groups (id, user_id, kind, idempotency_key, drift, total_value)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetSwapGroupByKey = `
		SELECT id, user_id, kind, idempotency_key, drift, total_value, created_at
		FROM swap_groups
		WHERE idempotency_key = ?`

	// Swap transaction queries
	queryInsertSwapTransaction = `
		INSERT INTO swap_transactions (
			id, user_id, portfolio_id, group_id, from_class, to_class, from_asset, to_asset,
			usd_amount, estimated_out, actual_out, status, order_handle, provider_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '0', 'PENDING', ?, ?)`

	queryGetSwapTransaction = `
		SELECT id, user_id, portfolio_id, group_id, from_class, to_class, from_asset, to_asset,
		       usd_amount, estimated_out, actual_out, status, order_handle, provider_status,
		       settlement_tx_hash, failure_reason, created_at, updated_at, completed_at
		FROM swap_transactions
		WHERE id = ?`

	queryGetSwapTransactionByHandle = `
		SELECT id, user_id, portfolio_id, group_id, from_class, to_class, from_asset, to_asset,
		       usd_amount, estimated_out, actual_out, status, order_handle, provider_status,
		       settlement_tx_hash, failure_reason, created_at, updated_at, completed_at
		FROM swap_transactions
		WHERE order_handle = ?`

	queryListSwapsByStatus = `
		SELECT id, user_id, portfolio_id, group_id, from_class, to_class, from_asset, to_asset,
		       usd_amount, estimated_out, actual_out, status, order_handle, provider_status,
		       settlement_tx_hash, failure_reason, created_at, updated_at, completed_at
		FROM swap_transactions
		WHERE status = ?
		ORDER BY created_at`

	queryUpdateSwapProviderStatus = `
		UPDATE swap_transactions
		SET provider_status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	queryCompleteSwapTransaction = `
		UPDATE swap_transactions
		SET status = 'COMPLETED', actual_out = ?, settlement_tx_hash = ?, provider_status = 'completed',
		    completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'`

	queryFailSwapTransaction = `
		UPDATE swap_transactions
		SET status = 'FAILED', failure_reason = ?, provider_status = 'failed', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'PENDING'`

	// Ledger transaction queries
	queryInsertTransaction = `
		INSERT INTO ledger_transactions (
			id, user_id, transaction_type, class_key, asset, amount_usd, units,
			balance_before, balance_after, reference, status, created_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, user_id, transaction_type, class_key, asset, amount_usd, units,
		          balance_before, balance_after, reference, status, created_at, processed_at`

	queryGetTransactionHistory = `
		SELECT id, user_id, transaction_type, class_key, asset, amount_usd, units,
		       balance_before, balance_after, reference, status, created_at, processed_at
		FROM ledger_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
)
