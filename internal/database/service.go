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

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.LedgerStore.
var _ store.LedgerStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.initSchema(cfg.CreateDemoUsers); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(createDemoUsers bool) error {
	schema := `
	-- Create users table
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		deposit_address TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_deposit_address ON users(deposit_address);

	-- Portfolios (current state - hot data)
	CREATE TABLE IF NOT EXISTS portfolios (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		model_key TEXT NOT NULL,
		total_value_usd TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Class holdings within a portfolio
	CREATE TABLE IF NOT EXISTS holdings (
		id TEXT PRIMARY KEY,
		portfolio_id TEXT NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
		class_key TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		units TEXT NOT NULL DEFAULT '0',
		usd_value TEXT NOT NULL DEFAULT '0',
		pct TEXT NOT NULL DEFAULT '0',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(portfolio_id, class_key)
	);

	CREATE INDEX IF NOT EXISTS idx_holdings_portfolio ON holdings(portfolio_id);

	-- Deposit sessions
	CREATE TABLE IF NOT EXISTS deposit_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		deposit_address TEXT NOT NULL,
		token TEXT NOT NULL,
		expected_amount TEXT NOT NULL DEFAULT '0',
		min_amount TEXT NOT NULL,
		max_amount TEXT NOT NULL DEFAULT '0',
		created_at_block INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'AWAITING_TRANSFER',
		matched_tx_hash TEXT NOT NULL DEFAULT '',
		matched_log_index INTEGER NOT NULL DEFAULT 0,
		matched_from TEXT NOT NULL DEFAULT '',
		matched_amount TEXT NOT NULL DEFAULT '0',
		matched_block INTEGER NOT NULL DEFAULT 0,
		ledger_transaction_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		confirmed_at TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_sessions_user ON deposit_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_deposit_sessions_status ON deposit_sessions(status);

	-- Processed events: the idempotency gate for crediting
	CREATE TABLE IF NOT EXISTS processed_events (
		chain TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chain, tx_hash, log_index)
	);

	-- Swap groups
	CREATE TABLE IF NOT EXISTS swap_groups (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		drift TEXT NOT NULL DEFAULT '0',
		total_value TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Swap transactions
	CREATE TABLE IF NOT EXISTS swap_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		portfolio_id TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		from_class TEXT NOT NULL,
		to_class TEXT NOT NULL,
		from_asset TEXT NOT NULL,
		to_asset TEXT NOT NULL,
		usd_amount TEXT NOT NULL,
		estimated_out TEXT NOT NULL DEFAULT '0',
		actual_out TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'PENDING',
		order_handle TEXT NOT NULL UNIQUE,
		provider_status TEXT NOT NULL DEFAULT 'created',
		settlement_tx_hash TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_swap_transactions_status ON swap_transactions(status);
	CREATE INDEX IF NOT EXISTS idx_swap_transactions_group ON swap_transactions(group_id);

	-- Ledger transactions (audit trail - cold data)
	CREATE TABLE IF NOT EXISTS ledger_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		class_key TEXT NOT NULL,
		asset TEXT NOT NULL,
		amount_usd TEXT NOT NULL,
		units TEXT NOT NULL DEFAULT '0',
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference TEXT,
		status TEXT DEFAULT 'confirmed',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_user ON ledger_transactions(user_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_created_at ON ledger_transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_transactions_reference ON ledger_transactions(reference);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	// Insert demo users for local testing if configured to do so
	if createDemoUsers {
		users := []struct {
			id      string
			name    string
			email   string
			address string
		}{
			{uuid.New().String(), "Alice Johnson", "alice.johnson@example.com", "0x1111111111111111111111111111111111111111"},
			{uuid.New().String(), "Bob Smith", "bob.smith@example.com", "0x2222222222222222222222222222222222222222"},
			{uuid.New().String(), "Carol Williams", "carol.williams@example.com", "0x3333333333333333333333333333333333333333"},
		}

		for _, user := range users {
			_, err := s.db.Exec(queryInsertUser, user.id, user.name, user.email, user.address)
			if err != nil {
				zap.L().Error("Failed to insert demo user", zap.String("name", user.name), zap.Error(err))
			} else {
				zap.L().Info("Demo user created", zap.String("id", user.id), zap.String("name", user.name))
			}
		}
	} else {
		zap.L().Info("Skipping demo user creation (CREATE_DEMO_USERS=false)")
	}

	return nil
}

// isUniqueConstraintError reports whether err is an SQLite uniqueness
// violation (duplicate primary key or UNIQUE index).
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// parseDecimal converts a stored TEXT amount back to a decimal, naming the
// column in the error for easier debugging.
func parseDecimal(value, column string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse %s %q: %w", column, value, err)
	}
	return d, nil
}
