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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"kiota-savings-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := getEnvDuration("CHAIN_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := getEnvDuration("DEPOSIT_SESSION_TTL", 60*time.Minute)
	if err != nil {
		return nil, err
	}

	confirmInterval, err := getEnvDuration("DEPOSIT_CONFIRM_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvDuration("SWAP_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, err
	}

	revalueInterval, err := getEnvDuration("REVALUE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	driftScanInterval, err := getEnvDuration("DRIFT_SCAN_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	recoveryTimeout, err := getEnvDuration("RECOVERY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "savings.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			CreateDemoUsers: getEnvBool("CREATE_DEMO_USERS", false),
		},
		Chain: models.ChainConfig{
			Name:           getEnvString("CHAIN_NAME", "base-mainnet"),
			RpcEndpoint:    getEnvString("CHAIN_RPC_ENDPOINT", ""),
			ApiKey:         getEnvString("CHAIN_API_KEY", ""),
			TokenSymbol:    getEnvString("TOKEN_SYMBOL", "USDC"),
			TokenAddress:   getEnvString("TOKEN_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			TokenDecimals:  getEnvInt("TOKEN_DECIMALS", 6),
			RateLimit:      getEnvFloat("CHAIN_RATE_LIMIT", 5),
			RateBurst:      getEnvInt("CHAIN_RATE_BURST", 2),
			RequestTimeout: requestTimeout,
		},
		Deposit: models.DepositConfig{
			SessionTTL:            sessionTTL,
			RequiredConfirmations: int64(getEnvInt("REQUIRED_CONFIRMATIONS", 2)),
			ConfirmInterval:       confirmInterval,
			ConfirmMaxAttempts:    getEnvInt("DEPOSIT_CONFIRM_MAX_ATTEMPTS", 240),
		},
		Swap: models.SwapConfig{
			BaseUrl:         getEnvString("SWAP_PROVIDER_URL", ""),
			ApiKey:          getEnvString("SWAP_PROVIDER_API_KEY", ""),
			SlippageBps:     getEnvInt("SWAP_SLIPPAGE_BPS", 50),
			PollInterval:    pollInterval,
			PollMaxAttempts: getEnvInt("SWAP_POLL_MAX_ATTEMPTS", 360),
		},
		Worker: models.WorkerConfig{
			RevalueInterval:   revalueInterval,
			DriftScanInterval: driftScanInterval,
			RecoveryTimeout:   recoveryTimeout,
		},
		Registry: models.RegistryConfig{
			File: getEnvString("REGISTRY_FILE", "registry.yaml"),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
