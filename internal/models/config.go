package models

import "time"

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Chain    ChainConfig
	Deposit  DepositConfig
	Swap     SwapConfig
	Worker   WorkerConfig
	Registry RegistryConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	CreateDemoUsers bool
}

// ChainConfig holds chain observer settings. The engine watches a single
// ERC-20 token contract on a single EVM chain.
type ChainConfig struct {
	Name           string // chain identifier recorded on processed events, e.g. "base-mainnet"
	RpcEndpoint    string
	ApiKey         string
	TokenSymbol    string
	TokenAddress   string
	TokenDecimals  int
	RateLimit      float64 // RPC requests per second
	RateBurst      int
	RequestTimeout time.Duration
}

// DepositConfig holds deposit session settings
type DepositConfig struct {
	SessionTTL            time.Duration
	RequiredConfirmations int64
	ConfirmInterval       time.Duration
	ConfirmMaxAttempts    int
}

// SwapConfig holds swap provider settings
type SwapConfig struct {
	BaseUrl         string
	ApiKey          string
	SlippageBps     int
	PollInterval    time.Duration
	PollMaxAttempts int
}

// WorkerConfig holds engine background-loop settings
type WorkerConfig struct {
	RevalueInterval   time.Duration
	DriftScanInterval time.Duration
	RecoveryTimeout   time.Duration
}

// RegistryConfig holds asset registry settings
type RegistryConfig struct {
	File string
}
