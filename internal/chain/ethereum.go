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

package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"kiota-savings-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// transferEventSignature is the canonical ERC-20 Transfer event.
const transferEventSignature = "Transfer(address,address,uint256)"

// Compile-time check: *EthereumObserver must satisfy Observer.
var _ Observer = (*EthereumObserver)(nil)

// EthereumObserver watches a single ERC-20 token on an EVM chain. All RPC
// calls share one rate limiter so provider quotas hold across concurrent
// confirmation jobs.
type EthereumObserver struct {
	client        *ethclient.Client
	limiter       *rate.Limiter
	cfg           models.ChainConfig
	tokenAddress  common.Address
	transferTopic common.Hash

	mu             sync.Mutex
	blockTimeCache map[uint64]time.Time
}

// customTransport adds API key authentication to RPC requests
type customTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(req)
}

func NewEthereumObserver(cfg models.ChainConfig) (*EthereumObserver, error) {
	if cfg.RpcEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint cannot be empty")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", cfg.TokenAddress)
	}
	if cfg.TokenDecimals < 0 {
		return nil, fmt.Errorf("token decimals cannot be negative, got %d", cfg.TokenDecimals)
	}

	var client *ethclient.Client
	if cfg.ApiKey != "" {
		httpClient := &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &customTransport{
				base:   http.DefaultTransport,
				apiKey: cfg.ApiKey,
			},
		}
		rpcClient, err := rpc.DialHTTPWithClient(cfg.RpcEndpoint, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create RPC client: %w", err)
		}
		client = ethclient.NewClient(rpcClient)
	} else {
		var err error
		client, err = ethclient.Dial(cfg.RpcEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Name, err)
		}
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	zap.L().Info("Chain observer initialized",
		zap.String("chain", cfg.Name),
		zap.String("token", cfg.TokenSymbol),
		zap.String("token_address", cfg.TokenAddress),
		zap.Float64("rate_limit", rateLimit))

	return &EthereumObserver{
		client:         client,
		limiter:        rate.NewLimiter(rate.Limit(rateLimit), burst),
		cfg:            cfg,
		tokenAddress:   common.HexToAddress(cfg.TokenAddress),
		transferTopic:  crypto.Keccak256Hash([]byte(transferEventSignature)),
		blockTimeCache: make(map[uint64]time.Time),
	}, nil
}

func (o *EthereumObserver) LatestBlock(ctx context.Context) (uint64, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit error: %w", err)
	}

	blockNumber, err := o.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return blockNumber, nil
}

func (o *EthereumObserver) TransferLogs(ctx context.Context, fromBlock, toBlock uint64, recipient string) ([]models.TransferEvent, error) {
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address %q", recipient)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	// Topic 1 (from) is unconstrained; topic 2 (to) is the recipient padded
	// to a 32-byte word.
	toTopic := common.BytesToHash(common.LeftPadBytes(common.HexToAddress(recipient).Bytes(), 32))
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{o.tokenAddress},
		Topics:    [][]common.Hash{{o.transferTopic}, nil, {toTopic}},
	}

	logs, err := o.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter transfer logs: %w", err)
	}

	events := make([]models.TransferEvent, 0, len(logs))
	for _, logEntry := range logs {
		if logEntry.Removed || len(logEntry.Topics) < 3 {
			continue
		}

		amount := decimal.NewFromBigInt(new(big.Int).SetBytes(logEntry.Data), -int32(o.cfg.TokenDecimals))
		blockTime, err := o.blockTimestamp(ctx, logEntry.BlockNumber)
		if err != nil {
			zap.L().Warn("Failed to resolve block timestamp",
				zap.Uint64("block", logEntry.BlockNumber),
				zap.Error(err))
		}

		events = append(events, models.TransferEvent{
			Chain:       o.cfg.Name,
			TxHash:      logEntry.TxHash.Hex(),
			LogIndex:    logEntry.Index,
			BlockNumber: logEntry.BlockNumber,
			BlockTime:   blockTime,
			From:        common.BytesToAddress(logEntry.Topics[1].Bytes()).Hex(),
			To:          common.BytesToAddress(logEntry.Topics[2].Bytes()).Hex(),
			Token:       o.cfg.TokenSymbol,
			Amount:      amount,
		})
	}

	zap.L().Debug("Transfer logs scanned",
		zap.String("chain", o.cfg.Name),
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock),
		zap.String("recipient", recipient),
		zap.Int("events", len(events)))

	return events, nil
}

// blockTimestamp resolves a block's timestamp through a small cache; headers
// are immutable once final, so entries never expire.
func (o *EthereumObserver) blockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	o.mu.Lock()
	if t, ok := o.blockTimeCache[blockNumber]; ok {
		o.mu.Unlock()
		return t, nil
	}
	o.mu.Unlock()

	if err := o.limiter.Wait(ctx); err != nil {
		return time.Time{}, fmt.Errorf("rate limit error: %w", err)
	}

	header, err := o.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", blockNumber, err)
	}

	t := time.Unix(int64(header.Time), 0).UTC()
	o.mu.Lock()
	o.blockTimeCache[blockNumber] = t
	o.mu.Unlock()
	return t, nil
}

func (o *EthereumObserver) Close() {
	o.client.Close()
}
