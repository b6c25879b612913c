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

package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kiota-savings-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

var _ Provider = (*AggregatorClient)(nil)

// AggregatorClient talks to a swap aggregator over its JSON REST API.
type AggregatorClient struct {
	httpClient http.Client
	baseUrl    string
	apiKey     string
}

func NewAggregatorClient(cfg models.SwapConfig) (*AggregatorClient, error) {
	if cfg.BaseUrl == "" {
		return nil, fmt.Errorf("swap provider base url is required")
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &AggregatorClient{
		httpClient: httpClient,
		baseUrl:    strings.TrimSuffix(cfg.BaseUrl, "/"),
		apiKey:     cfg.ApiKey,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			DualStack: true,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

type createOrderRequest struct {
	ClientOrderId string `json:"client_order_id"`
	FromAsset     string `json:"from_asset"`
	ToAsset       string `json:"to_asset"`
	UsdAmount     string `json:"usd_amount"`
	SlippageBps   int    `json:"slippage_bps"`
}

type orderStatusResponse struct {
	ClientOrderId    string `json:"client_order_id"`
	Status           string `json:"status"`
	ActualOutput     string `json:"actual_output"`
	SettlementTxHash string `json:"settlement_tx_hash"`
	Reason           string `json:"reason"`
}

func (c *AggregatorClient) SubmitOrder(ctx context.Context, params SubmitOrderParams) error {
	payload := createOrderRequest{
		ClientOrderId: params.OrderHandle,
		FromAsset:     params.FromAsset,
		ToAsset:       params.ToAsset,
		UsdAmount:     params.UsdAmount.String(),
		SlippageBps:   params.SlippageBps,
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v1/orders", payload)
	if err != nil {
		return err
	}

	// The provider keys orders on the client order id, so a conflict means a
	// previous submission already landed.
	if status == http.StatusConflict {
		zap.L().Debug("Order already known to provider",
			zap.String("order_handle", params.OrderHandle))
		return nil
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("swap provider rejected order %s: status %d: %s",
			params.OrderHandle, status, strings.TrimSpace(string(body)))
	}

	zap.L().Info("Submitted swap order",
		zap.String("order_handle", params.OrderHandle),
		zap.String("from_asset", params.FromAsset),
		zap.String("to_asset", params.ToAsset),
		zap.String("usd_amount", params.UsdAmount.String()))

	return nil
}

func (c *AggregatorClient) OrderStatus(ctx context.Context, orderHandle string) (*OrderStatus, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderHandle), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("order %s not found at provider", orderHandle)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("swap provider status query for %s failed: status %d: %s",
			orderHandle, status, strings.TrimSpace(string(body)))
	}

	var parsed orderStatusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unable to parse order status for %s: %w", orderHandle, err)
	}

	result := &OrderStatus{
		State:            mapOrderState(parsed.Status),
		ProviderStatus:   parsed.Status,
		SettlementTxHash: parsed.SettlementTxHash,
		Reason:           parsed.Reason,
	}
	if parsed.ActualOutput != "" {
		result.ActualOutput, err = decimal.NewFromString(parsed.ActualOutput)
		if err != nil {
			return nil, fmt.Errorf("order %s has invalid actual_output %q: %w", orderHandle, parsed.ActualOutput, err)
		}
	}
	return result, nil
}

func (c *AggregatorClient) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("unable to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("unable to build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, nil, fmt.Errorf("swap provider request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("unable to read provider response: %w", err)
	}
	return response.StatusCode, body, nil
}

func mapOrderState(providerStatus string) OrderState {
	switch strings.ToLower(providerStatus) {
	case "completed", "filled", "settled":
		return OrderStateCompleted
	case "failed", "rejected", "expired", "cancelled":
		return OrderStateFailed
	default:
		return OrderStatePending
	}
}
