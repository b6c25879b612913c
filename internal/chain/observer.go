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

	"kiota-savings-go/internal/models"
)

// Observer reads finalized transfer activity from a chain. Implementations
// must return events in a stable order for a given block range.
type Observer interface {
	// LatestBlock returns the current chain head number.
	LatestBlock(ctx context.Context) (uint64, error)

	// TransferLogs returns the watched token's transfer events to the given
	// recipient address within [fromBlock, toBlock], both inclusive.
	TransferLogs(ctx context.Context, fromBlock, toBlock uint64, recipient string) ([]models.TransferEvent, error)

	// Close releases the underlying connection.
	Close()
}
