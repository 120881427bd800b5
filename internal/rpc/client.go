package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/0xNedAlbo/duncan-scanner/internal/config"
)

// BlockTag selects a named block on the chain head.
type BlockTag string

const (
	TagLatest    BlockTag = "latest"
	TagSafe      BlockTag = "safe"
	TagFinalized BlockTag = "finalized"
)

// Client wraps the Ethereum RPC client with retry and convenience methods
// for log scanning.
type Client struct {
	eth   *ethclient.Client
	rpc   *rpc.Client
	retry *config.RetryConfig
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, retry *config.RetryConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth:   ethclient.NewClient(rpcClient),
		rpc:   rpcClient,
		retry: retry,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetLogs retrieves logs matching the given filter query.
// Range-limit errors from the backend are returned unwrapped so callers
// can react by shrinking the query span.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := retryWithBackoff(ctx, c.retry, "eth_getLogs", func() error {
		var callErr error
		logs, callErr = c.eth.FilterLogs(ctx, query)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// LatestBlockNumber retrieves the current head block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var num uint64
	err := retryWithBackoff(ctx, c.retry, "eth_blockNumber", func() error {
		var callErr error
		num, callErr = c.eth.BlockNumber(ctx)
		return callErr
	})
	if err != nil {
		return 0, err
	}
	return num, nil
}

// HeaderByTag retrieves the header selected by a named block tag.
// Backends without "safe"/"finalized" support yield an error for which
// IsTagUnsupportedError reports true.
func (c *Client) HeaderByTag(ctx context.Context, tag BlockTag) (*types.Header, error) {
	var blockNum *big.Int
	switch tag {
	case TagLatest:
		blockNum = nil
	case TagSafe:
		blockNum = big.NewInt(int64(rpc.SafeBlockNumber))
	case TagFinalized:
		blockNum = big.NewInt(int64(rpc.FinalizedBlockNumber))
	default:
		return nil, fmt.Errorf("unknown block tag: %s", tag)
	}

	var header *types.Header
	err := retryWithBackoff(ctx, c.retry, "eth_getBlockByNumber", func() error {
		var callErr error
		header, callErr = c.eth.HeaderByNumber(ctx, blockNum)
		if callErr != nil && IsTagUnsupportedError(callErr) {
			// Don't waste retries on a backend that will never answer the tag.
			return &fatalError{err: callErr}
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// BatchGetLogs retrieves logs for multiple filter queries in a single batch call.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]types.Log, error) {
	batch := make([]rpc.BatchElem, len(queries))
	results := make([][]types.Log, len(queries))

	for i, query := range queries {
		batch[i] = rpc.BatchElem{
			Method: "eth_getLogs",
			Args:   []any{toFilterArg(query)},
			Result: &results[i],
		}
	}

	err := retryWithBackoff(ctx, c.retry, "eth_getLogs_batch", func() error {
		if callErr := c.rpc.BatchCallContext(ctx, batch); callErr != nil {
			return callErr
		}
		for _, elem := range batch {
			if elem.Error != nil {
				return elem.Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// toFilterArg converts ethereum.FilterQuery to the format expected by eth_getLogs.
func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			arg["fromBlock"] = toBlockNumArg(q.FromBlock.Uint64())
		}
		if q.ToBlock != nil {
			arg["toBlock"] = toBlockNumArg(q.ToBlock.Uint64())
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
