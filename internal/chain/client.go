package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// TransferTopic is topic0 of the ERC-721 (and ERC-20) Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client wraps go-ethereum RPC with the lookups the on-chain source needs.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu       sync.RWMutex
	tsCache  map[uint64]uint64
	valCache map[common.Hash]*big.Int
}

// NewClient dials the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return newClient(rpcClient), nil
}

func newClient(rpcClient *rpc.Client) *Client {
	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
		valCache:  make(map[common.Hash]*big.Int),
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// maxBatchSize bounds the requests sent in one JSON-RPC batch.
const maxBatchSize = 100

type headerTime struct {
	Time hexutil.Uint64 `json:"timestamp"`
}

type txValue struct {
	Value       *hexutil.Big `json:"value"`
	BlockNumber *string      `json:"blockNumber"`
}

// BlockTimestamps returns the timestamps of the given blocks. Uncached blocks
// are fetched with batched eth_getBlockByNumber calls.
func (c *Client) BlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64, len(numbers))
	var missing []uint64
	c.mu.RLock()
	for _, n := range numbers {
		if _, done := out[n]; done {
			continue
		}
		if ts, ok := c.tsCache[n]; ok {
			out[n] = ts
			continue
		}
		out[n] = 0
		missing = append(missing, n)
	}
	c.mu.RUnlock()

	for start := 0; start < len(missing); start += maxBatchSize {
		chunk := missing[start:min(start+maxBatchSize, len(missing))]
		headers := make([]*headerTime, len(chunk))
		elems := make([]rpc.BatchElem, len(chunk))
		for i, n := range chunk {
			elems[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{hexutil.EncodeUint64(n), false},
				Result: &headers[i],
			}
		}
		if err := c.rpcClient.BatchCallContext(ctx, elems); err != nil {
			return nil, err
		}

		c.mu.Lock()
		for i, n := range chunk {
			if elems[i].Error != nil {
				c.mu.Unlock()
				return nil, fmt.Errorf("block %d: %w", n, elems[i].Error)
			}
			if headers[i] == nil {
				c.mu.Unlock()
				return nil, fmt.Errorf("block %d: %w", n, ethereum.NotFound)
			}
			ts := uint64(headers[i].Time)
			c.tsCache[n] = ts
			out[n] = ts
		}
		c.mu.Unlock()
	}
	return out, nil
}

// TransactionValues returns the native value attached to each transaction.
// Mined transactions are immutable, so values are cached by hash and only
// uncached hashes go out, batched with eth_getTransactionByHash.
func (c *Client) TransactionValues(ctx context.Context, hashes []common.Hash) (map[common.Hash]*big.Int, error) {
	out := make(map[common.Hash]*big.Int, len(hashes))
	var missing []common.Hash
	c.mu.RLock()
	for _, h := range hashes {
		if _, done := out[h]; done {
			continue
		}
		if val, ok := c.valCache[h]; ok {
			out[h] = new(big.Int).Set(val)
			continue
		}
		out[h] = nil
		missing = append(missing, h)
	}
	c.mu.RUnlock()

	for start := 0; start < len(missing); start += maxBatchSize {
		chunk := missing[start:min(start+maxBatchSize, len(missing))]
		txs := make([]*txValue, len(chunk))
		elems := make([]rpc.BatchElem, len(chunk))
		for i, h := range chunk {
			elems[i] = rpc.BatchElem{
				Method: "eth_getTransactionByHash",
				Args:   []any{h},
				Result: &txs[i],
			}
		}
		if err := c.rpcClient.BatchCallContext(ctx, elems); err != nil {
			return nil, err
		}

		c.mu.Lock()
		for i, h := range chunk {
			if err := checkTx(h, txs[i], elems[i].Error); err != nil {
				c.mu.Unlock()
				return nil, err
			}
			val := txs[i].Value.ToInt()
			c.valCache[h] = new(big.Int).Set(val)
			out[h] = new(big.Int).Set(val)
		}
		c.mu.Unlock()
	}
	return out, nil
}

func checkTx(hash common.Hash, tx *txValue, err error) error {
	switch {
	case err != nil:
		return fmt.Errorf("transaction %s: %w", hash.Hex(), err)
	case tx == nil:
		return fmt.Errorf("transaction %s: %w", hash.Hex(), ethereum.NotFound)
	case tx.BlockNumber == nil:
		return fmt.Errorf("transaction %s is pending", hash.Hex())
	case tx.Value == nil:
		return fmt.Errorf("transaction %s has no value", hash.Hex())
	}
	return nil
}

// FilterLogs returns logs in the given range for addresses and topic0 filters.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}
	return c.ethClient.FilterLogs(ctx, query)
}

// CallContract performs an eth_call against the latest block when blockNumber is nil.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}

// ContractName reads the ERC-721 name of a contract.
func (c *Client) ContractName(ctx context.Context, contract common.Address) (string, error) {
	return ContractName(ctx, c, contract)
}
