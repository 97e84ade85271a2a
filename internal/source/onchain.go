package source

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"nftwatch/internal/chain"
	"nftwatch/internal/model"
)

// TransferReader is the subset of the EVM client used by the on-chain adapter.
type TransferReader interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamps(ctx context.Context, numbers []uint64) (map[uint64]uint64, error)
	TransactionValues(ctx context.Context, hashes []common.Hash) (map[common.Hash]*big.Int, error)
}

// ContractNamer is implemented by readers that can look up a contract's name.
type ContractNamer interface {
	ContractName(ctx context.Context, contract common.Address) (string, error)
}

// TransferPayload is the raw record emitted for each ERC-721 Transfer log.
type TransferPayload struct {
	Chain       model.Chain `json:"chain"`
	TxHash      string      `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
	BlockNumber uint64      `json:"block_number"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	TokenID     string      `json:"token_id"`
	ValueWei    string      `json:"value_wei"`
	Timestamp   int64       `json:"timestamp"`
}

// OnchainConfig configures the RPC log adapter for one chain.
type OnchainConfig struct {
	Chain          model.Chain
	LookbackBlocks uint64
	BatchBlocks    uint64
	RatePerSec     int
}

// Onchain reads ERC-721 Transfer logs straight from an EVM node.
type Onchain struct {
	cfg     OnchainConfig
	reader  TransferReader
	limiter *rate.Limiter
}

func NewOnchain(reader TransferReader, cfg OnchainConfig) *Onchain {
	if cfg.LookbackBlocks == 0 {
		cfg.LookbackBlocks = 300
	}
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 100
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Onchain{
		cfg:     cfg,
		reader:  reader,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Fetch returns Transfer logs of the collection contract over the last
// LookbackBlocks blocks in block/log order.
func (o *Onchain) Fetch(ctx context.Context, collection model.Collection) ([]model.RawTransaction, error) {
	id := collection.ID
	contract, err := ParseContractAddress(id.Key)
	if err != nil {
		return nil, malformed(SourceOnchain, id, err)
	}

	if err := o.wait(ctx, id); err != nil {
		return nil, err
	}
	latest, err := o.reader.LatestBlockNumber(ctx)
	if err != nil {
		return nil, classify(SourceOnchain, id, fmt.Errorf("latest block: %w", err))
	}

	ranges, err := splitBlocks(lookbackStart(latest, o.cfg.LookbackBlocks), latest, o.cfg.BatchBlocks)
	if err != nil {
		return nil, malformed(SourceOnchain, id, err)
	}

	var logs []types.Log
	for _, r := range ranges {
		if err := o.wait(ctx, id); err != nil {
			return nil, err
		}
		batch, err := o.reader.FilterLogs(ctx, r.From, r.To, []common.Address{contract}, []common.Hash{chain.TransferTopic})
		if err != nil {
			return nil, classify(SourceOnchain, id, fmt.Errorf("filter logs %d-%d: %w", r.From, r.To, err))
		}
		for _, lg := range batch {
			// ERC-20 transfers share the topic but carry the amount in data.
			if lg.Removed || len(lg.Topics) != 4 {
				continue
			}
			logs = append(logs, lg)
		}
	}
	if len(logs) == 0 {
		return nil, nil
	}

	// One batched lookup each for timestamps and values, however many
	// transfers the window holds.
	blocks, paid := lookups(logs)
	if err := o.wait(ctx, id); err != nil {
		return nil, err
	}
	timestamps, err := o.reader.BlockTimestamps(ctx, blocks)
	if err != nil {
		return nil, classify(SourceOnchain, id, fmt.Errorf("block timestamps: %w", err))
	}
	values := map[common.Hash]*big.Int{}
	if len(paid) > 0 {
		if err := o.wait(ctx, id); err != nil {
			return nil, err
		}
		values, err = o.reader.TransactionValues(ctx, paid)
		if err != nil {
			return nil, classify(SourceOnchain, id, fmt.Errorf("transaction values: %w", err))
		}
	}

	out := make([]model.RawTransaction, 0, len(logs))
	for _, lg := range logs {
		payload, err := o.transferPayload(lg, timestamps, values)
		if err != nil {
			return nil, malformed(SourceOnchain, id, err)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, malformed(SourceOnchain, id, err)
		}
		out = append(out, model.RawTransaction{Source: SourceOnchain, Payload: raw})
	}
	return out, nil
}

// lookups returns the distinct block numbers of logs and the distinct hashes
// of non-mint transactions, in first-seen order.
func lookups(logs []types.Log) ([]uint64, []common.Hash) {
	var blocks []uint64
	var paid []common.Hash
	seenBlock := make(map[uint64]struct{})
	seenTx := make(map[common.Hash]struct{})
	for _, lg := range logs {
		if _, ok := seenBlock[lg.BlockNumber]; !ok {
			seenBlock[lg.BlockNumber] = struct{}{}
			blocks = append(blocks, lg.BlockNumber)
		}
		if isMint(lg) {
			continue
		}
		if _, ok := seenTx[lg.TxHash]; !ok {
			seenTx[lg.TxHash] = struct{}{}
			paid = append(paid, lg.TxHash)
		}
	}
	return blocks, paid
}

func isMint(lg types.Log) bool {
	return common.BytesToAddress(lg.Topics[1].Bytes()) == (common.Address{})
}

func (o *Onchain) transferPayload(lg types.Log, timestamps map[uint64]uint64, values map[common.Hash]*big.Int) (TransferPayload, error) {
	payload := TransferPayload{
		Chain:       o.cfg.Chain,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		From:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		TokenID:     new(big.Int).SetBytes(lg.Topics[3].Bytes()).String(),
		ValueWei:    "0",
	}

	ts, ok := timestamps[lg.BlockNumber]
	if !ok {
		return payload, fmt.Errorf("block %d timestamp missing", lg.BlockNumber)
	}
	payload.Timestamp = int64(ts)

	// Mints carry no price; the normalizer skips them.
	if isMint(lg) {
		return payload, nil
	}
	value, ok := values[lg.TxHash]
	if !ok || value == nil {
		return payload, fmt.Errorf("tx %s value missing", lg.TxHash.Hex())
	}
	payload.ValueWei = value.String()
	return payload, nil
}

func (o *Onchain) wait(ctx context.Context, id model.CollectionID) error {
	if err := o.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return classify(SourceOnchain, id, ctx.Err())
		}
		// The next token would only arrive after the fetch deadline.
		if _, ok := ctx.Deadline(); ok {
			return &FetchError{Kind: FetchTimeout, Source: SourceOnchain, Collection: id, Err: err}
		}
		return &FetchError{Kind: FetchRateLimited, Source: SourceOnchain, Collection: id, Err: err}
	}
	return nil
}

// ValidateKey accepts 0x-prefixed contract addresses.
func (o *Onchain) ValidateKey(key string) error {
	_, err := ParseContractAddress(key)
	return err
}

// CanonicalKey returns the EIP-55 checksum spelling of a contract address.
func (o *Onchain) CanonicalKey(key string) (string, error) {
	contract, err := ParseContractAddress(key)
	if err != nil {
		return "", err
	}
	return contract.Hex(), nil
}

// ResolveName returns the contract's on-chain name, or "" when the reader
// cannot look names up.
func (o *Onchain) ResolveName(ctx context.Context, key string) (string, error) {
	namer, ok := o.reader.(ContractNamer)
	if !ok {
		return "", nil
	}
	contract, err := ParseContractAddress(key)
	if err != nil {
		return "", err
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return namer.ContractName(ctx, contract)
}
