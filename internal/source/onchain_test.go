package source

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"nftwatch/internal/chain"
	"nftwatch/internal/model"
)

type fakeReader struct {
	latest     uint64
	logs       []types.Log
	values     map[common.Hash]*big.Int
	ranges     [][2]uint64
	blockCalls int
	valueCalls int
	requested  int
	filterErr  error
}

func (f *fakeReader) LatestBlockNumber(context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeReader) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeReader) BlockTimestamps(_ context.Context, numbers []uint64) (map[uint64]uint64, error) {
	f.blockCalls++
	out := make(map[uint64]uint64, len(numbers))
	for _, n := range numbers {
		out[n] = 1700000000 + n
	}
	return out, nil
}

func (f *fakeReader) TransactionValues(_ context.Context, hashes []common.Hash) (map[common.Hash]*big.Int, error) {
	f.valueCalls++
	f.requested += len(hashes)
	out := make(map[common.Hash]*big.Int, len(hashes))
	for _, h := range hashes {
		out[h] = f.values[h]
	}
	return out, nil
}

func transferLog(block uint64, index uint, tx common.Hash, from, to common.Address, tokenID int64) types.Log {
	return types.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
		Topics: []common.Hash{
			chain.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}

func TestOnchainFetch(t *testing.T) {
	seller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer := common.HexToAddress("0x2222222222222222222222222222222222222222")
	txA := common.HexToHash("0xaa")
	txB := common.HexToHash("0xbb")

	erc20 := transferLog(995, 9, txB, seller, buyer, 0)
	erc20.Topics = erc20.Topics[:3]

	reader := &fakeReader{
		latest: 1000,
		logs: []types.Log{
			transferLog(990, 1, txA, seller, buyer, 42),
			transferLog(990, 2, txA, seller, buyer, 43),
			transferLog(998, 0, txB, common.Address{}, buyer, 44),
			erc20,
		},
		values: map[common.Hash]*big.Int{
			txA: big.NewInt(1500000000000000000),
		},
	}

	adapter := NewOnchain(reader, OnchainConfig{Chain: model.ChainEthereum, LookbackBlocks: 20, BatchBlocks: 10, RatePerSec: 1000})
	collection := model.Collection{ID: model.NewCollectionID("ethereum", "onchain", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")}
	raws, err := adapter.Fetch(context.Background(), collection)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(reader.ranges) != 2 || reader.ranges[0] != [2]uint64{981, 990} || reader.ranges[1] != [2]uint64{991, 1000} {
		t.Fatalf("ranges = %v", reader.ranges)
	}
	if len(raws) != 3 {
		t.Fatalf("got %d raws, want 3", len(raws))
	}
	if reader.valueCalls != 1 || reader.requested != 1 || reader.blockCalls != 1 {
		t.Fatalf("lookups: values = %d (%d hashes) blocks = %d, want one batch each for txA",
			reader.valueCalls, reader.requested, reader.blockCalls)
	}

	var first TransferPayload
	if err := json.Unmarshal(raws[0].Payload, &first); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if raws[0].Source != SourceOnchain {
		t.Fatalf("source = %s", raws[0].Source)
	}
	if first.TokenID != "42" || first.ValueWei != "1500000000000000000" || first.LogIndex != 1 {
		t.Fatalf("unexpected payload: %+v", first)
	}
	if first.From != seller.Hex() || first.To != buyer.Hex() || first.Timestamp != 1700000990 {
		t.Fatalf("unexpected payload addresses/time: %+v", first)
	}

	var mint TransferPayload
	if err := json.Unmarshal(raws[2].Payload, &mint); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if mint.ValueWei != "0" || mint.TokenID != "44" {
		t.Fatalf("unexpected mint payload: %+v", mint)
	}
}

func TestOnchainFetchErrors(t *testing.T) {
	adapter := NewOnchain(&fakeReader{latest: 10}, OnchainConfig{Chain: model.ChainPolygon})
	_, err := adapter.Fetch(context.Background(), model.Collection{ID: model.NewCollectionID("polygon", "onchain", "not-an-address")})
	assertKind(t, err, FetchMalformed)

	failing := NewOnchain(&fakeReader{latest: 10, filterErr: errors.New("connection refused")}, OnchainConfig{Chain: model.ChainPolygon})
	_, err = failing.Fetch(context.Background(), model.Collection{ID: model.NewCollectionID("polygon", "onchain", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")})
	assertKind(t, err, FetchNetwork)
}

func TestOnchainFetchBusyWindowFitsDeadline(t *testing.T) {
	seller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer := common.HexToAddress("0x2222222222222222222222222222222222222222")
	reader := &fakeReader{latest: 1000, values: map[common.Hash]*big.Int{}}
	for i := 0; i < 60; i++ {
		tx := common.BigToHash(big.NewInt(int64(0x1000 + i)))
		reader.logs = append(reader.logs, transferLog(uint64(701+i*5), 0, tx, seller, buyer, int64(i)))
		reader.values[tx] = big.NewInt(int64(i + 1))
	}

	// Default lookback and rate: 60 paid transfers in distinct blocks.
	adapter := NewOnchain(reader, OnchainConfig{Chain: model.ChainEthereum})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raws, err := adapter.Fetch(ctx, model.Collection{ID: model.NewCollectionID("ethereum", "onchain", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")})
	if err != nil {
		t.Fatalf("busy window fetch: %v", err)
	}
	if len(raws) != 60 {
		t.Fatalf("got %d raws, want 60", len(raws))
	}
	if reader.blockCalls != 1 || reader.valueCalls != 1 || reader.requested != 60 {
		t.Fatalf("lookups: blocks = %d values = %d hashes = %d", reader.blockCalls, reader.valueCalls, reader.requested)
	}
}

func TestOnchainRateBudgetPastDeadlineIsTimeout(t *testing.T) {
	adapter := NewOnchain(&fakeReader{latest: 1000}, OnchainConfig{Chain: model.ChainEthereum, LookbackBlocks: 50, BatchBlocks: 1, RatePerSec: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := adapter.Fetch(ctx, model.Collection{ID: model.NewCollectionID("ethereum", "onchain", "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")})
	assertKind(t, err, FetchTimeout)
}

type namedReader struct {
	fakeReader
	names map[common.Address]string
}

func (n *namedReader) ContractName(_ context.Context, contract common.Address) (string, error) {
	name, ok := n.names[contract]
	if !ok {
		return "", errors.New("execution reverted")
	}
	return name, nil
}

func TestOnchainResolveName(t *testing.T) {
	bayc := common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
	reader := &namedReader{names: map[common.Address]string{bayc: "BoredApeYachtClub"}}
	registry := NewRegistry()
	registry.Register(model.ChainEthereum, model.MarketplaceOnchain, NewOnchain(reader, OnchainConfig{Chain: model.ChainEthereum}))

	id := model.NewCollectionID("ethereum", "onchain", bayc.Hex())
	name, err := registry.ResolveName(context.Background(), id)
	if err != nil || name != "BoredApeYachtClub" {
		t.Fatalf("name = %q err = %v", name, err)
	}

	// Readers without name lookups resolve to nothing.
	plain := NewOnchain(&fakeReader{}, OnchainConfig{Chain: model.ChainEthereum})
	if name, err := plain.ResolveName(context.Background(), bayc.Hex()); err != nil || name != "" {
		t.Fatalf("plain reader name = %q err = %v", name, err)
	}

	if _, err := registry.ResolveName(context.Background(), model.NewCollectionID("ethereum", "blur", "x")); err == nil {
		t.Fatalf("expected configuration error for unknown route")
	}
}

func TestOnchainCanonicalKey(t *testing.T) {
	registry := NewRegistry()
	registry.Register(model.ChainEthereum, model.MarketplaceOnchain, NewOnchain(&fakeReader{}, OnchainConfig{Chain: model.ChainEthereum}))
	registry.Register(model.ChainSolana, model.MarketplaceMagicEden, NewMagicEden(MagicEdenConfig{}))

	checksum := "0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D"
	for _, key := range []string{checksum, "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d", " 0xBC4CA0EDA7647A8AB7C2061C2E118A18A936F13D "} {
		id, err := registry.Canonicalize(model.NewCollectionID("ethereum", "onchain", key))
		if err != nil {
			t.Fatalf("canonicalize %q: %v", key, err)
		}
		if id.Key != checksum {
			t.Fatalf("canonicalize %q = %q, want %q", key, id.Key, checksum)
		}
	}

	// Adapters without canonical spellings keep the key as given.
	bears := model.NewCollectionID("solana", "magiceden", "okay_bears")
	if id, err := registry.Canonicalize(bears); err != nil || id != bears {
		t.Fatalf("canonicalize %v = %v, %v", bears, id, err)
	}
	if _, err := registry.Canonicalize(model.NewCollectionID("ethereum", "onchain", "0x1234")); err == nil {
		t.Fatalf("expected invalid address error")
	}
}
