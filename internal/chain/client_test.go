package chain

import (
	"context"
	"math/big"
	"reflect"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type ethService struct {
	mu      sync.Mutex
	calls   map[string]int
	values  map[common.Hash]*big.Int
	pending map[common.Hash]bool
}

func (s *ethService) count(method string) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
}

func (s *ethService) GetBlockByNumber(number hexutil.Uint64, _ bool) (map[string]any, error) {
	s.count("block")
	if number > 1000 {
		return nil, nil
	}
	return map[string]any{"timestamp": hexutil.Uint64(1700000000 + uint64(number))}, nil
}

func (s *ethService) GetTransactionByHash(hash common.Hash) (map[string]any, error) {
	s.count("tx")
	value, ok := s.values[hash]
	if !ok {
		return nil, nil
	}
	out := map[string]any{"value": (*hexutil.Big)(value), "blockNumber": nil}
	if !s.pending[hash] {
		out["blockNumber"] = hexutil.Uint64(7)
	}
	return out, nil
}

func newTestClient(t *testing.T, svc *ethService) *Client {
	t.Helper()
	svc.calls = make(map[string]int)
	server := rpc.NewServer()
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(server.Stop)
	c := newClient(rpc.DialInProc(server))
	t.Cleanup(c.Close)
	return c
}

func TestBlockTimestampsBatchedAndCached(t *testing.T) {
	svc := &ethService{}
	c := newTestClient(t, svc)
	ctx := context.Background()

	got, err := c.BlockTimestamps(ctx, []uint64{10, 11, 10})
	if err != nil {
		t.Fatalf("timestamps: %v", err)
	}
	want := map[uint64]uint64{10: 1700000010, 11: 1700000011}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("timestamps = %v, want %v", got, want)
	}
	if svc.calls["block"] != 2 {
		t.Fatalf("block calls = %d, want 2", svc.calls["block"])
	}

	if _, err := c.BlockTimestamps(ctx, []uint64{10, 12}); err != nil {
		t.Fatalf("timestamps: %v", err)
	}
	if svc.calls["block"] != 3 {
		t.Fatalf("cached block fetched again: %d calls", svc.calls["block"])
	}

	if _, err := c.BlockTimestamps(ctx, []uint64{5000}); err == nil {
		t.Fatalf("expected error for unknown block")
	}
}

func TestTransactionValuesBatched(t *testing.T) {
	paid := common.HexToHash("0xaa")
	free := common.HexToHash("0xbb")
	queued := common.HexToHash("0xcc")
	svc := &ethService{
		values: map[common.Hash]*big.Int{
			paid:   big.NewInt(1500000000000000000),
			free:   big.NewInt(0),
			queued: big.NewInt(1),
		},
		pending: map[common.Hash]bool{queued: true},
	}
	c := newTestClient(t, svc)
	ctx := context.Background()

	got, err := c.TransactionValues(ctx, []common.Hash{paid, free, paid})
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if got[paid].String() != "1500000000000000000" || got[free].Sign() != 0 || len(got) != 2 {
		t.Fatalf("values = %v", got)
	}
	if svc.calls["tx"] != 2 {
		t.Fatalf("tx calls = %d, want 2", svc.calls["tx"])
	}

	if _, err := c.TransactionValues(ctx, []common.Hash{paid}); err != nil || svc.calls["tx"] != 2 {
		t.Fatalf("cached value fetched again: err = %v calls = %d", err, svc.calls["tx"])
	}

	if _, err := c.TransactionValues(ctx, []common.Hash{queued}); err == nil {
		t.Fatalf("expected error for pending transaction")
	}
	if _, err := c.TransactionValues(ctx, []common.Hash{common.HexToHash("0xdd")}); err == nil {
		t.Fatalf("expected error for unknown transaction")
	}
}
