package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

type fakeCaller struct {
	responses map[string][]byte // method selector hex -> return data
}

func (f fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	resp, ok := f.responses[common.Bytes2Hex(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return resp, nil
}

func selector(t *testing.T, method string) string {
	t.Helper()
	stringABI, _, err := metadataABIs()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	return common.Bytes2Hex(stringABI.Methods[method].ID)
}

var contract = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")

func TestContractNameString(t *testing.T) {
	stringABI, _, _ := metadataABIs()
	out, err := stringABI.Methods["name"].Outputs.Pack("BoredApeYachtClub")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	caller := fakeCaller{responses: map[string][]byte{selector(t, "name"): out}}

	name, err := ContractName(context.Background(), caller, contract)
	if err != nil {
		t.Fatalf("contract name: %v", err)
	}
	if name != "BoredApeYachtClub" {
		t.Fatalf("name = %q", name)
	}
}

func TestContractNameBytes32Fallback(t *testing.T) {
	var raw [32]byte
	copy(raw[:], "CryptoKitties")
	caller := fakeCaller{responses: map[string][]byte{selector(t, "name"): raw[:]}}

	name, err := ContractName(context.Background(), caller, contract)
	if err != nil {
		t.Fatalf("contract name: %v", err)
	}
	if name != "CryptoKitties" {
		t.Fatalf("name = %q", name)
	}
}

func TestContractNameFallsBackToSymbol(t *testing.T) {
	stringABI, _, _ := metadataABIs()
	empty, _ := stringABI.Methods["name"].Outputs.Pack("")
	symbol, _ := stringABI.Methods["symbol"].Outputs.Pack("BAYC")
	caller := fakeCaller{responses: map[string][]byte{
		selector(t, "name"):   empty,
		selector(t, "symbol"): symbol,
	}}

	name, err := ContractName(context.Background(), caller, contract)
	if err != nil || name != "BAYC" {
		t.Fatalf("name = %q err = %v", name, err)
	}
}

func TestContractNameReverted(t *testing.T) {
	if _, err := ContractName(context.Background(), fakeCaller{}, contract); err == nil {
		t.Fatalf("expected error when every call reverts")
	}
}
