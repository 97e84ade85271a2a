package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Older contracts return name and symbol as bytes32.
const erc721MetadataStringJSON = `[
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

const erc721MetadataBytes32JSON = `[
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`

var (
	metadataABIOnce    sync.Once
	metadataABIString  abi.ABI
	metadataABIBytes32 abi.ABI
	metadataABIErr     error
)

func metadataABIs() (abi.ABI, abi.ABI, error) {
	metadataABIOnce.Do(func() {
		metadataABIString, metadataABIErr = abi.JSON(strings.NewReader(erc721MetadataStringJSON))
		if metadataABIErr != nil {
			return
		}
		metadataABIBytes32, metadataABIErr = abi.JSON(strings.NewReader(erc721MetadataBytes32JSON))
	})
	return metadataABIString, metadataABIBytes32, metadataABIErr
}

// ContractCaller executes read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractName calls name() on contract, falling back to symbol() when the
// name is empty, and to the bytes32 encodings when the string ones fail.
func ContractName(ctx context.Context, caller ContractCaller, contract common.Address) (string, error) {
	stringABI, bytes32ABI, err := metadataABIs()
	if err != nil {
		return "", fmt.Errorf("parse erc721 metadata abi: %w", err)
	}

	var lastErr error
	for _, method := range []string{"name", "symbol"} {
		for _, parsed := range []abi.ABI{stringABI, bytes32ABI} {
			value, err := callString(ctx, caller, contract, parsed, method)
			if err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			if value != "" {
				return value, nil
			}
			break
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

func callString(ctx context.Context, caller ContractCaller, contract common.Address, parsed abi.ABI, method string) (string, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return "", fmt.Errorf("unpack %s: no values", method)
	}
	switch v := values[0].(type) {
	case string:
		return strings.TrimSpace(v), nil
	case [32]byte:
		return strings.TrimSpace(string(bytes.TrimRight(v[:], "\x00"))), nil
	default:
		return "", fmt.Errorf("unsupported %s type %T", method, values[0])
	}
}
