package source

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

var (
	solanaSymbol = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	base58Chars  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ParseContractAddress converts an EVM contract address string.
func ParseContractAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) || !strings.HasPrefix(input, "0x") {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

// ValidateSolanaKey accepts a Magic Eden symbol or a base58 public key.
// Strings shaped like base58 keys must decode to a valid key.
func ValidateSolanaKey(input string) error {
	input = strings.TrimSpace(input)
	if base58Chars.MatchString(input) {
		if _, err := solana.PublicKeyFromBase58(input); err == nil {
			return nil
		}
	}
	if solanaSymbol.MatchString(input) && len(input) < 32 {
		return nil
	}
	return fmt.Errorf("invalid Solana collection symbol or address: %s", input)
}
