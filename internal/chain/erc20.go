package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = MustParseABI(erc20ABIJSON)

// NativeToken is the pseudo-address standing for the chain's native coin.
var NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

const nativeDecimals = 18

// Decimals memoises ERC-20 decimals lookups for the process lifetime.
type Decimals struct {
	caller Caller

	mu    sync.Mutex
	known map[common.Address]uint8
}

func NewDecimals(caller Caller) *Decimals {
	return &Decimals{caller: caller, known: map[common.Address]uint8{NativeToken: nativeDecimals}}
}

func (d *Decimals) Get(ctx context.Context, token common.Address) (uint8, error) {
	d.mu.Lock()
	v, ok := d.known[token]
	d.mu.Unlock()
	if ok {
		return v, nil
	}

	vals, err := CallABI(ctx, d.caller, erc20ABI, token, "decimals")
	if err != nil {
		return 0, fmt.Errorf("decimals(%s): %w", token.Hex(), err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("decimals(%s): unexpected result len %d", token.Hex(), len(vals))
	}
	dec, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals(%s): unexpected type %T", token.Hex(), vals[0])
	}

	d.mu.Lock()
	d.known[token] = dec
	d.mu.Unlock()
	return dec, nil
}

// Symbol reads the ERC-20 symbol. The native pseudo-address reports "ETH".
func Symbol(ctx context.Context, c Caller, token common.Address) (string, error) {
	if token == NativeToken {
		return "ETH", nil
	}
	vals, err := CallABI(ctx, c, erc20ABI, token, "symbol")
	if err != nil {
		return "", fmt.Errorf("symbol(%s): %w", token.Hex(), err)
	}
	if len(vals) != 1 {
		return "", fmt.Errorf("symbol(%s): unexpected result len %d", token.Hex(), len(vals))
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol(%s): unexpected type %T", token.Hex(), vals[0])
	}
	return s, nil
}
