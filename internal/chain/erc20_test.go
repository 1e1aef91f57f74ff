package chain_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/chain/chaintest"
)

const erc20ABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

func TestDecimalsMemoised(t *testing.T) {
	backend := chaintest.New()
	erc20 := chain.MustParseABI(erc20ABIJSON)
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	hits := 0
	backend.Handle(usdc, erc20, "decimals", func([]interface{}) ([]interface{}, error) {
		hits++
		return []interface{}{uint8(6)}, nil
	})

	d := chain.NewDecimals(backend)
	for i := 0; i < 3; i++ {
		got, err := d.Get(context.Background(), usdc)
		if err != nil {
			t.Fatalf("decimals: %v", err)
		}
		if got != 6 {
			t.Fatalf("got %d, want 6", got)
		}
	}
	if hits != 1 {
		t.Fatalf("expected one call, got %d", hits)
	}

	native, err := d.Get(context.Background(), chain.NativeToken)
	if err != nil || native != 18 {
		t.Fatalf("native decimals %d err=%v", native, err)
	}
}

func TestDecimalsUnknownTokenFails(t *testing.T) {
	d := chain.NewDecimals(chaintest.New())
	if _, err := d.Get(context.Background(), common.HexToAddress("0xdead")); err == nil {
		t.Fatalf("expected err")
	}
}

func TestSymbol(t *testing.T) {
	backend := chaintest.New()
	erc20 := chain.MustParseABI(erc20ABIJSON)
	bnt := common.HexToAddress("0x1F573D6Fb3F13d689FF844B4cE37794d79a7FF1C")
	backend.Handle(bnt, erc20, "symbol", func([]interface{}) ([]interface{}, error) {
		return []interface{}{"BNT"}, nil
	})

	got, err := chain.Symbol(context.Background(), backend, bnt)
	if err != nil || got != "BNT" {
		t.Fatalf("symbol %q err=%v", got, err)
	}
	got, _ = chain.Symbol(context.Background(), backend, chain.NativeToken)
	if got != "ETH" {
		t.Fatalf("native symbol %q", got)
	}
}
