package multicall_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/chain/chaintest"
	"carbon-gocli/internal/multicall"
)

const counterABIJSON = `[
  {"inputs":[{"internalType":"uint8","name":"x","type":"uint8"}],"name":"double","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

func setup(t *testing.T) (*chaintest.Backend, common.Address, []multicall.Call) {
	t.Helper()
	counterABI := chain.MustParseABI(counterABIJSON)
	target := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	backend := chaintest.New()
	backend.Handle(target, counterABI, "double", func(args []interface{}) ([]interface{}, error) {
		x := args[0].(uint8)
		if x == 0 {
			return nil, chaintest.ErrRevert
		}
		return []interface{}{x * 2}, nil
	})

	var calls []multicall.Call
	for _, x := range []uint8{1, 0, 3} {
		data, err := counterABI.Pack("double", x)
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		calls = append(calls, multicall.Call{Target: target, AllowFailure: true, CallData: data})
	}
	return backend, target, calls
}

func checkResults(t *testing.T, results []multicall.Result) {
	t.Helper()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("unexpected success flags: %+v", results)
	}
	if got := results[2].ReturnData[31]; got != 6 {
		t.Fatalf("double(3) = %d", got)
	}
}

func TestAggregateThroughMulticall3(t *testing.T) {
	backend, _, calls := setup(t)
	mc := common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	backend.ServeMulticall(mc)

	results, err := multicall.New(backend, mc).Aggregate(context.Background(), calls)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	checkResults(t, results)
}

func TestAggregateSequentialFallback(t *testing.T) {
	backend, _, calls := setup(t)

	results, err := multicall.New(backend, common.Address{}).Aggregate(context.Background(), calls)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	checkResults(t, results)

	calls[1].AllowFailure = false
	if _, err := multicall.New(backend, common.Address{}).Aggregate(context.Background(), calls); err == nil {
		t.Fatalf("expected failure for strict call")
	}
}

func TestAggregateEmpty(t *testing.T) {
	results, err := multicall.New(chaintest.New(), common.Address{}).Aggregate(context.Background(), nil)
	if err != nil || results != nil {
		t.Fatalf("expected nil, nil; got %v %v", results, err)
	}
}
