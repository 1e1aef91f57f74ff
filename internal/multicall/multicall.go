// Package multicall batches read-only contract calls through Multicall3.
package multicall

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/chain"
)

const abiJSON = `[
  {"inputs":[{"components":[
      {"internalType":"address","name":"target","type":"address"},
      {"internalType":"bool","name":"allowFailure","type":"bool"},
      {"internalType":"bytes","name":"callData","type":"bytes"}
    ],"internalType":"struct Multicall3.Call3[]","name":"calls","type":"tuple[]"}],
   "name":"aggregate3",
   "outputs":[{"components":[
      {"internalType":"bool","name":"success","type":"bool"},
      {"internalType":"bytes","name":"returnData","type":"bytes"}
    ],"internalType":"struct Multicall3.Result[]","name":"returnData","type":"tuple[]"}],
   "stateMutability":"payable","type":"function"}
]`

// ABI is the aggregate3 subset of Multicall3.
var ABI = chain.MustParseABI(abiJSON)

type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}

// Client executes batches against a Multicall3 deployment. With a zero
// address it degrades to one eth_call per entry.
type Client struct {
	caller  chain.Caller
	address common.Address
}

func New(caller chain.Caller, address common.Address) *Client {
	return &Client{caller: caller, address: address}
}

// Aggregate runs calls and returns one Result per call, in order. Calls with
// AllowFailure report failures through Result.Success; any other failure
// fails the whole batch.
func (c *Client) Aggregate(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if c.address == (common.Address{}) {
		return c.sequential(ctx, calls)
	}

	data, err := ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate3: %w", err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregate3 (%d calls): %w", len(calls), err)
	}
	vals, err := ABI.Unpack("aggregate3", out)
	if err != nil {
		return nil, fmt.Errorf("unpack aggregate3: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("aggregate3: unexpected result len %d", len(vals))
	}
	results := *abi.ConvertType(vals[0], new([]Result)).(*[]Result)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("aggregate3: %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}

func (c *Client) sequential(ctx context.Context, calls []Call) ([]Result, error) {
	out := make([]Result, len(calls))
	for i, call := range calls {
		target := call.Target
		ret, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: call.CallData}, nil)
		if err != nil {
			if !call.AllowFailure {
				return nil, fmt.Errorf("call %d to %s: %w", i, target.Hex(), err)
			}
			continue
		}
		out[i] = Result{Success: true, ReturnData: ret}
	}
	return out, nil
}
