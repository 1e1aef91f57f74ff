package carbon

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/multicall"
)

// Reader performs read-only calls against the controller and voucher.
type Reader struct {
	caller     chain.Caller
	controller common.Address
	voucher    common.Address
	mc         *multicall.Client
}

func NewReader(caller chain.Caller, controller, voucher, multicallAddr common.Address) *Reader {
	return &Reader{
		caller:     caller,
		controller: controller,
		voucher:    voucher,
		mc:         multicall.New(caller, multicallAddr),
	}
}

func (r *Reader) Controller() common.Address { return r.controller }
func (r *Reader) Voucher() common.Address    { return r.voucher }

func (r *Reader) Pairs(ctx context.Context) ([]Pair, error) {
	out, err := chain.CallABI(ctx, r.caller, ControllerABI, r.controller, "pairs")
	if err != nil {
		return nil, fmt.Errorf("pairs: %w", err)
	}
	raw, ok := out[0].([][2]common.Address)
	if !ok {
		return nil, fmt.Errorf("pairs: unexpected output %T", out[0])
	}
	pairs := make([]Pair, 0, len(raw))
	for _, p := range raw {
		pairs = append(pairs, Pair{Token0: p[0], Token1: p[1]})
	}
	return pairs, nil
}

func (r *Reader) StrategiesByPair(ctx context.Context, token0, token1 common.Address) ([]EncodedStrategy, error) {
	out, err := chain.CallABI(ctx, r.caller, ControllerABI, r.controller, "strategiesByPair", token0, token1, big.NewInt(0), big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("strategiesByPair %s/%s: %w", token0.Hex(), token1.Hex(), err)
	}
	return convertStrategies(out[0]), nil
}

// StrategiesByPairs fetches the strategies of every pair in one multicall.
// The result is aligned with pairs.
func (r *Reader) StrategiesByPairs(ctx context.Context, pairs []Pair) ([][]EncodedStrategy, error) {
	calls := make([]multicall.Call, len(pairs))
	for i, p := range pairs {
		data, err := ControllerABI.Pack("strategiesByPair", p.Token0, p.Token1, big.NewInt(0), big.NewInt(0))
		if err != nil {
			return nil, fmt.Errorf("pack strategiesByPair: %w", err)
		}
		calls[i] = multicall.Call{Target: r.controller, CallData: data}
	}
	results, err := r.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("strategiesByPair batch: %w", err)
	}
	out := make([][]EncodedStrategy, len(pairs))
	for i, res := range results {
		vals, err := ControllerABI.Unpack("strategiesByPair", res.ReturnData)
		if err != nil {
			return nil, fmt.Errorf("unpack strategiesByPair %s: %w", pairs[i].Key(), err)
		}
		out[i] = convertStrategies(vals[0])
	}
	return out, nil
}

func convertStrategies(v interface{}) []EncodedStrategy {
	raw := *abi.ConvertType(v, new([]contractStrategy)).(*[]contractStrategy)
	out := make([]EncodedStrategy, 0, len(raw))
	for _, s := range raw {
		out = append(out, s.encoded())
	}
	return out
}

// StrategyByID returns ErrNotFound when the controller reverts, which it does
// for unknown ids.
func (r *Reader) StrategyByID(ctx context.Context, id *big.Int) (EncodedStrategy, error) {
	out, err := chain.CallABI(ctx, r.caller, ControllerABI, r.controller, "strategy", id)
	if err != nil {
		if isRevert(err) {
			return EncodedStrategy{}, fmt.Errorf("strategy %s: %w", id, ErrNotFound)
		}
		return EncodedStrategy{}, fmt.Errorf("strategy %s: %w", id, err)
	}
	s := *abi.ConvertType(out[0], new(contractStrategy)).(*contractStrategy)
	return s.encoded(), nil
}

func (r *Reader) TradingFeePPM(ctx context.Context) (uint32, error) {
	out, err := chain.CallABI(ctx, r.caller, ControllerABI, r.controller, "tradingFeePPM")
	if err != nil {
		return 0, fmt.Errorf("tradingFeePPM: %w", err)
	}
	fee, ok := out[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("tradingFeePPM: unexpected output %T", out[0])
	}
	return fee, nil
}

// PairTradingFeesPPM batches pairTradingFeePPM for every pair.
func (r *Reader) PairTradingFeesPPM(ctx context.Context, pairs []Pair) ([]uint32, error) {
	calls := make([]multicall.Call, len(pairs))
	for i, p := range pairs {
		data, err := ControllerABI.Pack("pairTradingFeePPM", p.Token0, p.Token1)
		if err != nil {
			return nil, fmt.Errorf("pack pairTradingFeePPM: %w", err)
		}
		calls[i] = multicall.Call{Target: r.controller, CallData: data}
	}
	results, err := r.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("pairTradingFeePPM batch: %w", err)
	}
	fees := make([]uint32, len(pairs))
	for i, res := range results {
		vals, err := ControllerABI.Unpack("pairTradingFeePPM", res.ReturnData)
		if err != nil {
			return nil, fmt.Errorf("unpack pairTradingFeePPM %s: %w", pairs[i].Key(), err)
		}
		fees[i] = vals[0].(uint32)
	}
	return fees, nil
}

func (r *Reader) VoucherOwner(ctx context.Context, id *big.Int) (common.Address, error) {
	out, err := chain.CallABI(ctx, r.caller, VoucherABI, r.voucher, "ownerOf", id)
	if err != nil {
		if isRevert(err) {
			return common.Address{}, fmt.Errorf("voucher %s: %w", id, ErrNotFound)
		}
		return common.Address{}, fmt.Errorf("ownerOf %s: %w", id, err)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf: unexpected output %T", out[0])
	}
	return owner, nil
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
