// Package chaintest provides an in-memory chain.Backend for tests. Contract
// calls are answered by handlers registered per (address, method).
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"carbon-gocli/internal/multicall"
)

// ErrRevert is what handlers return to simulate a reverted eth_call.
var ErrRevert = errors.New("execution reverted")

type handlerKey struct {
	to       common.Address
	selector [4]byte
}

type rawHandler func(data []byte) ([]byte, error)

type Backend struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Head         uint64
	BaseFee      *big.Int
	GasEstimate  uint64

	// SendErr, when set, is returned by SendTransaction after recording the attempt.
	SendErr error
	// ReceiptStatus is the status reported for every mined tx.
	ReceiptStatus uint64
	// ReceiptLogs are attached to the receipt of each sent tx.
	ReceiptLogs []*types.Log

	Logs []types.Log

	handlers map[handlerKey]rawHandler
	sent     []*types.Transaction
	attempts int
	calls    int
}

func New() *Backend {
	return &Backend{
		ChainIDValue:  big.NewInt(1),
		Head:          100,
		BaseFee:       big.NewInt(10_000_000_000),
		GasEstimate:   150_000,
		ReceiptStatus: types.ReceiptStatusSuccessful,
		handlers:      make(map[handlerKey]rawHandler),
	}
}

// Handle answers calls of method on to. fn receives the unpacked inputs and
// returns values that are packed with the method's outputs.
func (b *Backend) Handle(to common.Address, contractABI abi.ABI, method string, fn func(args []interface{}) ([]interface{}, error)) {
	m, ok := contractABI.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	var sel [4]byte
	copy(sel[:], m.ID)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[handlerKey{to: to, selector: sel}] = func(data []byte) ([]byte, error) {
		args, err := m.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, fmt.Errorf("chaintest: unpack %s: %w", method, err)
		}
		res, err := fn(args)
		if err != nil {
			return nil, err
		}
		return m.Outputs.Pack(res...)
	}
}

// ServeMulticall emulates Multicall3.aggregate3 at addr by dispatching each
// inner call to the registered handlers.
func (b *Backend) ServeMulticall(addr common.Address) {
	b.Handle(addr, multicall.ABI, "aggregate3", func(args []interface{}) ([]interface{}, error) {
		calls := *abi.ConvertType(args[0], new([]multicall.Call)).(*[]multicall.Call)
		results := make([]multicall.Result, len(calls))
		for i, c := range calls {
			ret, err := b.dispatch(c.Target, c.CallData)
			if err != nil {
				if !c.AllowFailure {
					return nil, err
				}
				continue
			}
			results[i] = multicall.Result{Success: true, ReturnData: ret}
		}
		return []interface{}{results}, nil
	})
}

func (b *Backend) dispatch(to common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrRevert
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	b.mu.Lock()
	h := b.handlers[handlerKey{to: to, selector: sel}]
	b.calls++
	b.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("%w: no handler for %s 0x%x", ErrRevert, to.Hex(), sel)
	}
	return h(data)
}

// Sent returns the successfully broadcast transactions.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// SendAttempts counts SendTransaction invocations, failed ones included.
func (b *Backend) SendAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil {
		return nil, ErrRevert
	}
	return b.dispatch(*msg.To, msg.Data)
}

func (b *Backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.sent {
		if tx.Hash() != hash {
			continue
		}
		logs := make([]*types.Log, 0, len(b.ReceiptLogs))
		for _, l := range b.ReceiptLogs {
			cp := *l
			cp.TxHash = hash
			logs = append(logs, &cp)
		}
		return &types.Receipt{
			Status:      b.ReceiptStatus,
			TxHash:      hash,
			BlockNumber: new(big.Int).SetUint64(b.Head),
			GasUsed:     tx.Gas() / 2,
			Logs:        logs,
		}, nil
	}
	return nil, ethereum.NotFound
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ChainIDValue), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Head, nil
}

// SetHead moves the chain head and appends logs visible to FilterLogs.
func (b *Backend) SetHead(head uint64, logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Head = head
	b.Logs = append(b.Logs, logs...)
}

func (b *Backend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := &types.Header{Number: new(big.Int).SetUint64(b.Head)}
	if b.BaseFee != nil {
		h.BaseFee = new(big.Int).Set(b.BaseFee)
	}
	return h, nil
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Log
	for _, l := range b.Logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && (len(l.Topics) == 0 || !containsHash(q.Topics[0], l.Topics[0])) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.GasEstimate, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.SendErr != nil {
		return b.SendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *Backend) Close() {}

func containsAddress(addrs []common.Address, target common.Address) bool {
	for _, a := range addrs {
		if a == target {
			return true
		}
	}
	return false
}

func containsHash(hashes []common.Hash, target common.Hash) bool {
	for _, h := range hashes {
		if h == target {
			return true
		}
	}
	return false
}
