// Package carbon speaks the Carbon protocol: controller reads, order
// encoding, strategy updates, governance proposals and voucher transfers.
package carbon

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/ethutil"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidOption = errors.New("invalid option")
)

// EncodedOrder mirrors the controller's Order struct.
type EncodedOrder struct {
	Y *big.Int
	Z *big.Int
	A uint64
	B uint64
}

func (o EncodedOrder) clone() EncodedOrder {
	return EncodedOrder{Y: cloneInt(o.Y), Z: cloneInt(o.Z), A: o.A, B: o.B}
}

// Equal compares all four fields; nil and zero amounts are equal.
func (o EncodedOrder) Equal(other EncodedOrder) bool {
	return o.A == other.A && o.B == other.B &&
		cloneInt(o.Y).Cmp(cloneInt(other.Y)) == 0 &&
		cloneInt(o.Z).Cmp(cloneInt(other.Z)) == 0
}

// contractStrategy is the ABI shape of the controller's Strategy struct.
type contractStrategy struct {
	Id     *big.Int
	Owner  common.Address
	Tokens [2]common.Address
	Orders [2]EncodedOrder
}

// EncodedStrategy is a strategy as stored on chain. Order0 sells Token0 (the
// sell side), Order1 sells Token1 (the buy side).
type EncodedStrategy struct {
	ID     *big.Int
	Owner  common.Address
	Token0 common.Address
	Token1 common.Address
	Order0 EncodedOrder
	Order1 EncodedOrder
}

func (s contractStrategy) encoded() EncodedStrategy {
	return EncodedStrategy{
		ID:     s.Id,
		Owner:  s.Owner,
		Token0: s.Tokens[0],
		Token1: s.Tokens[1],
		Order0: s.Orders[0],
		Order1: s.Orders[1],
	}
}

// Pair is a token pair as listed by the controller.
type Pair struct {
	Token0 common.Address
	Token1 common.Address
}

// PairKey identifies a pair regardless of token order.
type PairKey struct {
	A common.Address
	B common.Address
}

func NewPairKey(a, b common.Address) PairKey {
	lo, hi := ethutil.SortPair(a, b)
	return PairKey{A: lo, B: hi}
}

func (p Pair) Key() PairKey { return NewPairKey(p.Token0, p.Token1) }

func (k PairKey) String() string { return k.A.Hex() + "/" + k.B.Hex() }

// TxDescriptor is an unsigned contract call ready for the signer.
type TxDescriptor struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
