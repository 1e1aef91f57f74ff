package carbon

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	scaleBits = 48
	// rateDigits bounds the fractional digits kept when a rate is decoded or inverted.
	rateDigits = 48
	floatPrec  = 256
)

var (
	one          = new(big.Int).Lsh(big.NewInt(1), scaleBits)
	oneSquared   = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 2*scaleBits), 0)
	mantissaMask = new(big.Int).Sub(one, big.NewInt(1))
)

// Order is an order in rate space: amounts in the smallest unit of the token
// the order sells and rates in wei of the other token per wei sold.
type Order struct {
	Liquidity    *big.Int
	LowestRate   decimal.Decimal
	HighestRate  decimal.Decimal
	MarginalRate decimal.Decimal
}

// encodeRate returns floor(sqrt(rate) * 2^48).
func encodeRate(rate decimal.Decimal) (*big.Int, error) {
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: negative rate %s", ErrInvalidOption, rate)
	}
	if rate.IsZero() {
		return new(big.Int), nil
	}
	f, ok := new(big.Float).SetPrec(floatPrec).SetString(rate.String())
	if !ok {
		return nil, fmt.Errorf("%w: rate %s", ErrInvalidOption, rate)
	}
	f.Sqrt(f)
	f.Mul(f, new(big.Float).SetPrec(floatPrec).SetInt(one))
	out, _ := f.Int(nil)
	return out, nil
}

// decodeRate returns (v / 2^48)^2.
func decodeRate(v *big.Int) decimal.Decimal {
	if v == nil || v.Sign() == 0 {
		return decimal.Zero
	}
	sq := new(big.Int).Mul(v, v)
	return decimal.NewFromBigInt(sq, 0).DivRound(oneSquared, rateDigits)
}

// encodeFloat packs v into 64 bits: the bit length above the 48-bit mantissa
// goes into the high bits, the truncated mantissa into the low 48.
func encodeFloat(v *big.Int) uint64 {
	exp := new(big.Int).Rsh(v, scaleBits).BitLen()
	mantissa := new(big.Int).Rsh(v, uint(exp))
	return uint64(exp)<<scaleBits | mantissa.Uint64()
}

func decodeFloat(v uint64) *big.Int {
	mantissa := new(big.Int).SetUint64(v)
	mantissa.And(mantissa, mantissaMask)
	return mantissa.Lsh(mantissa, uint(v>>scaleBits))
}

// orderPoints are the scaled square-root rates L, H and M of an order.
type orderPoints struct {
	low, high, marginal *big.Int
}

func pointsOf(o EncodedOrder) orderPoints {
	low := decodeFloat(o.B)
	width := decodeFloat(o.A)
	high := new(big.Int).Add(low, width)
	y, z := cloneInt(o.Y), cloneInt(o.Z)

	marginal := new(big.Int).Set(high)
	if y.Cmp(z) != 0 && z.Sign() > 0 {
		marginal = new(big.Int).Mul(width, y)
		marginal.Quo(marginal, z)
		marginal.Add(marginal, low)
	}
	return orderPoints{low: low, high: high, marginal: marginal}
}

// capacity returns z for liquidity y with marginal point m inside [low, high].
func capacity(y, low, high, m *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return new(big.Int), nil
	}
	if high.Cmp(m) == 0 || high.Cmp(low) == 0 {
		return new(big.Int).Set(y), nil
	}
	if m.Cmp(low) <= 0 {
		return nil, fmt.Errorf("%w: marginal price at the bottom of the range requires a zero budget", ErrInvalidOption)
	}
	z := new(big.Int).Sub(high, low)
	z.Mul(z, y)
	return z.Quo(z, new(big.Int).Sub(m, low)), nil
}

func packOrder(y, z, low, high *big.Int) EncodedOrder {
	return EncodedOrder{
		Y: new(big.Int).Set(y),
		Z: z,
		A: encodeFloat(new(big.Int).Sub(high, low)),
		B: encodeFloat(low),
	}
}

// EncodeOrder converts a rate-space order into the on-chain layout.
func EncodeOrder(o Order) (EncodedOrder, error) {
	low, err := encodeRate(o.LowestRate)
	if err != nil {
		return EncodedOrder{}, err
	}
	high, err := encodeRate(o.HighestRate)
	if err != nil {
		return EncodedOrder{}, err
	}
	m, err := encodeRate(o.MarginalRate)
	if err != nil {
		return EncodedOrder{}, err
	}
	if low.Cmp(high) > 0 {
		return EncodedOrder{}, fmt.Errorf("%w: lowest rate above highest rate", ErrInvalidOption)
	}
	if m.Cmp(low) < 0 || m.Cmp(high) > 0 {
		return EncodedOrder{}, fmt.Errorf("%w: marginal rate outside [%s, %s]", ErrInvalidOption, o.LowestRate, o.HighestRate)
	}
	y := cloneInt(o.Liquidity)
	if y.Sign() < 0 {
		return EncodedOrder{}, fmt.Errorf("%w: negative liquidity", ErrInvalidOption)
	}
	z, err := capacity(y, low, high, m)
	if err != nil {
		return EncodedOrder{}, err
	}
	return packOrder(y, z, low, high), nil
}

// DecodeOrder is the inverse of EncodeOrder, up to encoding precision.
func DecodeOrder(e EncodedOrder) Order {
	p := pointsOf(e)
	return Order{
		Liquidity:    cloneInt(e.Y),
		LowestRate:   decodeRate(p.low),
		HighestRate:  decodeRate(p.high),
		MarginalRate: decodeRate(p.marginal),
	}
}
