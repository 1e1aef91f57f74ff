package carbon

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/chain"
)

// Option names accepted by NewUpdateRequest and the marginal price flags.
const (
	OptBuyPriceLow       = "buyPriceLow"
	OptBuyPriceHigh      = "buyPriceHigh"
	OptBuyBudget         = "buyBudget"
	OptSellPriceLow      = "sellPriceLow"
	OptSellPriceHigh     = "sellPriceHigh"
	OptSellBudget        = "sellBudget"
	OptBuyPriceMarginal  = "buyPriceMarginal"
	OptSellPriceMarginal = "sellPriceMarginal"
)

// UpdateRequest carries the fields to change. A nil field keeps the current value.
type UpdateRequest struct {
	BuyPriceLow   *string
	BuyPriceHigh  *string
	BuyBudget     *string
	SellPriceLow  *string
	SellPriceHigh *string
	SellBudget    *string
}

func (r *UpdateRequest) field(name string) **string {
	switch name {
	case OptBuyPriceLow:
		return &r.BuyPriceLow
	case OptBuyPriceHigh:
		return &r.BuyPriceHigh
	case OptBuyBudget:
		return &r.BuyBudget
	case OptSellPriceLow:
		return &r.SellPriceLow
	case OptSellPriceHigh:
		return &r.SellPriceHigh
	case OptSellBudget:
		return &r.SellBudget
	}
	return nil
}

// NewUpdateRequest builds a request from the supplied options only. Every
// value must be a non-negative decimal.
func NewUpdateRequest(values map[string]string) (UpdateRequest, error) {
	var r UpdateRequest
	for name, v := range values {
		dst := r.field(name)
		if dst == nil {
			return UpdateRequest{}, fmt.Errorf("%w: unknown option %q", ErrInvalidOption, name)
		}
		if _, err := ParseAmount(name, v); err != nil {
			return UpdateRequest{}, err
		}
		v := v
		*dst = &v
	}
	return r, nil
}

// Fields returns the supplied fields by option name.
func (r UpdateRequest) Fields() map[string]string {
	out := make(map[string]string)
	for _, name := range []string{OptBuyPriceLow, OptBuyPriceHigh, OptBuyBudget, OptSellPriceLow, OptSellPriceHigh, OptSellBudget} {
		if v := *r.field(name); v != nil {
			out[name] = *v
		}
	}
	return out
}

func (r UpdateRequest) String() string {
	fields := r.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += k + ":" + fields[k]
	}
	return s + "}"
}

type MarginalMode int

const (
	MarginalNone MarginalMode = iota
	MarginalReset
	MarginalMaintain
	MarginalLiteral
)

const (
	MarginalResetValue    = "RESET"
	MarginalMaintainValue = "MAINTAIN"
)

// MarginalPrice says how an order's marginal price is derived on update.
type MarginalPrice struct {
	Mode  MarginalMode
	Value string
}

// ParseMarginalPrice maps the option value to a mode. Any other non-empty
// value is kept verbatim as a literal price.
func ParseMarginalPrice(s string) MarginalPrice {
	switch s {
	case "":
		return MarginalPrice{}
	case MarginalResetValue:
		return MarginalPrice{Mode: MarginalReset}
	case MarginalMaintainValue:
		return MarginalPrice{Mode: MarginalMaintain}
	}
	return MarginalPrice{Mode: MarginalLiteral, Value: s}
}

func (m MarginalPrice) String() string {
	switch m.Mode {
	case MarginalReset:
		return MarginalResetValue
	case MarginalMaintain:
		return MarginalMaintainValue
	case MarginalLiteral:
		return m.Value
	}
	return ""
}

// Toolkit composes write transactions against the controller.
type Toolkit struct {
	reader   *Reader
	decimals *chain.Decimals
}

func NewToolkit(reader *Reader, decimals *chain.Decimals) *Toolkit {
	return &Toolkit{reader: reader, decimals: decimals}
}

// UpdateStrategy fetches strategy id and composes the updateStrategy call.
func (t *Toolkit) UpdateStrategy(ctx context.Context, id *big.Int, req UpdateRequest, buyMarginal, sellMarginal MarginalPrice) (*TxDescriptor, error) {
	current, err := t.reader.StrategyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.ComposeUpdate(ctx, current, req, buyMarginal, sellMarginal)
}

// ComposeUpdate builds the updateStrategy call that moves current to the
// requested state.
func (t *Toolkit) ComposeUpdate(ctx context.Context, current EncodedStrategy, req UpdateRequest, buyMarginal, sellMarginal MarginalPrice) (*TxDescriptor, error) {
	baseDec, err := t.decimals.Get(ctx, current.Token0)
	if err != nil {
		return nil, err
	}
	quoteDec, err := t.decimals.Get(ctx, current.Token1)
	if err != nil {
		return nil, err
	}

	buyChange, err := buyOrderChange(req, buyMarginal, baseDec, quoteDec)
	if err != nil {
		return nil, err
	}
	sellChange, err := sellOrderChange(req, sellMarginal, baseDec, quoteDec)
	if err != nil {
		return nil, err
	}
	newSell, err := updateOrder(current.Order0, sellChange)
	if err != nil {
		return nil, fmt.Errorf("sell order: %w", err)
	}
	newBuy, err := updateOrder(current.Order1, buyChange)
	if err != nil {
		return nil, fmt.Errorf("buy order: %w", err)
	}

	currentOrders := [2]EncodedOrder{current.Order0.clone(), current.Order1.clone()}
	newOrders := [2]EncodedOrder{newSell, newBuy}
	data, err := ControllerABI.Pack("updateStrategy", current.ID, currentOrders, newOrders)
	if err != nil {
		return nil, fmt.Errorf("pack updateStrategy: %w", err)
	}

	value := new(big.Int)
	addNativeIncrease(value, current.Token0, current.Order0.Y, newSell.Y)
	addNativeIncrease(value, current.Token1, current.Order1.Y, newBuy.Y)

	return &TxDescriptor{To: t.reader.Controller(), Data: data, Value: value}, nil
}

func addNativeIncrease(value *big.Int, token common.Address, before, after *big.Int) {
	if token != chain.NativeToken {
		return
	}
	diff := new(big.Int).Sub(cloneInt(after), cloneInt(before))
	if diff.Sign() > 0 {
		value.Add(value, diff)
	}
}

// orderChange holds new points and liquidity for one order; nil keeps the
// current value.
type orderChange struct {
	low, high *big.Int
	liquidity *big.Int
	marginal  MarginalPrice
	literal   *big.Int
}

func pointFromOption(name string, v *string, rate func(string) (*big.Int, error)) (*big.Int, error) {
	if v == nil {
		return nil, nil
	}
	p, err := rate(*v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

func buyOrderChange(req UpdateRequest, marginal MarginalPrice, baseDec, quoteDec uint8) (orderChange, error) {
	point := func(name string) func(string) (*big.Int, error) {
		return func(s string) (*big.Int, error) {
			price, err := ParseAmount(name, s)
			if err != nil {
				return nil, err
			}
			return encodeRate(buyRate(price, baseDec, quoteDec))
		}
	}
	ch := orderChange{marginal: marginal}
	var err error
	if ch.low, err = pointFromOption(OptBuyPriceLow, req.BuyPriceLow, point(OptBuyPriceLow)); err != nil {
		return ch, err
	}
	if ch.high, err = pointFromOption(OptBuyPriceHigh, req.BuyPriceHigh, point(OptBuyPriceHigh)); err != nil {
		return ch, err
	}
	if marginal.Mode == MarginalLiteral {
		if ch.literal, err = point(OptBuyPriceMarginal)(marginal.Value); err != nil {
			return ch, err
		}
	}
	if req.BuyBudget != nil {
		budget, err := ParseAmount(OptBuyBudget, *req.BuyBudget)
		if err != nil {
			return ch, err
		}
		ch.liquidity = toWei(budget, quoteDec)
	}
	return ch, nil
}

// sellOrderChange maps sell prices onto order0, whose rates are inverted:
// the high sell price is the order's lowest rate.
func sellOrderChange(req UpdateRequest, marginal MarginalPrice, baseDec, quoteDec uint8) (orderChange, error) {
	point := func(name string) func(string) (*big.Int, error) {
		return func(s string) (*big.Int, error) {
			price, err := ParseAmount(name, s)
			if err != nil {
				return nil, err
			}
			return encodeRate(sellRate(price, baseDec, quoteDec))
		}
	}
	ch := orderChange{marginal: marginal}
	var err error
	if ch.low, err = pointFromOption(OptSellPriceHigh, req.SellPriceHigh, point(OptSellPriceHigh)); err != nil {
		return ch, err
	}
	if ch.high, err = pointFromOption(OptSellPriceLow, req.SellPriceLow, point(OptSellPriceLow)); err != nil {
		return ch, err
	}
	if marginal.Mode == MarginalLiteral {
		if ch.literal, err = point(OptSellPriceMarginal)(marginal.Value); err != nil {
			return ch, err
		}
	}
	if req.SellBudget != nil {
		budget, err := ParseAmount(OptSellBudget, *req.SellBudget)
		if err != nil {
			return ch, err
		}
		ch.liquidity = toWei(budget, baseDec)
	}
	return ch, nil
}

func updateOrder(cur EncodedOrder, ch orderChange) (EncodedOrder, error) {
	p := pointsOf(cur)
	low, high := p.low, p.high
	if ch.low != nil {
		low = ch.low
	}
	if ch.high != nil {
		high = ch.high
	}
	if low.Cmp(high) > 0 {
		return EncodedOrder{}, fmt.Errorf("%w: low price above high price", ErrInvalidOption)
	}
	y := cloneInt(cur.Y)
	if ch.liquidity != nil {
		y = new(big.Int).Set(ch.liquidity)
	}
	rangeChanged := low.Cmp(p.low) != 0 || high.Cmp(p.high) != 0
	budgetChanged := y.Cmp(cloneInt(cur.Y)) != 0

	mode := ch.marginal.Mode
	if mode == MarginalNone {
		switch {
		case rangeChanged:
			mode = MarginalReset
		case budgetChanged:
			mode = MarginalMaintain
		default:
			return cur.clone(), nil
		}
	}

	var z *big.Int
	switch mode {
	case MarginalReset:
		z = new(big.Int).Set(y)
	case MarginalMaintain:
		m := clamp(p.marginal, low, high)
		switch {
		case y.Sign() == 0:
			z = cloneInt(cur.Z)
		case m.Cmp(low) <= 0 && high.Cmp(low) > 0:
			// an empty order has its marginal at the bottom; refill from the top
			z = new(big.Int).Set(y)
		default:
			var err error
			if z, err = capacity(y, low, high, m); err != nil {
				return EncodedOrder{}, err
			}
		}
	case MarginalLiteral:
		m := ch.literal
		if m.Cmp(low) < 0 || m.Cmp(high) > 0 {
			return EncodedOrder{}, fmt.Errorf("%w: marginal price %s outside the order range", ErrInvalidOption, ch.marginal.Value)
		}
		if y.Sign() == 0 && m.Cmp(high) != 0 {
			return EncodedOrder{}, fmt.Errorf("%w: marginal price %s below the range top needs a positive budget", ErrInvalidOption, ch.marginal.Value)
		}
		var err error
		if z, err = capacity(y, low, high, m); err != nil {
			return EncodedOrder{}, err
		}
	}
	return packOrder(y, z, low, high), nil
}

func clamp(v, low, high *big.Int) *big.Int {
	if v.Cmp(low) < 0 {
		return new(big.Int).Set(low)
	}
	if v.Cmp(high) > 0 {
		return new(big.Int).Set(high)
	}
	return new(big.Int).Set(v)
}
