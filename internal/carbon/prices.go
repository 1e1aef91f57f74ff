package carbon

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// displayDigits is the rounding applied to human-readable prices.
const displayDigits = 18

// ParseAmount parses a non-negative decimal option value.
func ParseAmount(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s=%q is not a decimal number", ErrInvalidOption, name, s)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s=%q is negative", ErrInvalidOption, name, s)
	}
	return d, nil
}

// toWei converts a token amount to its smallest unit, truncating dust.
func toWei(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

func fromWei(v *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(cloneInt(v), -int32(decimals))
}

// buyRate turns a buy-side price (quote per base) into a wei rate of the
// order that sells quote.
func buyRate(price decimal.Decimal, baseDec, quoteDec uint8) decimal.Decimal {
	return price.Shift(int32(quoteDec) - int32(baseDec))
}

func buyPrice(rate decimal.Decimal, baseDec, quoteDec uint8) decimal.Decimal {
	return rate.Shift(int32(baseDec) - int32(quoteDec))
}

// sellRate turns a sell-side price (quote per base) into a wei rate of the
// order that sells base. Zero maps to zero.
func sellRate(price decimal.Decimal, baseDec, quoteDec uint8) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(price, rateDigits).Shift(int32(baseDec) - int32(quoteDec))
}

func sellPrice(rate decimal.Decimal, baseDec, quoteDec uint8) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(rate.Shift(int32(quoteDec)-int32(baseDec)), rateDigits)
}

func formatPrice(d decimal.Decimal) string {
	return d.Round(displayDigits).String()
}

// DecodedStrategy is a strategy in human units. Base is token0, quote is
// token1, prices are quote per base.
type DecodedStrategy struct {
	ID                string `json:"id" yaml:"id"`
	Owner             string `json:"owner" yaml:"owner"`
	BaseToken         string `json:"baseToken" yaml:"baseToken"`
	QuoteToken        string `json:"quoteToken" yaml:"quoteToken"`
	BuyPriceLow       string `json:"buyPriceLow" yaml:"buyPriceLow"`
	BuyPriceMarginal  string `json:"buyPriceMarginal" yaml:"buyPriceMarginal"`
	BuyPriceHigh      string `json:"buyPriceHigh" yaml:"buyPriceHigh"`
	BuyBudget         string `json:"buyBudget" yaml:"buyBudget"`
	SellPriceLow      string `json:"sellPriceLow" yaml:"sellPriceLow"`
	SellPriceMarginal string `json:"sellPriceMarginal" yaml:"sellPriceMarginal"`
	SellPriceHigh     string `json:"sellPriceHigh" yaml:"sellPriceHigh"`
	SellBudget        string `json:"sellBudget" yaml:"sellBudget"`
}

// DecodeStrategy converts s into human units given the decimals of its tokens.
func DecodeStrategy(s EncodedStrategy, baseDec, quoteDec uint8) DecodedStrategy {
	sell := DecodeOrder(s.Order0)
	buy := DecodeOrder(s.Order1)
	id := "0"
	if s.ID != nil {
		id = s.ID.String()
	}
	return DecodedStrategy{
		ID:                id,
		Owner:             s.Owner.Hex(),
		BaseToken:         s.Token0.Hex(),
		QuoteToken:        s.Token1.Hex(),
		BuyPriceLow:       formatPrice(buyPrice(buy.LowestRate, baseDec, quoteDec)),
		BuyPriceMarginal:  formatPrice(buyPrice(buy.MarginalRate, baseDec, quoteDec)),
		BuyPriceHigh:      formatPrice(buyPrice(buy.HighestRate, baseDec, quoteDec)),
		BuyBudget:         fromWei(buy.Liquidity, quoteDec).String(),
		SellPriceLow:      formatPrice(sellPrice(sell.HighestRate, baseDec, quoteDec)),
		SellPriceMarginal: formatPrice(sellPrice(sell.MarginalRate, baseDec, quoteDec)),
		SellPriceHigh:     formatPrice(sellPrice(sell.LowestRate, baseDec, quoteDec)),
		SellBudget:        fromWei(sell.Liquidity, baseDec).String(),
	}
}
