package carbon

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/chain/chaintest"
)

var (
	testController = common.HexToAddress("0xC537e898CD774e2dCBa3B14Ea6f34C93d5eA45e1")
	testVoucher    = common.HexToAddress("0x3660F04B79751e31128f6378eAC70807e38f554E")
	testWETH       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testUSDC       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func mustEncode(t *testing.T, o Order) EncodedOrder {
	t.Helper()
	enc, err := EncodeOrder(o)
	if err != nil {
		t.Fatalf("EncodeOrder: %v", err)
	}
	return enc
}

// testStrategy buys base between 1500 and 2000 (marginal 1800) with 1000
// quote and sells 1 base between 2500 and 3000.
func testStrategy(t *testing.T, base common.Address) EncodedStrategy {
	t.Helper()
	p := decimal.RequireFromString
	buy := mustEncode(t, Order{
		Liquidity:    big.NewInt(1_000_000_000),
		LowestRate:   buyRate(p("1500"), 18, 6),
		HighestRate:  buyRate(p("2000"), 18, 6),
		MarginalRate: buyRate(p("1800"), 18, 6),
	})
	sell := mustEncode(t, Order{
		Liquidity:    new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		LowestRate:   sellRate(p("3000"), 18, 6),
		HighestRate:  sellRate(p("2500"), 18, 6),
		MarginalRate: sellRate(p("2500"), 18, 6),
	})
	return EncodedStrategy{
		ID:     big.NewInt(12345),
		Owner:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Token0: base,
		Token1: testUSDC,
		Order0: sell,
		Order1: buy,
	}
}

var erc20Decimals = chain.MustParseABI(`[{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`)

func newTestToolkit(b *chaintest.Backend) *Toolkit {
	for token, dec := range map[common.Address]uint8{testWETH: 18, testUSDC: 6} {
		dec := dec
		b.Handle(token, erc20Decimals, "decimals", func([]interface{}) ([]interface{}, error) {
			return []interface{}{dec}, nil
		})
	}
	return NewToolkit(NewReader(b, testController, testVoucher, common.Address{}), chain.NewDecimals(b))
}

func unpackUpdate(t *testing.T, data []byte) (id *big.Int, current, next [2]EncodedOrder) {
	t.Helper()
	m := ControllerABI.Methods["updateStrategy"]
	if string(data[:4]) != string(m.ID) {
		t.Fatalf("unexpected selector %x", data[:4])
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	id = args[0].(*big.Int)
	current = *abi.ConvertType(args[1], new([2]EncodedOrder)).(*[2]EncodedOrder)
	next = *abi.ConvertType(args[2], new([2]EncodedOrder)).(*[2]EncodedOrder)
	return id, current, next
}

func strPtr(s string) *string { return &s }

func TestParseMarginalPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want MarginalPrice
	}{
		{"", MarginalPrice{}},
		{"RESET", MarginalPrice{Mode: MarginalReset}},
		{"MAINTAIN", MarginalPrice{Mode: MarginalMaintain}},
		{"1850.5", MarginalPrice{Mode: MarginalLiteral, Value: "1850.5"}},
		{"reset", MarginalPrice{Mode: MarginalLiteral, Value: "reset"}},
	}
	for _, tc := range cases {
		if got := ParseMarginalPrice(tc.in); got != tc.want {
			t.Fatalf("ParseMarginalPrice(%q)=%+v want %+v", tc.in, got, tc.want)
		}
		if tc.in != "" && ParseMarginalPrice(tc.in).String() != tc.in {
			t.Fatalf("String() does not round trip %q", tc.in)
		}
	}
}

func TestNewUpdateRequestOnlySuppliedFields(t *testing.T) {
	t.Parallel()

	req, err := NewUpdateRequest(map[string]string{OptBuyBudget: "1000"})
	if err != nil {
		t.Fatalf("NewUpdateRequest: %v", err)
	}
	if req.BuyBudget == nil || *req.BuyBudget != "1000" {
		t.Fatalf("buyBudget=%v", req.BuyBudget)
	}
	if req.BuyPriceLow != nil || req.BuyPriceHigh != nil || req.SellPriceLow != nil || req.SellPriceHigh != nil || req.SellBudget != nil {
		t.Fatalf("unexpected fields set: %s", req)
	}
	if got := req.String(); got != "{buyBudget:1000}" {
		t.Fatalf("String()=%q", got)
	}

	for _, bad := range []map[string]string{
		{OptBuyBudget: "abc"},
		{OptSellPriceLow: "-1"},
		{"buyPrice": "1"},
	} {
		if _, err := NewUpdateRequest(bad); !errors.Is(err, ErrInvalidOption) {
			t.Fatalf("NewUpdateRequest(%v): expected ErrInvalidOption, got %v", bad, err)
		}
	}
}

func TestComposeUpdateBudgetMaintain(t *testing.T) {
	t.Parallel()

	b := chaintest.New()
	tk := newTestToolkit(b)
	cur := testStrategy(t, testWETH)

	req := UpdateRequest{BuyBudget: strPtr("2000")}
	tx, err := tk.ComposeUpdate(context.Background(), cur, req, ParseMarginalPrice("MAINTAIN"), MarginalPrice{})
	if err != nil {
		t.Fatalf("ComposeUpdate: %v", err)
	}
	if tx.To != testController {
		t.Fatalf("to=%s", tx.To.Hex())
	}
	if tx.Value.Sign() != 0 {
		t.Fatalf("value=%s want 0", tx.Value)
	}

	id, current, next := unpackUpdate(t, tx.Data)
	if id.Int64() != 12345 {
		t.Fatalf("id=%s", id)
	}
	if !current[0].Equal(cur.Order0) || !current[1].Equal(cur.Order1) {
		t.Fatalf("current orders not echoed")
	}
	if !next[0].Equal(cur.Order0) {
		t.Fatalf("sell order changed: %+v", next[0])
	}
	if next[1].Y.Int64() != 2_000_000_000 {
		t.Fatalf("buy y=%s", next[1].Y)
	}
	if next[1].A != cur.Order1.A || next[1].B != cur.Order1.B {
		t.Fatalf("buy range changed")
	}
	near(t, "marginal", DecodeOrder(next[1]).MarginalRate, DecodeOrder(cur.Order1).MarginalRate, 1e-6)
}

func TestComposeUpdateMarginalModes(t *testing.T) {
	t.Parallel()

	b := chaintest.New()
	tk := newTestToolkit(b)
	cur := testStrategy(t, testWETH)
	ctx := context.Background()

	t.Run("reset", func(t *testing.T) {
		tx, err := tk.ComposeUpdate(ctx, cur, UpdateRequest{}, ParseMarginalPrice("RESET"), MarginalPrice{})
		if err != nil {
			t.Fatalf("ComposeUpdate: %v", err)
		}
		_, _, next := unpackUpdate(t, tx.Data)
		if next[1].Z.Cmp(next[1].Y) != 0 {
			t.Fatalf("reset: z=%s y=%s", next[1].Z, next[1].Y)
		}
	})

	t.Run("range change resets", func(t *testing.T) {
		req := UpdateRequest{BuyPriceLow: strPtr("1400")}
		tx, err := tk.ComposeUpdate(ctx, cur, req, MarginalPrice{}, MarginalPrice{})
		if err != nil {
			t.Fatalf("ComposeUpdate: %v", err)
		}
		_, _, next := unpackUpdate(t, tx.Data)
		if next[1].Z.Cmp(next[1].Y) != 0 {
			t.Fatalf("z=%s y=%s", next[1].Z, next[1].Y)
		}
		got := DecodeStrategy(EncodedStrategy{ID: cur.ID, Order0: next[0], Order1: next[1]}, 18, 6)
		near(t, "buyPriceLow", decimal.RequireFromString(got.BuyPriceLow), decimal.NewFromInt(1400), 1e-6)
		near(t, "buyPriceHigh", decimal.RequireFromString(got.BuyPriceHigh), decimal.NewFromInt(2000), 1e-6)
	})

	t.Run("nothing changes", func(t *testing.T) {
		tx, err := tk.ComposeUpdate(ctx, cur, UpdateRequest{}, MarginalPrice{}, MarginalPrice{})
		if err != nil {
			t.Fatalf("ComposeUpdate: %v", err)
		}
		_, _, next := unpackUpdate(t, tx.Data)
		if !next[0].Equal(cur.Order0) || !next[1].Equal(cur.Order1) {
			t.Fatalf("orders changed without request")
		}
	})

	t.Run("literal", func(t *testing.T) {
		tx, err := tk.ComposeUpdate(ctx, cur, UpdateRequest{}, ParseMarginalPrice("1700"), MarginalPrice{})
		if err != nil {
			t.Fatalf("ComposeUpdate: %v", err)
		}
		_, _, next := unpackUpdate(t, tx.Data)
		got := DecodeStrategy(EncodedStrategy{ID: cur.ID, Order0: next[0], Order1: next[1]}, 18, 6)
		near(t, "buyPriceMarginal", decimal.RequireFromString(got.BuyPriceMarginal), decimal.NewFromInt(1700), 1e-6)
	})

	t.Run("literal outside range", func(t *testing.T) {
		_, err := tk.ComposeUpdate(ctx, cur, UpdateRequest{}, MarginalPrice{}, ParseMarginalPrice("100"))
		if !errors.Is(err, ErrInvalidOption) {
			t.Fatalf("expected ErrInvalidOption, got %v", err)
		}
	})

	t.Run("literal not a number", func(t *testing.T) {
		_, err := tk.ComposeUpdate(ctx, cur, UpdateRequest{}, ParseMarginalPrice("maintain"), MarginalPrice{})
		if !errors.Is(err, ErrInvalidOption) {
			t.Fatalf("expected ErrInvalidOption, got %v", err)
		}
	})

	t.Run("inverted range", func(t *testing.T) {
		req := UpdateRequest{SellPriceLow: strPtr("3500")}
		_, err := tk.ComposeUpdate(ctx, cur, req, MarginalPrice{}, MarginalPrice{})
		if !errors.Is(err, ErrInvalidOption) {
			t.Fatalf("expected ErrInvalidOption, got %v", err)
		}
	})
}

func TestComposeUpdateNativeBudgetIncreaseIsSentAsValue(t *testing.T) {
	t.Parallel()

	b := chaintest.New()
	tk := newTestToolkit(b)
	cur := testStrategy(t, chain.NativeToken)

	tx, err := tk.ComposeUpdate(context.Background(), cur, UpdateRequest{SellBudget: strPtr("1.5")}, MarginalPrice{}, MarginalPrice{})
	if err != nil {
		t.Fatalf("ComposeUpdate: %v", err)
	}
	want, _ := new(big.Int).SetString("500000000000000000", 10)
	if tx.Value.Cmp(want) != 0 {
		t.Fatalf("value=%s want %s", tx.Value, want)
	}

	tx, err = tk.ComposeUpdate(context.Background(), cur, UpdateRequest{SellBudget: strPtr("0.5")}, MarginalPrice{}, MarginalPrice{})
	if err != nil {
		t.Fatalf("ComposeUpdate: %v", err)
	}
	if tx.Value.Sign() != 0 {
		t.Fatalf("withdrawal must not carry value, got %s", tx.Value)
	}
}

func TestDecodeStrategyHumanPrices(t *testing.T) {
	t.Parallel()

	d := DecodeStrategy(testStrategy(t, testWETH), 18, 6)
	checks := map[string][2]string{
		"buyPriceLow":       {d.BuyPriceLow, "1500"},
		"buyPriceHigh":      {d.BuyPriceHigh, "2000"},
		"buyPriceMarginal":  {d.BuyPriceMarginal, "1800"},
		"sellPriceLow":      {d.SellPriceLow, "2500"},
		"sellPriceHigh":     {d.SellPriceHigh, "3000"},
		"sellPriceMarginal": {d.SellPriceMarginal, "2500"},
	}
	for name, c := range checks {
		near(t, name, decimal.RequireFromString(c[0]), decimal.RequireFromString(c[1]), 1e-6)
	}
	if d.BuyBudget != "1000" || d.SellBudget != "1" {
		t.Fatalf("budgets buy=%s sell=%s", d.BuyBudget, d.SellBudget)
	}
	if d.ID != "12345" {
		t.Fatalf("id=%s", d.ID)
	}
}
