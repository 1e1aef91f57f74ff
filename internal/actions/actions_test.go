package actions

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"carbon-gocli/internal/carbon"
	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/chain/chaintest"
	"carbon-gocli/internal/config"
	"carbon-gocli/internal/session"
	"carbon-gocli/internal/txlog"
)

var (
	controller = common.HexToAddress("0xC537e898CD774e2dCBa3B14Ea6f34C93d5eA45e1")
	voucher    = common.HexToAddress("0x3660F04B79751e31128f6378eAC70807e38f554E")
	governor   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	timelock   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

var erc20Decimals = chain.MustParseABI(`[{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type contractStrategy struct {
	Id     *big.Int
	Owner  common.Address
	Tokens [2]common.Address
	Orders [2]carbon.EncodedOrder
}

type fixture struct {
	backend *chaintest.Backend
	session *session.Session
	env     map[string]string
	journal string
}

func encodeOrder(t *testing.T, y *big.Int, low, high, marginal string) carbon.EncodedOrder {
	t.Helper()
	o, err := carbon.EncodeOrder(carbon.Order{
		Liquidity:    y,
		LowestRate:   decimal.RequireFromString(low),
		HighestRate:  decimal.RequireFromString(high),
		MarginalRate: decimal.RequireFromString(marginal),
	})
	if err != nil {
		t.Fatalf("EncodeOrder: %v", err)
	}
	return o
}

// newFixture serves strategy 12345 on ETH/USDC and returns a session with a
// signing key in its environment.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := chaintest.New()
	key, err := crypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	// buy 1500-2000 USDC/ETH, sell 2500-3000 USDC/ETH
	buy := encodeOrder(t, big.NewInt(500_000_000), "0.0000000015", "0.000000002", "0.0000000018")
	sell := encodeOrder(t, big.NewInt(1e18), "333333333.333333333333", "400000000", "400000000")
	strategy := contractStrategy{
		Id:     big.NewInt(12345),
		Owner:  owner,
		Tokens: [2]common.Address{chain.NativeToken, usdc},
		Orders: [2]carbon.EncodedOrder{sell, buy},
	}
	b.Handle(controller, carbon.ControllerABI, "strategy", func(args []interface{}) ([]interface{}, error) {
		if args[0].(*big.Int).Cmp(strategy.Id) != 0 {
			return nil, chaintest.ErrRevert
		}
		return []interface{}{strategy}, nil
	})

	b.Handle(usdc, erc20Decimals, "decimals", func([]interface{}) ([]interface{}, error) {
		return []interface{}{uint8(6)}, nil
	})
	b.Handle(voucher, carbon.VoucherABI, "ownerOf", func(args []interface{}) ([]interface{}, error) {
		if args[0].(*big.Int).Cmp(strategy.Id) != 0 {
			return nil, chaintest.ErrRevert
		}
		return []interface{}{strategy.Owner}, nil
	})

	journal := filepath.Join(t.TempDir(), "tx.jsonl")
	cfg := config.Config{
		Network: config.Network{
			Name:    "test",
			ChainID: 1,
			Contracts: config.Contracts{
				Controller: controller,
				Voucher:    voucher,
				Governor:   governor,
				Timelock:   timelock,
			},
		},
		ConfirmTimeout: 5 * time.Second,
		Journal:        journal,
	}
	env := map[string]string{chain.PrivateKeyEnv: "0x" + testKey}
	s, err := session.New(context.Background(), cfg, b, big.NewInt(1), session.Options{
		Getenv: func(k string) string { return env[k] },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &fixture{backend: b, session: s, env: env, journal: journal}
}

func (f *fixture) journalEvents(t *testing.T) []txlog.Event {
	t.Helper()
	if err := f.session.Journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}
	fh, err := os.Open(f.journal)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer fh.Close()
	var out []txlog.Event
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var ev txlog.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("journal line: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func maintainBuyBudget(t *testing.T) UpdateParams {
	t.Helper()
	req, err := carbon.NewUpdateRequest(map[string]string{carbon.OptBuyBudget: "1000"})
	if err != nil {
		t.Fatalf("NewUpdateRequest: %v", err)
	}
	return UpdateParams{
		StrategyID:  big.NewInt(12345),
		Request:     req,
		BuyMarginal: carbon.ParseMarginalPrice("MAINTAIN"),
	}
}

func TestUpdateStrategySendsOneTransaction(t *testing.T) {
	f := newFixture(t)

	receipt, err := UpdateStrategy(context.Background(), f.session, maintainBuyBudget(t))
	if err != nil {
		t.Fatalf("UpdateStrategy: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("status=%d", receipt.Status)
	}
	sent := f.backend.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent=%d want 1", len(sent))
	}
	tx := sent[0]
	if *tx.To() != controller || tx.Value().Sign() != 0 {
		t.Fatalf("to=%s value=%s", tx.To().Hex(), tx.Value())
	}
	m := carbon.ControllerABI.Methods["updateStrategy"]
	args, err := m.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	next := *abi.ConvertType(args[2], new([2]carbon.EncodedOrder)).(*[2]carbon.EncodedOrder)
	if next[1].Y.Int64() != 1_000_000_000 {
		t.Fatalf("buy budget wei=%s", next[1].Y)
	}

	events := f.journalEvents(t)
	if len(events) != 1 {
		t.Fatalf("journal lines=%d want 1", len(events))
	}
	ev := events[0]
	if ev.Status != txlog.StatusMined || ev.TxHash != tx.Hash().Hex() || ev.Kind != KindUpdate {
		t.Fatalf("journal event %+v", ev)
	}
	if ev.Request["buyBudget"] != "1000" || ev.Request["buyPriceMarginal"] != "MAINTAIN" || len(ev.Request) != 2 {
		t.Fatalf("journal request %v", ev.Request)
	}
}

func TestUpdateStrategyBroadcastFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.backend.SendErr = errors.New("nonce too low")

	if _, err := UpdateStrategy(context.Background(), f.session, maintainBuyBudget(t)); err == nil {
		t.Fatalf("expected error")
	}
	if n := f.backend.SendAttempts(); n != 1 {
		t.Fatalf("send attempts=%d want 1", n)
	}
	events := f.journalEvents(t)
	if len(events) != 1 || events[0].Status != txlog.StatusFailed || events[0].Error == "" {
		t.Fatalf("journal %+v", events)
	}
}

func TestUpdateStrategyMissingKeyDoesNotBroadcast(t *testing.T) {
	f := newFixture(t)
	delete(f.env, chain.PrivateKeyEnv)

	_, err := UpdateStrategy(context.Background(), f.session, maintainBuyBudget(t))
	if !errors.Is(err, chain.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if n := f.backend.SendAttempts(); n != 0 {
		t.Fatalf("send attempts=%d want 0", n)
	}
}

func TestUpdateStrategyUnknownID(t *testing.T) {
	f := newFixture(t)
	p := maintainBuyBudget(t)
	p.StrategyID = big.NewInt(1)

	if _, err := UpdateStrategy(context.Background(), f.session, p); !errors.Is(err, carbon.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := f.backend.SendAttempts(); n != 0 {
		t.Fatalf("send attempts=%d want 0", n)
	}
}

func TestUpdateStrategyReverted(t *testing.T) {
	f := newFixture(t)
	f.backend.ReceiptStatus = types.ReceiptStatusFailed

	receipt, err := UpdateStrategy(context.Background(), f.session, maintainBuyBudget(t))
	if !errors.Is(err, chain.ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	if receipt == nil {
		t.Fatalf("reverted receipt should be returned")
	}
	events := f.journalEvents(t)
	if len(events) != 1 || events[0].Status != txlog.StatusReverted {
		t.Fatalf("journal %+v", events)
	}
}

func proposalLog(t *testing.T, emitter common.Address, id int64) *types.Log {
	t.Helper()
	ev := carbon.GovernorABI.Events["ProposalCreated"]
	data, err := ev.Inputs.Pack(
		big.NewInt(id), common.Address{}, []common.Address{controller}, []*big.Int{big.NewInt(0)},
		[]string{""}, [][]byte{{0x01}}, big.NewInt(1), big.NewInt(2), "Update strategy 12345",
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return &types.Log{Address: emitter, Topics: []common.Hash{ev.ID}, Data: data}
}

func TestProposeUpdateStrategy(t *testing.T) {
	t.Run("network governor with proposal id", func(t *testing.T) {
		f := newFixture(t)
		f.backend.ReceiptLogs = []*types.Log{proposalLog(t, governor, 42)}

		res, err := ProposeUpdateStrategy(context.Background(), f.session, ProposeParams{UpdateParams: maintainBuyBudget(t)})
		if err != nil {
			t.Fatalf("ProposeUpdateStrategy: %v", err)
		}
		if res.ProposalID == nil || res.ProposalID.Int64() != 42 {
			t.Fatalf("proposal id=%v", res.ProposalID)
		}
		sent := f.backend.Sent()
		if len(sent) != 1 || *sent[0].To() != governor {
			t.Fatalf("sent=%d", len(sent))
		}
		args, err := carbon.GovernorABI.Methods["propose"].Inputs.Unpack(sent[0].Data()[4:])
		if err != nil {
			t.Fatalf("unpack propose: %v", err)
		}
		targets := args[0].([]common.Address)
		calldatas := args[2].([][]byte)
		if len(targets) != 1 || targets[0] != controller {
			t.Fatalf("targets=%v", targets)
		}
		if string(calldatas[0][:4]) != string(carbon.ControllerABI.Methods["updateStrategy"].ID) {
			t.Fatalf("inner call is not updateStrategy")
		}
		if args[3].(string) != "Update strategy 12345" {
			t.Fatalf("description=%q", args[3])
		}
		events := f.journalEvents(t)
		if len(events) != 1 || events[0].ProposalID != "42" {
			t.Fatalf("journal %+v", events)
		}
	})

	t.Run("explicit governor without event", func(t *testing.T) {
		f := newFixture(t)
		other := common.HexToAddress("0x00000000000000000000000000000000000000cc")

		res, err := ProposeUpdateStrategy(context.Background(), f.session, ProposeParams{
			UpdateParams: maintainBuyBudget(t),
			Governor:     other,
			Description:  "raise buy budget",
		})
		if err != nil {
			t.Fatalf("ProposeUpdateStrategy: %v", err)
		}
		if res.ProposalID != nil {
			t.Fatalf("unexpected proposal id %s", res.ProposalID)
		}
		if sent := f.backend.Sent(); len(sent) != 1 || *sent[0].To() != other {
			t.Fatalf("not sent to explicit governor")
		}
	})

	t.Run("native budget increase carries no value", func(t *testing.T) {
		f := newFixture(t)
		req, err := carbon.NewUpdateRequest(map[string]string{carbon.OptSellBudget: "2"})
		if err != nil {
			t.Fatalf("NewUpdateRequest: %v", err)
		}
		p := ProposeParams{UpdateParams: UpdateParams{StrategyID: big.NewInt(12345), Request: req}}

		if _, err := ProposeUpdateStrategy(context.Background(), f.session, p); err != nil {
			t.Fatalf("ProposeUpdateStrategy: %v", err)
		}
		sent := f.backend.Sent()
		if len(sent) != 1 || sent[0].Value().Sign() != 0 {
			t.Fatalf("propose tx value must be zero")
		}
		args, err := carbon.GovernorABI.Methods["propose"].Inputs.Unpack(sent[0].Data()[4:])
		if err != nil {
			t.Fatalf("unpack propose: %v", err)
		}
		values := args[1].([]*big.Int)
		if len(values) != 1 || values[0].Sign() != 0 {
			t.Fatalf("values=%v want [0]", values)
		}
		inner, err := carbon.ControllerABI.Methods["updateStrategy"].Inputs.Unpack(args[2].([][]byte)[0][4:])
		if err != nil {
			t.Fatalf("unpack updateStrategy: %v", err)
		}
		next := *abi.ConvertType(inner[2], new([2]carbon.EncodedOrder)).(*[2]carbon.EncodedOrder)
		if next[0].Y.Cmp(new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))) != 0 {
			t.Fatalf("sell budget wei=%s", next[0].Y)
		}
	})

	t.Run("reverted proposal keeps receipt", func(t *testing.T) {
		f := newFixture(t)
		f.backend.ReceiptStatus = types.ReceiptStatusFailed

		res, err := ProposeUpdateStrategy(context.Background(), f.session, ProposeParams{UpdateParams: maintainBuyBudget(t)})
		if !errors.Is(err, chain.ErrReverted) {
			t.Fatalf("expected ErrReverted, got %v", err)
		}
		if res == nil || res.Receipt == nil || res.ProposalID != nil {
			t.Fatalf("result %+v", res)
		}
	})

	t.Run("no governor", func(t *testing.T) {
		f := newFixture(t)
		f.session.Config.Network.Contracts.Governor = common.Address{}

		_, err := ProposeUpdateStrategy(context.Background(), f.session, ProposeParams{UpdateParams: maintainBuyBudget(t)})
		if !errors.Is(err, ErrNoGovernor) {
			t.Fatalf("expected ErrNoGovernor, got %v", err)
		}
		if f.backend.SendAttempts() != 0 {
			t.Fatalf("broadcast without governor")
		}
	})
}

func TestTransferStrategyTargetsTimelock(t *testing.T) {
	f := newFixture(t)

	if _, err := TransferStrategy(context.Background(), f.session, big.NewInt(12345)); err != nil {
		t.Fatalf("TransferStrategy: %v", err)
	}
	sent := f.backend.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent=%d", len(sent))
	}
	tx := sent[0]
	if *tx.To() != voucher || tx.Gas() != carbon.TransferGasLimit {
		t.Fatalf("to=%s gas=%d", tx.To().Hex(), tx.Gas())
	}
	args, err := carbon.VoucherABI.Methods["transferFrom"].Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	key, _ := crypto.HexToECDSA(testKey)
	if args[0].(common.Address) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("from=%s", args[0])
	}
	if args[1].(common.Address) != timelock {
		t.Fatalf("to=%s want timelock", args[1])
	}
	if args[2].(*big.Int).Int64() != 12345 {
		t.Fatalf("id=%s", args[2])
	}
}

func TestTransferStrategyRefusesZeroTimelock(t *testing.T) {
	f := newFixture(t)
	f.session.Config.Network.Contracts.Timelock = common.Address{}

	if _, err := TransferStrategy(context.Background(), f.session, big.NewInt(12345)); !errors.Is(err, ErrNoTimelock) {
		t.Fatalf("expected ErrNoTimelock, got %v", err)
	}
	if f.backend.SendAttempts() != 0 {
		t.Fatalf("broadcast with zero timelock")
	}
}

func TestTransferStrategyRefusesForeignVoucher(t *testing.T) {
	f := newFixture(t)
	other, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	f.env[chain.PrivateKeyEnv] = "0x" + common.Bytes2Hex(crypto.FromECDSA(other))

	if _, err := TransferStrategy(context.Background(), f.session, big.NewInt(12345)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := TransferStrategy(context.Background(), f.session, big.NewInt(9)); !errors.Is(err, carbon.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.backend.SendAttempts() != 0 {
		t.Fatalf("broadcast for a voucher the signer does not hold")
	}
}
