// Package actions implements the write pipelines: update a strategy,
// propose an update through governance and transfer a strategy voucher.
package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"carbon-gocli/internal/carbon"
	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/ethutil"
	"carbon-gocli/internal/metrics"
	"carbon-gocli/internal/session"
	"carbon-gocli/internal/txlog"
)

const (
	KindUpdate   = "update"
	KindPropose  = "propose"
	KindTransfer = "transfer"
)

var (
	ErrNoGovernor = errors.New("governor address not configured")
	ErrNoTimelock = errors.New("timelock address not configured")
	ErrNotOwner   = errors.New("signer does not own the strategy")
)

type UpdateParams struct {
	StrategyID   *big.Int
	Request      carbon.UpdateRequest
	BuyMarginal  carbon.MarginalPrice
	SellMarginal carbon.MarginalPrice
}

type ProposeParams struct {
	UpdateParams
	// Governor overrides the network's governor when non-zero.
	Governor    common.Address
	Description string
}

type ProposeResult struct {
	Receipt    *types.Receipt
	ProposalID *big.Int
}

// UpdateStrategy composes, signs and broadcasts updateStrategy once, then
// waits for the receipt.
func UpdateStrategy(ctx context.Context, s *session.Session, p UpdateParams) (*types.Receipt, error) {
	ev := txlog.Event{Kind: KindUpdate, StrategyID: p.StrategyID.String(), Request: requestFields(p)}
	desc, err := s.Toolkit.UpdateStrategy(ctx, p.StrategyID, p.Request, p.BuyMarginal, p.SellMarginal)
	if err != nil {
		return nil, fail(s, ev, err)
	}
	receipt, err := send(ctx, s, &ev, chain.TxRequest{To: desc.To, Data: desc.Data, Value: desc.Value})
	if err != nil {
		return receipt, err
	}
	record(s, ev)
	return receipt, nil
}

// ProposeUpdateStrategy wraps the update call into Governor.propose and
// reports the proposal id when the receipt carries ProposalCreated.
func ProposeUpdateStrategy(ctx context.Context, s *session.Session, p ProposeParams) (*ProposeResult, error) {
	ev := txlog.Event{Kind: KindPropose, StrategyID: p.StrategyID.String(), Request: requestFields(p.UpdateParams)}
	governor := p.Governor
	if governor == (common.Address{}) {
		governor = s.Config.Network.Contracts.Governor
	}
	if governor == (common.Address{}) {
		return nil, fail(s, ev, ErrNoGovernor)
	}
	description := p.Description
	if description == "" {
		description = "Update strategy " + p.StrategyID.String()
	}

	desc, err := s.Toolkit.UpdateStrategy(ctx, p.StrategyID, p.Request, p.BuyMarginal, p.SellMarginal)
	if err != nil {
		return nil, fail(s, ev, err)
	}
	if desc.Value.Sign() > 0 {
		// the timelock pays native deposits from its own balance
		s.Log.Warn().
			Str("strategy", ev.StrategyID).
			Str("wei", desc.Value.String()).
			Msg("proposal raises a native ETH budget; the action carries no value")
	}
	data, err := carbon.ProposeCalldata(desc.To, new(big.Int), desc.Data, description)
	if err != nil {
		return nil, fail(s, ev, err)
	}

	receipt, err := send(ctx, s, &ev, chain.TxRequest{To: governor, Data: data})
	if err != nil {
		if receipt != nil {
			return &ProposeResult{Receipt: receipt}, err
		}
		return nil, err
	}
	res := &ProposeResult{Receipt: receipt}
	id, ok, err := carbon.ProposalIDFromReceipt(receipt, governor)
	switch {
	case err != nil:
		s.Log.Warn().Err(err).Msg("proposal id unreadable")
	case ok:
		res.ProposalID = id
		ev.ProposalID = id.String()
	}
	record(s, ev)
	return res, nil
}

// TransferStrategy moves the strategy voucher from the signer to the
// network's timelock.
func TransferStrategy(ctx context.Context, s *session.Session, id *big.Int) (*types.Receipt, error) {
	ev := txlog.Event{Kind: KindTransfer, StrategyID: id.String()}
	timelock := s.Config.Network.Contracts.Timelock
	if timelock == (common.Address{}) {
		return nil, fail(s, ev, ErrNoTimelock)
	}
	signer, err := s.Signer()
	if err != nil {
		return nil, fail(s, ev, err)
	}
	owner, err := s.Reader.VoucherOwner(ctx, id)
	if err != nil {
		return nil, fail(s, ev, err)
	}
	if owner != signer.Address() {
		return nil, fail(s, ev, fmt.Errorf("%w: voucher held by %s, signer is %s", ErrNotOwner, owner.Hex(), signer.Address().Hex()))
	}
	data, err := carbon.TransferFromCalldata(signer.Address(), timelock, id)
	if err != nil {
		return nil, fail(s, ev, err)
	}
	receipt, err := broadcast(ctx, s, signer, &ev, chain.TxRequest{
		To:       s.Config.Network.Contracts.Voucher,
		Data:     data,
		GasLimit: carbon.TransferGasLimit,
	})
	if err != nil {
		return receipt, err
	}
	record(s, ev)
	return receipt, nil
}

func requestFields(p UpdateParams) map[string]string {
	fields := p.Request.Fields()
	if v := p.BuyMarginal.String(); v != "" {
		fields[carbon.OptBuyPriceMarginal] = v
	}
	if v := p.SellMarginal.String(); v != "" {
		fields[carbon.OptSellPriceMarginal] = v
	}
	return fields
}

func send(ctx context.Context, s *session.Session, ev *txlog.Event, req chain.TxRequest) (*types.Receipt, error) {
	signer, err := s.Signer()
	if err != nil {
		return nil, fail(s, *ev, err)
	}
	return broadcast(ctx, s, signer, ev, req)
}

// broadcast signs and sends req exactly once and waits for its receipt.
// Failures are journaled here; the caller records success.
func broadcast(ctx context.Context, s *session.Session, signer *chain.Signer, ev *txlog.Event, req chain.TxRequest) (*types.Receipt, error) {
	ev.From = signer.Address().Hex()
	ev.To = req.To.Hex()
	if req.Value != nil && req.Value.Sign() > 0 {
		ev.Value = req.Value.String()
	}

	tx, err := signer.Send(ctx, req)
	if err != nil {
		return nil, fail(s, *ev, err)
	}
	metrics.TxSentTotal.WithLabelValues(ev.Kind).Inc()
	ev.TxHash = tx.Hash().Hex()
	s.Log.Info().
		Str("kind", ev.Kind).
		Str("strategy", ev.StrategyID).
		Str("from", ethutil.ShortHex(signer.Address())).
		Str("tx", ev.TxHash).
		Msg("transaction sent")

	receipt, err := chain.WaitReceipt(ctx, s.Backend, tx, s.Config.ConfirmTimeout)
	if receipt != nil {
		ev.GasUsed = receipt.GasUsed
		if receipt.BlockNumber != nil {
			ev.Block = receipt.BlockNumber.Uint64()
		}
	}
	if err != nil {
		if errors.Is(err, chain.ErrReverted) {
			ev.Status = txlog.StatusReverted
		}
		return receipt, fail(s, *ev, err)
	}
	ev.Status = txlog.StatusMined
	return receipt, nil
}

func fail(s *session.Session, ev txlog.Event, err error) error {
	if ev.Status == "" {
		ev.Status = txlog.StatusFailed
	}
	ev.Error = err.Error()
	metrics.TxFailedTotal.WithLabelValues(ev.Kind).Inc()
	record(s, ev)
	return fmt.Errorf("%s strategy %s: %w", ev.Kind, ev.StrategyID, err)
}

func record(s *session.Session, ev txlog.Event) {
	ev.Network = s.Config.Network.Name
	if err := s.Journal.Record(ev); err != nil {
		s.Log.Warn().Err(err).Msg("journal write failed")
	}
}
