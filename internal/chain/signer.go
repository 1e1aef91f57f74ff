package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"carbon-gocli/internal/ethutil"
)

// PrivateKeyEnv names the environment variable holding the signing key.
const PrivateKeyEnv = "PRIVATE_KEY"

var (
	ErrMissingKey = errors.New("signing key missing: set " + PrivateKeyEnv)
	ErrReverted   = errors.New("transaction reverted")
)

// TxRequest describes a call to broadcast. A zero GasLimit means estimate.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

type Signer struct {
	backend Backend
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

func NewSigner(backend Backend, chainID *big.Int, key *ecdsa.PrivateKey) (*Signer, error) {
	if backend == nil {
		return nil, fmt.Errorf("signer: nil backend")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("signer: invalid chain id %v", chainID)
	}
	if key == nil {
		return nil, ErrMissingKey
	}
	return &Signer{
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// SignerFromEnv reads PRIVATE_KEY through getenv (os.Getenv when nil) at call
// time. The key is never retained beyond the returned Signer.
func SignerFromEnv(backend Backend, chainID *big.Int, getenv func(string) string) (*Signer, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	raw := strings.TrimSpace(getenv(PrivateKeyEnv))
	if raw == "" {
		return nil, ErrMissingKey
	}
	key, err := ethutil.ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewSigner(backend, chainID, key)
}

func (s *Signer) Address() common.Address { return s.from }

// Send builds, signs and broadcasts req exactly once.
func (s *Signer) Send(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gas := req.GasLimit
	if gas == 0 {
		gas, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}

	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	var unsigned *types.Transaction
	if head.BaseFee != nil {
		tip, err := s.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		unsigned = types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
	} else {
		price, err := s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		unsigned = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     req.Data,
		})
	}

	signed, err := types.SignTx(unsigned, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

// WaitReceipt blocks until tx is mined or timeout elapses. A mined but
// reverted transaction returns its receipt together with ErrReverted.
func WaitReceipt(ctx context.Context, b bind.DeployBackend, tx *types.Transaction, timeout time.Duration) (*types.Receipt, error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, b, tx)
	if err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: tx=%s block=%s", ErrReverted, tx.Hash().Hex(), receipt.BlockNumber)
	}
	return receipt, nil
}
