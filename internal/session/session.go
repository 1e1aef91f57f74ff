// Package session wires the chain client, reader, cache, syncer and toolkit
// for one process.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"carbon-gocli/internal/cache"
	"carbon-gocli/internal/carbon"
	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/chainsync"
	"carbon-gocli/internal/config"
	"carbon-gocli/internal/txlog"
)

type Options struct {
	// WaitSync starts the syncer and blocks until the cache is ready or
	// Sync.Timeout elapses. Ignored when Sync.Enabled is false.
	WaitSync bool
	// Getenv resolves PRIVATE_KEY; nil means os.Getenv.
	Getenv func(string) string
}

type Session struct {
	Config   config.Config
	Backend  chain.Backend
	ChainID  *big.Int
	Reader   *carbon.Reader
	Decimals *chain.Decimals
	Cache    *cache.ChainCache
	Toolkit  *carbon.Toolkit
	Journal  *txlog.Journal
	Log      zerolog.Logger

	getenv   func(string) string
	store    *cache.Store
	syncer   *chainsync.Syncer
	cancel   context.CancelFunc
	done     chan struct{}
	closeOne sync.Once
}

// Open dials the configured RPC endpoint and builds a session on it.
func Open(ctx context.Context, cfg config.Config, opts Options, log zerolog.Logger) (*Session, error) {
	client, chainID, err := chain.Dial(ctx, cfg.Network.RPCURL)
	if err != nil {
		return nil, err
	}
	if cfg.Network.ChainID != 0 && chainID.Int64() != cfg.Network.ChainID {
		log.Warn().Int64("expected", cfg.Network.ChainID).Str("got", chainID.String()).Msg("rpc chain id differs from network")
	}
	return New(ctx, cfg, client, chainID, opts, log)
}

// New builds a session on an existing backend. The session owns backend and
// closes it in Close.
func New(ctx context.Context, cfg config.Config, backend chain.Backend, chainID *big.Int, opts Options, log zerolog.Logger) (*Session, error) {
	c := cfg.Network.Contracts
	reader := carbon.NewReader(backend, c.Controller, c.Voucher, c.Multicall)
	decimals := chain.NewDecimals(backend)

	s := &Session{
		Config:   cfg,
		Backend:  backend,
		ChainID:  chainID,
		Reader:   reader,
		Decimals: decimals,
		Cache:    cache.New(),
		Toolkit:  carbon.NewToolkit(reader, decimals),
		Journal:  txlog.Open(cfg.Journal),
		Log:      log,
		getenv:   opts.Getenv,
	}
	if s.getenv == nil {
		s.getenv = os.Getenv
	}
	s.Cache.SetMissHandler(func(ctx context.Context, token0, token1 common.Address) ([]carbon.EncodedStrategy, error) {
		s.Log.Debug().Str("token0", token0.Hex()).Str("token1", token1.Hex()).Msg("cache miss, fetching strategies")
		return reader.StrategiesByPair(ctx, token0, token1)
	})
	s.Cache.OnPairAdded(func(p cache.Pair) {
		s.Log.Info().Str("token0", p.Token0.Hex()).Str("token1", p.Token1.Hex()).Msg("pair added to cache")
	})
	s.Cache.OnPairDataChanged(func(p cache.Pair) {
		s.Log.Info().Str("token0", p.Token0.Hex()).Str("token1", p.Token1.Hex()).Msg("pair data changed")
	})

	if cfg.CachePath != "" {
		store, err := cache.OpenStore(cfg.CachePath)
		if err != nil {
			s.Log.Warn().Err(err).Msg("cache store unavailable, starting cold")
		} else {
			s.store = store
			snap, ok, err := store.Load(chainID.Int64())
			switch {
			case err != nil:
				s.Log.Warn().Err(err).Msg("cache snapshot unreadable, starting cold")
			case ok:
				s.Cache.Restore(snap)
				s.Log.Debug().Int("pairs", len(snap.Pairs)).Uint64("block", snap.LatestBlock).Msg("cache snapshot loaded")
			}
		}
	}

	if opts.WaitSync && cfg.Sync.Enabled {
		if err := s.startSync(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) startSync(ctx context.Context) error {
	sc := s.Config.Sync
	s.syncer = chainsync.New(s.Backend, s.Reader, s.Cache, chainsync.Options{
		PollInterval: sc.PollInterval,
		BatchSize:    sc.BatchSize,
		Concurrency:  sc.Concurrency,
		RPS:          sc.RPS,
	}, s.Log)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.syncer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.Log.Warn().Err(err).Msg("syncer stopped")
		}
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, sc.Timeout)
	defer waitCancel()
	if err := s.Cache.WaitReady(waitCtx); err != nil {
		if last := s.syncer.LastError(); last != nil {
			return fmt.Errorf("%w (last sync error: %v)", err, last)
		}
		return err
	}
	return nil
}

// Signer loads the signing key from the environment at call time.
func (s *Session) Signer() (*chain.Signer, error) {
	return chain.SignerFromEnv(s.Backend, s.ChainID, s.getenv)
}

// Close stops the syncer, persists the cache snapshot and releases the
// backend. It is safe to call more than once.
func (s *Session) Close() error {
	var firstErr error
	s.closeOne.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		if s.store != nil {
			if s.Cache.IsReady() {
				if err := s.store.Save(s.Cache.Snapshot(s.ChainID.Int64())); err != nil {
					s.Log.Warn().Err(err).Msg("save cache snapshot")
					firstErr = err
				}
			}
			if err := s.store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := s.Journal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Backend.Close()
	})
	return firstErr
}
