// Package chainsync fills the chain cache from the controller and keeps it
// current by polling controller events.
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"carbon-gocli/internal/cache"
	"carbon-gocli/internal/carbon"
	"carbon-gocli/internal/metrics"
)

const (
	maxLogChunk uint64 = 2000
	// a snapshot further behind than this is resynced from scratch
	maxCatchUp uint64 = 50_000
	maxBackoff        = 30 * time.Second
)

// LogSource is the part of the backend the poller needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	RPS          float64
}

type Syncer struct {
	src     LogSource
	reader  *carbon.Reader
	cache   *cache.ChainCache
	opts    Options
	log     zerolog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	lastErr error
}

func New(src LogSource, reader *carbon.Reader, c *cache.ChainCache, opts Options, log zerolog.Logger) *Syncer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &Syncer{
		src:     src,
		reader:  reader,
		cache:   c,
		opts:    opts,
		log:     log.With().Str("component", "chainsync").Logger(),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// LastError returns the most recent sync or poll failure.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Syncer) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		metrics.SyncErrorsTotal.Inc()
	}
}

// InitialSync loads fees, pairs and every pair's strategies, then marks the
// cache ready.
func (s *Syncer) InitialSync(ctx context.Context) error {
	start := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	fee, err := s.reader.TradingFeePPM(ctx)
	if err != nil {
		return err
	}
	s.cache.SetTradingFeePPM(fee)

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	pairs, err := s.reader.Pairs(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		s.cache.AddPair(p.Token0, p.Token1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for lo := 0; lo < len(pairs); lo += s.opts.BatchSize {
		hi := lo + s.opts.BatchSize
		if hi > len(pairs) {
			hi = len(pairs)
		}
		batch := pairs[lo:hi]
		g.Go(func() error { return s.syncBatch(gctx, batch) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.cache.SetLatestBlock(head)
	s.cache.MarkReady()
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	s.updateGauges()
	np, ns := s.cache.Counts()
	s.log.Info().Int("pairs", np).Int("strategies", ns).Uint64("block", head).Dur("took", time.Since(start)).Msg("initial sync done")
	return nil
}

func (s *Syncer) syncBatch(ctx context.Context, batch []carbon.Pair) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	fees, err := s.reader.PairTradingFeesPPM(ctx, batch)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	strategies, err := s.reader.StrategiesByPairs(ctx, batch)
	if err != nil {
		return err
	}
	for i, p := range batch {
		s.cache.SetPairFeePPM(p.Token0, p.Token1, fees[i])
		s.cache.SetStrategies(p.Token0, p.Token1, strategies[i])
	}
	return nil
}

// Run performs the initial sync unless the cache was restored recently
// enough to catch up from logs, then polls until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	delay := time.Second
	for !s.cache.IsReady() {
		err := s.warmStart(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setErr(err)
		wait := jitterDuration(delay)
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("initial sync failed")
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
		delay = nextDelay(delay)
	}
	s.setErr(nil)

	interval := s.opts.PollInterval
	if interval <= 0 {
		interval = 12 * time.Second
	}
	delay = interval
	for {
		wait := interval
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.setErr(err)
			wait = jitterDuration(delay)
			delay = nextDelay(delay)
			s.log.Warn().Err(err).Dur("retry_in", wait).Msg("poll failed")
		} else {
			delay = interval
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Syncer) warmStart(ctx context.Context) error {
	from := s.cache.LatestBlock()
	np, _ := s.cache.Counts()
	if from == 0 || np == 0 {
		return s.InitialSync(ctx)
	}
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	if head > from && head-from > maxCatchUp {
		s.log.Info().Uint64("snapshot_block", from).Uint64("head", head).Msg("snapshot too old, resyncing")
		return s.InitialSync(ctx)
	}
	if err := s.Poll(ctx); err != nil {
		return err
	}
	s.cache.MarkReady()
	s.log.Info().Uint64("block", s.cache.LatestBlock()).Msg("cache restored from snapshot")
	return nil
}

// Poll applies controller events between the cache's latest block and head.
func (s *Syncer) Poll(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	head, err := s.src.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}
	from := s.cache.LatestBlock() + 1
	if head < from {
		return nil
	}
	logs, err := s.fetchLogs(ctx, from, head)
	if err != nil {
		return err
	}
	for _, vLog := range logs {
		s.apply(vLog)
	}
	s.cache.SetLatestBlock(head)
	s.updateGauges()
	return nil
}

func (s *Syncer) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	controller := s.reader.Controller()
	base := ethereum.FilterQuery{
		Addresses: []common.Address{controller},
		Topics:    [][]common.Hash{carbon.EventTopics()},
	}

	chunk := to - from + 1
	if chunk > maxLogChunk {
		chunk = maxLogChunk
	}
	var out []types.Log
	for start := from; start <= to; {
		end := start + chunk - 1
		if end > to {
			end = to
		}
		q := base
		q.FromBlock = new(big.Int).SetUint64(start)
		q.ToBlock = new(big.Int).SetUint64(end)

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		logs, err := s.src.FilterLogs(ctx, q)
		if err != nil {
			if limit, ok := parseGetLogsRangeLimit(err); ok && limit > 0 && limit < chunk {
				chunk = limit
				s.log.Warn().Uint64("chunk", chunk).Msg("eth_getLogs range limit detected")
				continue
			}
			if chunk > 1 {
				chunk /= 2
				s.log.Warn().Err(err).Uint64("chunk", chunk).Msg("log query failed, shrinking range")
				continue
			}
			return nil, fmt.Errorf("filter logs %d-%d: %w", start, end, err)
		}
		out = append(out, logs...)
		start = end + 1
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (s *Syncer) apply(vLog types.Log) {
	if vLog.Removed {
		s.log.Warn().Uint64("block", vLog.BlockNumber).Uint("index", vLog.Index).Msg("skipping removed log")
		return
	}
	ev, err := carbon.DecodeLog(vLog)
	if err != nil {
		if !errors.Is(err, carbon.ErrUnknownEvent) {
			s.log.Warn().Err(err).Str("tx", vLog.TxHash.Hex()).Msg("decode controller log")
		}
		return
	}
	switch ev.Kind {
	case carbon.EventPairCreated:
		if s.cache.AddPair(ev.Pair.Token0, ev.Pair.Token1) {
			s.cache.SetStrategies(ev.Pair.Token0, ev.Pair.Token1, nil)
		}
	case carbon.EventStrategyCreated, carbon.EventStrategyUpdated:
		s.cache.PutStrategy(ev.Strategy)
	case carbon.EventStrategyDeleted:
		s.cache.DeleteStrategy(ev.Strategy.ID)
	case carbon.EventTradingFeePPMUpdated:
		s.cache.SetTradingFeePPM(ev.FeePPM)
	case carbon.EventPairTradingFeePPMUpdated:
		s.cache.SetPairFeePPM(ev.Pair.Token0, ev.Pair.Token1, ev.FeePPM)
	}
	s.log.Debug().Str("event", string(ev.Kind)).Uint64("block", ev.BlockNumber).Msg("applied")
}

func (s *Syncer) updateGauges() {
	metrics.SetCacheSize(s.cache.Counts())
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func jitterDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	j := d / 5 // +/-20%
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(j*2)+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseGetLogsRangeLimit extracts N from provider errors such as
// "query returned more than 10000 results... limited to a 2000 block range".
func parseGetLogsRangeLimit(err error) (uint64, bool) {
	const marker = "limited to a "
	s := err.Error()
	idx := strings.Index(s, marker)
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len(marker):]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return 0, false
	}
	limit, err := strconv.ParseUint(rest[:j], 10, 64)
	if err != nil {
		return 0, false
	}
	return limit, true
}
