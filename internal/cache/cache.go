// Package cache holds the pairs, fees and strategies known to this process.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/carbon"
)

var ErrNotReady = errors.New("cache not ready")

// Pair is a cached pair. Token0/Token1 keep the order the controller reported.
type Pair struct {
	Token0 common.Address `json:"token0" yaml:"token0"`
	Token1 common.Address `json:"token1" yaml:"token1"`
	FeePPM uint32         `json:"feePPM" yaml:"feePPM"`
}

func (p Pair) Key() carbon.PairKey { return carbon.NewPairKey(p.Token0, p.Token1) }

// MissHandler loads the strategies of a pair the cache has not seen yet.
type MissHandler func(ctx context.Context, token0, token1 common.Address) ([]carbon.EncodedStrategy, error)

type pairEntry struct {
	pair       Pair
	loaded     bool
	strategies map[string]carbon.EncodedStrategy
}

// ChainCache is safe for concurrent use. Listeners run on the caller's
// goroutine after the cache lock is released.
type ChainCache struct {
	mu            sync.RWMutex
	pairs         map[carbon.PairKey]*pairEntry
	byID          map[string]carbon.PairKey
	tradingFeePPM uint32
	latestBlock   uint64
	missHandler   MissHandler

	listenersMu  sync.Mutex
	onPairAdded  []func(Pair)
	onPairChange []func(Pair)

	ready     chan struct{}
	readyOnce sync.Once
}

func New() *ChainCache {
	return &ChainCache{
		pairs: make(map[carbon.PairKey]*pairEntry),
		byID:  make(map[string]carbon.PairKey),
		ready: make(chan struct{}),
	}
}

func (c *ChainCache) SetMissHandler(h MissHandler) {
	c.mu.Lock()
	c.missHandler = h
	c.mu.Unlock()
}

func (c *ChainCache) OnPairAdded(fn func(Pair)) {
	c.listenersMu.Lock()
	c.onPairAdded = append(c.onPairAdded, fn)
	c.listenersMu.Unlock()
}

func (c *ChainCache) OnPairDataChanged(fn func(Pair)) {
	c.listenersMu.Lock()
	c.onPairChange = append(c.onPairChange, fn)
	c.listenersMu.Unlock()
}

type notification struct {
	added bool
	pair  Pair
}

func (c *ChainCache) notify(events []notification) {
	if len(events) == 0 {
		return
	}
	c.listenersMu.Lock()
	added := slices.Clone(c.onPairAdded)
	changed := slices.Clone(c.onPairChange)
	c.listenersMu.Unlock()
	for _, ev := range events {
		fns := changed
		if ev.added {
			fns = added
		}
		for _, fn := range fns {
			fn(ev.pair)
		}
	}
}

// Ready is closed once the initial sync completed.
func (c *ChainCache) Ready() <-chan struct{} { return c.ready }

func (c *ChainCache) MarkReady() { c.readyOnce.Do(func() { close(c.ready) }) }

func (c *ChainCache) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the cache is ready or ctx is done.
func (c *ChainCache) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	}
}

// entryLocked returns the entry for the pair, creating it if needed. The
// second result reports creation.
func (c *ChainCache) entryLocked(token0, token1 common.Address) (*pairEntry, bool) {
	key := carbon.NewPairKey(token0, token1)
	if e, ok := c.pairs[key]; ok {
		return e, false
	}
	e := &pairEntry{
		pair:       Pair{Token0: token0, Token1: token1, FeePPM: c.tradingFeePPM},
		strategies: make(map[string]carbon.EncodedStrategy),
	}
	c.pairs[key] = e
	return e, true
}

// AddPair records a pair and reports whether it was new.
func (c *ChainCache) AddPair(token0, token1 common.Address) bool {
	c.mu.Lock()
	e, created := c.entryLocked(token0, token1)
	p := e.pair
	c.mu.Unlock()
	if created {
		c.notify([]notification{{added: true, pair: p}})
	}
	return created
}

func (c *ChainCache) SetTradingFeePPM(fee uint32) {
	c.mu.Lock()
	c.tradingFeePPM = fee
	c.mu.Unlock()
}

func (c *ChainCache) TradingFeePPM() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tradingFeePPM
}

func (c *ChainCache) SetPairFeePPM(token0, token1 common.Address, fee uint32) {
	c.mu.Lock()
	e, created := c.entryLocked(token0, token1)
	changed := e.pair.FeePPM != fee
	e.pair.FeePPM = fee
	p := e.pair
	c.mu.Unlock()

	var events []notification
	if created {
		events = append(events, notification{added: true, pair: p})
	}
	if changed || created {
		events = append(events, notification{pair: p})
	}
	c.notify(events)
}

// SetStrategies replaces the strategies of a pair and marks it loaded.
func (c *ChainCache) SetStrategies(token0, token1 common.Address, strategies []carbon.EncodedStrategy) {
	c.mu.Lock()
	e, created := c.entryLocked(token0, token1)
	for id := range e.strategies {
		delete(c.byID, id)
	}
	e.strategies = make(map[string]carbon.EncodedStrategy, len(strategies))
	for _, s := range strategies {
		id := s.ID.String()
		e.strategies[id] = s
		c.byID[id] = e.pair.Key()
	}
	e.loaded = true
	p := e.pair
	c.mu.Unlock()

	events := []notification{{pair: p}}
	if created {
		events = append([]notification{{added: true, pair: p}}, events...)
	}
	c.notify(events)
}

// PutStrategy inserts or replaces one strategy.
func (c *ChainCache) PutStrategy(s carbon.EncodedStrategy) {
	c.mu.Lock()
	e, created := c.entryLocked(s.Token0, s.Token1)
	id := s.ID.String()
	if prev, ok := e.strategies[id]; ok && s.Owner == (common.Address{}) {
		// StrategyUpdated does not carry the owner
		s.Owner = prev.Owner
	}
	e.strategies[id] = s
	c.byID[id] = e.pair.Key()
	p := e.pair
	c.mu.Unlock()

	events := []notification{{pair: p}}
	if created {
		events = append([]notification{{added: true, pair: p}}, events...)
	}
	c.notify(events)
}

func (c *ChainCache) DeleteStrategy(id *big.Int) {
	key := id.String()
	c.mu.Lock()
	pk, ok := c.byID[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byID, key)
	e := c.pairs[pk]
	delete(e.strategies, key)
	p := e.pair
	c.mu.Unlock()
	c.notify([]notification{{pair: p}})
}

// GetPair looks a pair up in either token order.
func (c *ChainCache) GetPair(token0, token1 common.Address) (Pair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.pairs[carbon.NewPairKey(token0, token1)]
	if !ok {
		return Pair{}, false
	}
	return e.pair, true
}

// Pairs returns every cached pair ordered by canonical key.
func (c *ChainCache) Pairs() []Pair {
	c.mu.RLock()
	out := make([]Pair, 0, len(c.pairs))
	for _, e := range c.pairs {
		out = append(out, e.pair)
	}
	c.mu.RUnlock()
	sortPairs(out)
	return out
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		ki, kj := pairs[i].Key(), pairs[j].Key()
		if c := bytes.Compare(ki.A.Bytes(), kj.A.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(ki.B.Bytes(), kj.B.Bytes()) < 0
	})
}

// StrategiesByPair returns the cached strategies of a pair. When the pair's
// strategies were never loaded the miss handler fetches and caches them.
func (c *ChainCache) StrategiesByPair(ctx context.Context, token0, token1 common.Address) ([]carbon.EncodedStrategy, error) {
	c.mu.RLock()
	e, ok := c.pairs[carbon.NewPairKey(token0, token1)]
	var out []carbon.EncodedStrategy
	loaded := ok && e.loaded
	if loaded {
		out = sortedStrategies(e.strategies)
	}
	handler := c.missHandler
	c.mu.RUnlock()
	if loaded {
		return out, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: no strategies cached for %s", ErrNotReady, carbon.NewPairKey(token0, token1))
	}
	strategies, err := handler(ctx, token0, token1)
	if err != nil {
		return nil, fmt.Errorf("cache miss %s: %w", carbon.NewPairKey(token0, token1), err)
	}
	if ok {
		token0, token1 = e.pair.Token0, e.pair.Token1
	}
	c.SetStrategies(token0, token1, strategies)
	return sortedStrategies(toMap(strategies)), nil
}

func (c *ChainCache) StrategyByID(id *big.Int) (carbon.EncodedStrategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pk, ok := c.byID[id.String()]
	if !ok {
		return carbon.EncodedStrategy{}, false
	}
	s, ok := c.pairs[pk].strategies[id.String()]
	return s, ok
}

func (c *ChainCache) LatestBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestBlock
}

func (c *ChainCache) SetLatestBlock(n uint64) {
	c.mu.Lock()
	if n > c.latestBlock {
		c.latestBlock = n
	}
	c.mu.Unlock()
}

// Counts returns the number of pairs and strategies held.
func (c *ChainCache) Counts() (pairs, strategies int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pairs), len(c.byID)
}

func toMap(strategies []carbon.EncodedStrategy) map[string]carbon.EncodedStrategy {
	m := make(map[string]carbon.EncodedStrategy, len(strategies))
	for _, s := range strategies {
		m[s.ID.String()] = s
	}
	return m
}

func sortedStrategies(m map[string]carbon.EncodedStrategy) []carbon.EncodedStrategy {
	out := make([]carbon.EncodedStrategy, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Cmp(out[j].ID) < 0 })
	return out
}
