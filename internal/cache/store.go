package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"carbon-gocli/internal/carbon"
)

var (
	metaBucket  = []byte("meta")
	pairsBucket = []byte("pairs")
	metaKey     = []byte("state")
)

// Snapshot is the persisted form of a ChainCache.
type Snapshot struct {
	ChainID       int64
	LatestBlock   uint64
	TradingFeePPM uint32
	Pairs         []PairSnapshot
}

type PairSnapshot struct {
	Pair       Pair                     `json:"pair"`
	Loaded     bool                     `json:"loaded"`
	Strategies []carbon.EncodedStrategy `json:"strategies"`
}

type metaRecord struct {
	ChainID       int64  `json:"chainId"`
	LatestBlock   uint64 `json:"latestBlock"`
	TradingFeePPM uint32 `json:"tradingFeePPM"`
}

// Snapshot copies the cache contents.
func (c *ChainCache) Snapshot(chainID int64) Snapshot {
	c.mu.RLock()
	snap := Snapshot{ChainID: chainID, LatestBlock: c.latestBlock, TradingFeePPM: c.tradingFeePPM}
	for _, e := range c.pairs {
		snap.Pairs = append(snap.Pairs, PairSnapshot{
			Pair:       e.pair,
			Loaded:     e.loaded,
			Strategies: sortedStrategies(e.strategies),
		})
	}
	c.mu.RUnlock()
	return snap
}

// Restore loads a snapshot into an empty cache. Listeners are not invoked.
func (c *ChainCache) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestBlock = snap.LatestBlock
	c.tradingFeePPM = snap.TradingFeePPM
	for _, ps := range snap.Pairs {
		e := &pairEntry{pair: ps.Pair, loaded: ps.Loaded, strategies: toMap(ps.Strategies)}
		key := ps.Pair.Key()
		c.pairs[key] = e
		for id := range e.strategies {
			c.byID[id] = key
		}
	}
}

// Store persists cache snapshots in a bbolt file.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache store %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save replaces the stored snapshot.
func (s *Store) Save(snap Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, pairsBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		meta, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(metaRecord{ChainID: snap.ChainID, LatestBlock: snap.LatestBlock, TradingFeePPM: snap.TradingFeePPM})
		if err != nil {
			return err
		}
		if err := meta.Put(metaKey, raw); err != nil {
			return err
		}
		pairs, err := tx.CreateBucket(pairsBucket)
		if err != nil {
			return err
		}
		for _, ps := range snap.Pairs {
			raw, err := json.Marshal(ps)
			if err != nil {
				return err
			}
			if err := pairs.Put([]byte(ps.Pair.Key().String()), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns the stored snapshot; ok is false when the store is empty or
// belongs to another chain.
func (s *Store) Load(chainID int64) (snap Snapshot, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return nil
		}
		raw := meta.Get(metaKey)
		if raw == nil {
			return nil
		}
		var m metaRecord
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode cache meta: %w", err)
		}
		if m.ChainID != chainID {
			return nil
		}
		snap = Snapshot{ChainID: m.ChainID, LatestBlock: m.LatestBlock, TradingFeePPM: m.TradingFeePPM}
		pairs := tx.Bucket(pairsBucket)
		if pairs != nil {
			err := pairs.ForEach(func(k, v []byte) error {
				var ps PairSnapshot
				if err := json.Unmarshal(v, &ps); err != nil {
					return fmt.Errorf("decode pair %s: %w", k, err)
				}
				snap.Pairs = append(snap.Pairs, ps)
				return nil
			})
			if err != nil {
				return err
			}
		}
		ok = true
		return nil
	})
	return snap, ok, err
}
