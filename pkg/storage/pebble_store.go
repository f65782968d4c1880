package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/perpl-dex/state-replica/pkg/fill"
	"github.com/perpl-dex/state-replica/pkg/state"
)

// CheckpointStore persists the replica's resume point and recent
// correlated trades so a process restart can pick up where it left
// off without replaying the full event history through a fresh
// SnapshotBuilder build.
type CheckpointStore struct {
	db *pebble.DB
}

func NewCheckpointStore(path string) (*CheckpointStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &CheckpointStore{db: db}, nil
}

func (s *CheckpointStore) Close() error { return s.db.Close() }

// SaveCursor records the last Instant whose batch was fully applied.
func (s *CheckpointStore) SaveCursor(instant state.Instant) error {
	val, err := encodeGob(instant)
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	return s.db.Set([]byte(keyCursor), val, pebble.Sync)
}

// LoadCursor returns the last saved Instant, or ok=false if the store
// has never been written to.
func (s *CheckpointStore) LoadCursor() (state.Instant, bool, error) {
	val, closer, err := s.db.Get([]byte(keyCursor))
	if err == pebble.ErrNotFound {
		return state.Instant{}, false, nil
	}
	if err != nil {
		return state.Instant{}, false, fmt.Errorf("get cursor: %w", err)
	}
	defer closer.Close()

	var instant state.Instant
	if err := decodeGob(val, &instant); err != nil {
		return state.Instant{}, false, fmt.Errorf("decode cursor: %w", err)
	}
	return instant, true, nil
}

// SaveTrades persists the trades correlated for one perpetual at one
// block, keyed so LoadRecentTrades can scan them back in order.
func (s *CheckpointStore) SaveTrades(perpetualId state.PerpetualId, blockNumber uint64, trades []fill.TakerTrade) error {
	if len(trades) == 0 {
		return nil
	}
	val, err := encodeGob(trades)
	if err != nil {
		return fmt.Errorf("encode trades: %w", err)
	}
	key := tradesKey(uint32(perpetualId), blockNumber)
	return s.db.Set(key, val, pebble.NoSync)
}

// LoadRecentTrades scans backward from the latest block, returning up
// to limit TakerTrade batches for perpetualId.
func (s *CheckpointStore) LoadRecentTrades(perpetualId state.PerpetualId, limit int) ([][]fill.TakerTrade, error) {
	prefix := tradesPrefix(uint32(perpetualId))
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	defer iter.Close()

	var out [][]fill.TakerTrade
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var batch []fill.TakerTrade
		if err := decodeGob(iter.Value(), &batch); err != nil {
			continue
		}
		out = append(out, batch)
	}
	return out, nil
}
