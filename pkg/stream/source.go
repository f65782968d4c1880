package stream

import (
	"context"
	"time"

	"github.com/perpl-dex/state-replica/pkg/util"
)

// LogSource is the authoritative chain data source an Adapter polls.
// Decoding raw contract logs into RawEvents, and determining the block's
// timestamp, is the source's responsibility — the Adapter only sequences
// and paces the polling (§4.4).
type LogSource interface {
	// HeadBlockNumber returns the chain's current head block number.
	HeadBlockNumber(ctx context.Context) (uint64, error)

	// BlockEvents returns the exchange's decoded events at blockNumber,
	// in (tx_index, log_index) order, plus the block's timestamp. A
	// source that derives the timestamp from logs returns 0 for a block
	// with no logs; chain.Client reads it from the block header.
	BlockEvents(ctx context.Context, blockNumber uint64) (events []RawEvent, blockTimestamp uint64, err error)
}

// Result is one step of an Adapter's poll loop: either a successfully
// decoded batch, or a transient error that left the cursor unchanged.
type Result struct {
	Batch RawBlockEvents
	Err   error
}

// Adapter maintains a block-number cursor and polls a LogSource for the
// batch at that cursor, yielding a gapless, strictly increasing sequence
// of RawBlockEvents (§4.4).
type Adapter struct {
	Source       LogSource
	Clock        util.Clock
	PollInterval time.Duration
}

// NewAdapter builds an Adapter polling source every pollInterval.
func NewAdapter(source LogSource, clock util.Clock, pollInterval time.Duration) *Adapter {
	return &Adapter{Source: source, Clock: clock, PollInterval: pollInterval}
}

// Stream starts polling at from.BlockNumber and sends one Result per
// step on the returned channel until ctx is cancelled, at which point
// the channel is closed. A transient error (transport failure) is sent
// as a Result with Err set and the cursor held; the next step retries
// the same block number. While the head block is behind the cursor, the
// adapter waits a poll interval and checks again without sending
// anything.
func (a *Adapter) Stream(ctx context.Context, from Instant) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		blockNumber := from.BlockNumber

		for {
			if ctx.Err() != nil {
				return
			}

			head, err := a.Source.HeadBlockNumber(ctx)
			if err != nil {
				if !a.emit(ctx, out, Result{Err: err}) {
					return
				}
				if !a.wait(ctx) {
					return
				}
				continue
			}
			if head < blockNumber {
				if !a.wait(ctx) {
					return
				}
				continue
			}

			events, timestamp, err := a.Source.BlockEvents(ctx, blockNumber)
			if err != nil {
				if !a.emit(ctx, out, Result{Err: err}) {
					return
				}
				if !a.wait(ctx) {
					return
				}
				continue
			}

			batch := RawBlockEvents{
				Instant: Instant{BlockNumber: blockNumber, BlockTimestamp: timestamp},
				Events:  events,
			}
			if !a.emit(ctx, out, Result{Batch: batch}) {
				return
			}
			blockNumber++
		}
	}()
	return out
}

func (a *Adapter) emit(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (a *Adapter) wait(ctx context.Context) bool {
	select {
	case <-a.Clock.After(a.PollInterval):
		return true
	case <-ctx.Done():
		return false
	}
}
