package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instantClock fires After immediately; polling pace is not under test.
type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}
func (instantClock) Now() time.Time { return time.Now() }

type fakeSource struct {
	head       uint64
	events     map[uint64][]RawEvent
	timestamps map[uint64]uint64
	failOnce   map[uint64]bool
}

func (s *fakeSource) HeadBlockNumber(context.Context) (uint64, error) {
	return s.head, nil
}

func (s *fakeSource) BlockEvents(_ context.Context, blockNumber uint64) ([]RawEvent, uint64, error) {
	if s.failOnce[blockNumber] {
		s.failOnce[blockNumber] = false
		return nil, 0, errors.New("transport error")
	}
	return s.events[blockNumber], s.timestamps[blockNumber], nil
}

func TestAdapterYieldsGaplessSequence(t *testing.T) {
	src := &fakeSource{
		head:       12,
		events:     map[uint64][]RawEvent{10: {{Kind: KindAccountCreated, AccountId: 1}}, 11: nil, 12: {{Kind: KindExchangeHalted}}},
		timestamps: map[uint64]uint64{10: 100, 11: 110, 12: 120},
	}
	a := NewAdapter(src, instantClock{}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := a.Stream(ctx, Instant{BlockNumber: 10})

	var got []uint64
	for i := 0; i < 3; i++ {
		r := <-ch
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
		got = append(got, r.Batch.Instant.BlockNumber)
	}
	for i, want := range []uint64{10, 11, 12} {
		if got[i] != want {
			t.Fatalf("block[%d] = %d, want %d", i, got[i], want)
		}
	}
}

func TestAdapterWaitsForHeadBlock(t *testing.T) {
	src := &fakeSource{head: 5}
	a := NewAdapter(src, instantClock{}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := a.Stream(ctx, Instant{BlockNumber: 6})

	select {
	case r := <-ch:
		t.Fatalf("expected no batch while head < cursor, got %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAdapterRetriesTransientErrorWithoutAdvancingCursor(t *testing.T) {
	src := &fakeSource{
		head:       10,
		events:     map[uint64][]RawEvent{10: {{Kind: KindExchangeHalted}}},
		timestamps: map[uint64]uint64{10: 1},
		failOnce:   map[uint64]bool{10: true},
	}
	a := NewAdapter(src, instantClock{}, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := a.Stream(ctx, Instant{BlockNumber: 10})

	first := <-ch
	if first.Err == nil {
		t.Fatalf("expected transient error on first attempt")
	}
	second := <-ch
	if second.Err != nil {
		t.Fatalf("expected retry to succeed: %v", second.Err)
	}
	if second.Batch.Instant.BlockNumber != 10 {
		t.Fatalf("cursor advanced past the failed block: %d", second.Batch.Instant.BlockNumber)
	}
}
