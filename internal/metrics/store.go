package metrics

import (
	"context"
	"time"

	"github.com/fortiblox/block-meta-rpc/internal/types"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
)

// InstrumentStore wraps s so that every call is counted and timed.
func InstrumentStore(s metastore.Store, m *Metrics) metastore.Store {
	return &instrumentedStore{next: s, metrics: m}
}

type instrumentedStore struct {
	next    metastore.Store
	metrics *Metrics
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.RecordQuery(op, err, time.Since(start))
}

func (s *instrumentedStore) FirstAvailableBlock(ctx context.Context) (*types.Slot, error) {
	start := time.Now()
	slot, err := s.next.FirstAvailableBlock(ctx)
	s.observe("first_available_block", start, err)
	return slot, err
}

func (s *instrumentedStore) LatestSlot(ctx context.Context) (*types.Slot, error) {
	start := time.Now()
	slot, err := s.next.LatestSlot(ctx)
	s.observe("latest_slot", start, err)
	return slot, err
}

func (s *instrumentedStore) ConfirmedBlocks(ctx context.Context, startSlot types.Slot, limit int) ([]types.Slot, error) {
	start := time.Now()
	slots, err := s.next.ConfirmedBlocks(ctx, startSlot, limit)
	s.observe("confirmed_blocks", start, err)
	return slots, err
}

func (s *instrumentedStore) BlockTime(ctx context.Context, slot types.Slot) (time.Time, error) {
	start := time.Now()
	bt, err := s.next.BlockTime(ctx, slot)
	s.observe("block_time", start, err)
	return bt, err
}

func (s *instrumentedStore) BlockHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	h, err := s.next.BlockHeight(ctx)
	s.observe("block_height", start, err)
	return h, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
