package rpc

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fortiblox/block-meta-rpc/internal/types"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
)

// mockStore is an in-memory metastore.Store.
type mockStore struct {
	mu     sync.Mutex
	slots  []types.Slot
	times  map[types.Slot]time.Time
	height *uint64

	// err fails every query when set.
	err error

	lastLimit int
	calls     int
}

func newMockStore() *mockStore {
	return &mockStore{times: make(map[types.Slot]time.Time)}
}

// newScenarioStore holds slots 100, 101, 105 and 110 at 1_700_000_000 + slot
// seconds, with latest height 90.
func newScenarioStore() *mockStore {
	m := newMockStore()
	for _, slot := range []types.Slot{100, 101, 105, 110} {
		m.put(slot, time.Unix(1_700_000_000+int64(slot), 0))
	}
	h := uint64(90)
	m.height = &h
	return m
}

func (m *mockStore) put(slot types.Slot, t time.Time) {
	m.slots = append(m.slots, slot)
	sort.Slice(m.slots, func(i, j int) bool { return m.slots[i] < m.slots[j] })
	m.times[slot] = t
}

func (m *mockStore) FirstAvailableBlock(ctx context.Context) (*types.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.slots) == 0 {
		return nil, nil
	}
	s := m.slots[0]
	return &s, nil
}

func (m *mockStore) LatestSlot(ctx context.Context) (*types.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.slots) == 0 {
		return nil, nil
	}
	s := m.slots[len(m.slots)-1]
	return &s, nil
}

func (m *mockStore) ConfirmedBlocks(ctx context.Context, start types.Slot, limit int) ([]types.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	out := []types.Slot{}
	for _, s := range m.slots {
		if len(out) >= limit {
			break
		}
		if s >= start {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockStore) BlockTime(ctx context.Context, slot types.Slot) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return time.Time{}, m.err
	}
	t, ok := m.times[slot]
	if !ok {
		return time.Time{}, metastore.BlockNotFound(slot)
	}
	return t, nil
}

func (m *mockStore) BlockHeight(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	if m.height == nil {
		var latest types.Slot
		if n := len(m.slots); n > 0 {
			latest = m.slots[n-1]
		}
		return 0, metastore.BlockNotFound(latest)
	}
	return *m.height, nil
}

func (m *mockStore) Close() error { return nil }

func newTestProcessor(t *testing.T, store metastore.Store) *Processor {
	t.Helper()
	return NewProcessor(DefaultConfig(), store, zaptest.NewLogger(t))
}

func slotPtr(s types.Slot) *types.Slot { return &s }

func commitment(c types.Commitment) *types.Commitment { return &c }

func TestGetBlocksRange(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())
	ctx := context.Background()

	tests := []struct {
		name  string
		start types.Slot
		end   *types.Slot
		want  []types.Slot
	}{
		{"full range", 100, slotPtr(110), []types.Slot{100, 101, 105, 110}},
		{"inner range", 101, slotPtr(106), []types.Slot{101, 105}},
		{"end excludes later slots", 100, slotPtr(104), []types.Slot{100, 101}},
		{"single slot", 105, slotPtr(105), []types.Slot{105}},
		{"gap only", 102, slotPtr(104), []types.Slot{}},
		{"end before start", 110, slotPtr(100), []types.Slot{}},
		{"absent end", 101, nil, []types.Slot{101, 105, 110}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, rpcErr := p.GetBlocks(ctx, tc.start, tc.end, nil)
			require.Nil(t, rpcErr)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetBlocksEndBeforeStartSkipsStore(t *testing.T) {
	store := newScenarioStore()
	p := newTestProcessor(t, store)

	got, rpcErr := p.GetBlocks(context.Background(), 110, slotPtr(100), nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, []types.Slot{}, got)
	assert.Zero(t, store.calls)
}

func TestGetBlocksQueriesInclusiveLimit(t *testing.T) {
	store := newScenarioStore()
	p := newTestProcessor(t, store)

	_, rpcErr := p.GetBlocks(context.Background(), 100, slotPtr(104), nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, 5, store.lastLimit)

	_, rpcErr = p.GetBlocks(context.Background(), 7, nil, nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, MaxGetConfirmedBlocksRange+1, store.lastLimit)
}

func TestGetBlocksRangeBoundary(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())
	ctx := context.Background()

	_, rpcErr := p.GetBlocks(ctx, 0, slotPtr(MaxGetConfirmedBlocksRange), nil)
	assert.Nil(t, rpcErr)

	_, rpcErr = p.GetBlocks(ctx, 0, slotPtr(MaxGetConfirmedBlocksRange+1), nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
	assert.Equal(t, "Slot range too large; max 500000", rpcErr.Message)
}

func TestGetBlocksAbsentEndSaturates(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())

	got, rpcErr := p.GetBlocks(context.Background(), math.MaxUint64-10, nil, nil)
	require.Nil(t, rpcErr)
	assert.Empty(t, got)
}

func TestGetBlocksCommitment(t *testing.T) {
	store := newScenarioStore()
	p := newTestProcessor(t, store)
	ctx := context.Background()

	cfg := &ContextConfig{Commitment: commitment(types.CommitmentProcessed)}
	_, rpcErr := p.GetBlocks(ctx, 100, slotPtr(110), cfg)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
	assert.Equal(t, "Method does not support commitment below `confirmed`", rpcErr.Message)
	assert.Zero(t, store.calls, "commitment is checked before the store is queried")

	// The commitment check precedes range validation.
	_, rpcErr = p.GetBlocks(ctx, 0, slotPtr(MaxGetConfirmedBlocksRange+1), cfg)
	require.NotNil(t, rpcErr)
	assert.Equal(t, "Method does not support commitment below `confirmed`", rpcErr.Message)

	cfg = &ContextConfig{Commitment: commitment(types.CommitmentConfirmed)}
	got, rpcErr := p.GetBlocks(ctx, 100, slotPtr(110), cfg)
	require.Nil(t, rpcErr)
	assert.Len(t, got, 4)
}

func TestGetBlocksWithoutStorage(t *testing.T) {
	p := newTestProcessor(t, nil)

	got, rpcErr := p.GetBlocks(context.Background(), 0, slotPtr(10), nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, []types.Slot{}, got)
}

func TestGetBlocksStoreFailure(t *testing.T) {
	store := newScenarioStore()
	store.err = metastore.BackendError(errors.New("connection reset"))
	p := newTestProcessor(t, store)

	_, rpcErr := p.GetBlocks(context.Background(), 100, slotPtr(110), nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
	assert.Equal(t, "MySQL query failed (maybe timeout due to too large range?)", rpcErr.Message)
}

func TestGetBlocksWithLimit(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())
	ctx := context.Background()

	tests := []struct {
		name  string
		start types.Slot
		limit uint64
		want  []types.Slot
	}{
		{"first two", 100, 2, []types.Slot{100, 101}},
		{"from gap", 102, 2, []types.Slot{105, 110}},
		{"more than stored", 100, 10, []types.Slot{100, 101, 105, 110}},
		{"zero limit", 100, 0, []types.Slot{}},
		{"past latest", 111, 5, []types.Slot{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, rpcErr := p.GetBlocksWithLimit(ctx, tc.start, tc.limit, nil)
			require.Nil(t, rpcErr)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetBlocksWithLimitBoundary(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())
	ctx := context.Background()

	_, rpcErr := p.GetBlocksWithLimit(ctx, 0, MaxGetConfirmedBlocksRange, nil)
	assert.Nil(t, rpcErr)

	_, rpcErr = p.GetBlocksWithLimit(ctx, 0, MaxGetConfirmedBlocksRange+1, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
	assert.Equal(t, "Limit too large; max 500000", rpcErr.Message)
}

func TestGetBlocksWithLimitCommitment(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())

	_, rpcErr := p.GetBlocksWithLimit(context.Background(), 100, 2,
		&CommitmentConfig{Commitment: types.CommitmentProcessed})
	require.NotNil(t, rpcErr)
	assert.Equal(t, "Method does not support commitment below `confirmed`", rpcErr.Message)
}

// getBlocksWithLimit hides backend failures behind an empty list while
// getBlocks reports them. Both behaviors are relied upon by clients.
func TestGetBlocksWithLimitStoreFailureIsEmpty(t *testing.T) {
	store := newScenarioStore()
	store.err = metastore.BackendError(errors.New("connection reset"))
	p := newTestProcessor(t, store)

	got, rpcErr := p.GetBlocksWithLimit(context.Background(), 100, 2, nil)
	require.Nil(t, rpcErr)
	assert.Equal(t, []types.Slot{}, got)
}

func TestGetBlockTime(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())
	ctx := context.Background()

	ts, rpcErr := p.GetBlockTime(ctx, 105)
	require.Nil(t, rpcErr)
	require.NotNil(t, ts)
	assert.Equal(t, int64(1_700_000_105), *ts)

	ts, rpcErr = p.GetBlockTime(ctx, 0)
	require.Nil(t, rpcErr)
	require.NotNil(t, ts)
	assert.Equal(t, int64(0), *ts)

	_, rpcErr = p.GetBlockTime(ctx, 102)
	require.NotNil(t, rpcErr)
	assert.Equal(t, LongTermStorageSlotSkipped, rpcErr.Code)
	assert.Equal(t, "Slot 102 was skipped, or missing in long-term storage", rpcErr.Message)
}

func TestGetBlockTimeWithoutStorage(t *testing.T) {
	p := newTestProcessor(t, nil)

	ts, rpcErr := p.GetBlockTime(context.Background(), 5)
	assert.Nil(t, rpcErr)
	assert.Nil(t, ts)

	ts, rpcErr = p.GetBlockTime(context.Background(), 0)
	require.Nil(t, rpcErr)
	require.NotNil(t, ts)
	assert.Equal(t, int64(0), *ts)
}

func TestGetBlockTimeErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "backend",
			err:      metastore.BackendError(errors.New("server has gone away")),
			wantCode: BackendStorageFailure,
		},
		{
			name:     "timeout",
			err:      metastore.TimeoutError(context.DeadlineExceeded),
			wantCode: BackendStorageFailure,
		},
		{
			name:     "task join",
			err:      metastore.TaskJoinError(errors.New("worker stopped")),
			wantCode: InternalError,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newScenarioStore()
			store.err = tc.err
			p := newTestProcessor(t, store)

			_, rpcErr := p.GetBlockTime(context.Background(), 100)
			require.NotNil(t, rpcErr)
			assert.Equal(t, tc.wantCode, rpcErr.Code)
			if tc.wantCode == BackendStorageFailure {
				assert.Equal(t, tc.err.Error(), rpcErr.Message)
			}
		})
	}
}

func TestGetBlockHeight(t *testing.T) {
	p := newTestProcessor(t, newScenarioStore())

	h, rpcErr := p.GetBlockHeight(context.Background())
	require.Nil(t, rpcErr)
	assert.Equal(t, uint64(90), h)
}

func TestGetBlockHeightMissing(t *testing.T) {
	store := newScenarioStore()
	store.height = nil
	p := newTestProcessor(t, store)

	_, rpcErr := p.GetBlockHeight(context.Background())
	require.NotNil(t, rpcErr)
	assert.Equal(t, LongTermStorageSlotSkipped, rpcErr.Code)
	assert.Equal(t, "Slot 110 was skipped, or missing in long-term storage", rpcErr.Message)
}

func TestGetBlockHeightWithoutStorage(t *testing.T) {
	p := newTestProcessor(t, nil)

	h, rpcErr := p.GetBlockHeight(context.Background())
	assert.Nil(t, rpcErr)
	assert.Zero(t, h)
}

func TestGetFirstAvailableBlock(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, types.Slot(100), newTestProcessor(t, newScenarioStore()).GetFirstAvailableBlock(ctx))
	assert.Zero(t, newTestProcessor(t, newMockStore()).GetFirstAvailableBlock(ctx))
	assert.Zero(t, newTestProcessor(t, nil).GetFirstAvailableBlock(ctx))

	failing := newScenarioStore()
	failing.err = metastore.BackendError(errors.New("boom"))
	assert.Zero(t, newTestProcessor(t, failing).GetFirstAvailableBlock(ctx))
}

func TestGetSlot(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(t, newScenarioStore())

	assert.Equal(t, types.Slot(110), p.GetSlot(ctx))

	for name, store := range map[string]metastore.Store{
		"no storage": nil,
		"empty":      newMockStore(),
		"failing":    &mockStore{err: metastore.BackendError(errors.New("boom"))},
	} {
		t.Run(name, func(t *testing.T) {
			p := newTestProcessor(t, store)
			assert.Zero(t, p.GetSlot(ctx))
		})
	}
}

func TestBodyLimit(t *testing.T) {
	assert.Equal(t, int64(MaxRequestBodySize), Config{}.BodyLimit())
	assert.Equal(t, int64(10), Config{MaxRequestBodySize: 10}.BodyLimit())
}
