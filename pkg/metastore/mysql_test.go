package metastore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
	gorp "gopkg.in/gorp.v2"

	"github.com/fortiblox/block-meta-rpc/internal/sqltest"
	"github.com/fortiblox/block-meta-rpc/pkg/sqlclient"
)

var genesis = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func slotTime(slot uint64) time.Time {
	return genesis.Add(time.Duration(slot) * 400 * time.Millisecond)
}

func newSQLStore(t *testing.T, slots ...uint64) (*MySQLStore, *sql.DB) {
	t.Helper()

	db := sqltest.OpenSchema(t)
	for _, s := range slots {
		sqltest.InsertBlock(t, db, s, slotTime(s))
	}
	client := sqlclient.NewWithDB(db, gorp.SqliteDialect{}, zaptest.NewLogger(t))
	return NewMySQLStore(client, DefaultConfig(), zaptest.NewLogger(t)), db
}

func TestMySQLStoreBoundaries(t *testing.T) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		s, _ := newSQLStore(t)
		first, err := s.FirstAvailableBlock(ctx)
		require.NoError(t, err)
		assert.Nil(t, first)

		latest, err := s.LatestSlot(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Populated", func(t *testing.T) {
		s, _ := newSQLStore(t, 100, 101, 105, 110)
		first, err := s.FirstAvailableBlock(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, uint64(100), *first)

		latest, err := s.LatestSlot(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, uint64(110), *latest)
	})
}

func TestMySQLStoreConfirmedBlocks(t *testing.T) {
	ctx := context.Background()
	s, _ := newSQLStore(t, 100, 101, 105, 110)

	got, err := s.ConfirmedBlocks(ctx, 100, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 101, 105}, got)

	got, err = s.ConfirmedBlocks(ctx, 102, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint64{105, 110}, got)

	got, err = s.ConfirmedBlocks(ctx, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMySQLStoreBlockTime(t *testing.T) {
	ctx := context.Background()
	s, db := newSQLStore(t, 100)

	bt, err := s.BlockTime(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, slotTime(100), bt)
	assert.Equal(t, time.UTC, bt.Location())

	// Sub-second precision survives.
	sqltest.InsertBlock(t, db, 7, genesis.Add(1234*time.Millisecond))
	bt, err = s.BlockTime(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 234*time.Millisecond, time.Duration(bt.Nanosecond()))

	_, err = s.BlockTime(ctx, 101)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	slot, ok := BlockNotFoundSlot(err)
	require.True(t, ok)
	assert.Equal(t, uint64(101), slot)
}

func TestMySQLStoreBlockHeight(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyTable", func(t *testing.T) {
		s, _ := newSQLStore(t)
		_, err := s.BlockHeight(ctx)
		slot, ok := BlockNotFoundSlot(err)
		require.True(t, ok)
		assert.Equal(t, uint64(0), slot)
	})

	t.Run("LatestHeight", func(t *testing.T) {
		s, db := newSQLStore(t)
		sqltest.InsertHeight(t, db, 100, 90)
		sqltest.InsertHeight(t, db, 105, 94)

		h, err := s.BlockHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(94), h)
	})
}

// missingHeightReader reports a latest id whose height row is absent.
type missingHeightReader struct {
	RowReader
	latest uint64
}

func (r missingHeightReader) LastKey(context.Context, string, string) (uint64, bool, error) {
	return r.latest, true, nil
}

func (r missingHeightReader) SingleValue(context.Context, string, string, uint64, string, interface{}) error {
	return sqlclient.ErrRowNotFound
}

func TestMySQLStoreBlockHeightReportsLatestID(t *testing.T) {
	s := NewMySQLStore(missingHeightReader{latest: 4242}, Config{}, nil)

	_, err := s.BlockHeight(context.Background())
	slot, ok := BlockNotFoundSlot(err)
	require.True(t, ok)
	assert.Equal(t, uint64(4242), slot)
}

// failingReader fails every query with err.
type failingReader struct {
	err error
}

func (r failingReader) FirstKey(context.Context, string, string) (uint64, bool, error) {
	return 0, false, r.err
}

func (r failingReader) LastKey(context.Context, string, string) (uint64, bool, error) {
	return 0, false, r.err
}

func (r failingReader) RowKeys(context.Context, string, string, uint64, *uint64, int) ([]uint64, error) {
	return nil, r.err
}

func (r failingReader) SingleValue(context.Context, string, string, uint64, string, interface{}) error {
	return r.err
}

func (r failingReader) Close() error { return nil }

func TestMySQLStoreClassifiesFailures(t *testing.T) {
	ctx := context.Background()

	backend := NewMySQLStore(failingReader{err: errors.New("connection refused")}, Config{}, nil)
	_, err := backend.ConfirmedBlocks(ctx, 0, 10)
	assert.ErrorIs(t, err, ErrBackend)
	_, err = backend.BlockTime(ctx, 5)
	assert.ErrorIs(t, err, ErrBackend)
	assert.NotErrorIs(t, err, ErrBlockNotFound)

	timeout := NewMySQLStore(failingReader{err: context.DeadlineExceeded}, Config{}, nil)
	_, err = timeout.LatestSlot(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMySQLStoreConcurrentReads(t *testing.T) {
	s, db := newSQLStore(t)
	sqltest.InsertBlock(t, db, 3, slotTime(3))
	sqltest.InsertBlock(t, db, 9000, slotTime(9000))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				first, err := s.FirstAvailableBlock(ctx)
				if err != nil {
					return err
				}
				latest, err := s.LatestSlot(ctx)
				if err != nil {
					return err
				}
				if first == nil || *first != 3 || latest == nil || *latest != 9000 {
					return errors.New("boundary mismatch")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
