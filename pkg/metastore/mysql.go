package metastore

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/types"
	"github.com/fortiblox/block-meta-rpc/pkg/sqlclient"
)

// Column names of the relational schema.
const (
	columnID          = "id"
	columnBlockTime   = "block_time"
	columnBlockHeight = "block_height"
)

// RowReader is the subset of *sqlclient.Client used by MySQLStore.
type RowReader interface {
	FirstKey(ctx context.Context, table, column string) (uint64, bool, error)
	LastKey(ctx context.Context, table, column string) (uint64, bool, error)
	RowKeys(ctx context.Context, table, column string, start uint64, end *uint64, limit int) ([]uint64, error)
	SingleValue(ctx context.Context, table, keyColumn string, key uint64, column string, dest interface{}) error
	Close() error
}

// MySQLStore implements Store over a relational schema.
type MySQLStore struct {
	rows        RowReader
	blockTable  string
	heightTable string
	logger      *zap.Logger
}

// NewMySQLStore wraps rows with slot-domain queries.
func NewMySQLStore(rows RowReader, config Config, logger *zap.Logger) *MySQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	blockTable := config.BlockTable
	if blockTable == "" {
		blockTable = DefaultBlockTable
	}
	heightTable := config.HeightTable
	if heightTable == "" {
		heightTable = DefaultHeightTable
	}
	return &MySQLStore{
		rows:        rows,
		blockTable:  blockTable,
		heightTable: heightTable,
		logger:      logger,
	}
}

// FirstAvailableBlock returns the lowest slot in the block table.
func (s *MySQLStore) FirstAvailableBlock(ctx context.Context) (*types.Slot, error) {
	slot, ok, err := s.rows.FirstKey(ctx, s.blockTable, columnID)
	if err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, nil
	}
	return &slot, nil
}

// LatestSlot returns the highest slot in the block table.
func (s *MySQLStore) LatestSlot(ctx context.Context) (*types.Slot, error) {
	slot, ok, err := s.rows.LastKey(ctx, s.blockTable, columnID)
	if err != nil {
		return nil, classify(err)
	}
	if !ok {
		return nil, nil
	}
	return &slot, nil
}

// ConfirmedBlocks returns at most limit ascending slots >= start.
func (s *MySQLStore) ConfirmedBlocks(ctx context.Context, start types.Slot, limit int) ([]types.Slot, error) {
	slots, err := s.rows.RowKeys(ctx, s.blockTable, columnID, start, nil, limit)
	if err != nil {
		return nil, classify(err)
	}
	return slots, nil
}

// BlockTime returns the UTC production time of slot.
func (s *MySQLStore) BlockTime(ctx context.Context, slot types.Slot) (time.Time, error) {
	var bt time.Time
	err := s.rows.SingleValue(ctx, s.blockTable, columnID, slot, columnBlockTime, &bt)
	if errors.Is(err, sqlclient.ErrRowNotFound) {
		return time.Time{}, BlockNotFound(slot)
	}
	if err != nil {
		return time.Time{}, classify(err)
	}
	return bt.UTC(), nil
}

// BlockHeight returns the height recorded for the latest id of the height
// table. A missing height row reports that id as not found.
func (s *MySQLStore) BlockHeight(ctx context.Context) (uint64, error) {
	latest, ok, err := s.rows.LastKey(ctx, s.heightTable, columnID)
	if err != nil {
		return 0, classify(err)
	}
	if !ok {
		return 0, BlockNotFound(0)
	}

	var height uint64
	err = s.rows.SingleValue(ctx, s.heightTable, columnID, latest, columnBlockHeight, &height)
	if errors.Is(err, sqlclient.ErrRowNotFound) {
		s.logger.Debug("latest block has no height row", zap.Uint64("slot", latest))
		return 0, BlockNotFound(latest)
	}
	if err != nil {
		return 0, classify(err)
	}
	return height, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error {
	return s.rows.Close()
}

// classify maps a driver failure onto the error taxonomy.
func classify(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return TimeoutError(err)
	}
	return BackendError(err)
}
