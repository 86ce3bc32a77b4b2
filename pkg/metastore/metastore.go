// Package metastore answers slot-oriented block metadata queries.
//
// A Store exposes the first and latest known slots, ascending ranges of
// confirmed slots, per-slot block times and the current block height. Two
// backends are provided: MySQLStore over a relational schema and BoltStore
// over an embedded bbolt snapshot of the same data.
package metastore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/types"
	"github.com/fortiblox/block-meta-rpc/pkg/sqlclient"
)

// Store is the block metadata capability shared by all request handlers.
// Implementations must be safe for concurrent use.
type Store interface {
	// FirstAvailableBlock returns the lowest stored slot, or nil when empty.
	FirstAvailableBlock(ctx context.Context) (*types.Slot, error)

	// LatestSlot returns the highest stored slot, or nil when empty.
	LatestSlot(ctx context.Context) (*types.Slot, error)

	// ConfirmedBlocks returns at most limit ascending slots >= start.
	ConfirmedBlocks(ctx context.Context, start types.Slot, limit int) ([]types.Slot, error)

	// BlockTime returns the UTC production time of slot.
	BlockTime(ctx context.Context, slot types.Slot) (time.Time, error)

	// BlockHeight returns the height of the latest known block.
	BlockHeight(ctx context.Context) (uint64, error)

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Config.Backend.
const (
	BackendMySQL = "mysql"
	BackendBolt  = "bolt"
)

// Default table names of the relational schema.
const (
	DefaultBlockTable  = "sol_mainnet_block"
	DefaultHeightTable = "solana_blocks"
)

// Config holds the connection parameters used once to construct a Store.
type Config struct {
	// Backend selects the implementation. Empty means BackendMySQL.
	Backend string

	// MySQL connection parameters.
	Host     string
	Port     uint16
	Username string
	Password string
	DBName   string

	// Timeout bounds connection setup and each query. Zero means no deadline.
	Timeout time.Duration

	// BlockTable holds (id, block_time) rows keyed by slot.
	BlockTable string

	// HeightTable holds (id, block_height) rows keyed by slot.
	HeightTable string

	// Path is the bbolt database file for BackendBolt.
	Path string

	// ReadOnly opens the backend without write access.
	ReadOnly bool
}

// DefaultConfig returns a read-only MySQL configuration for the standard schema.
func DefaultConfig() Config {
	return Config{
		Backend:     BackendMySQL,
		Host:        "127.0.0.1",
		Port:        sqlclient.DefaultPort,
		BlockTable:  DefaultBlockTable,
		HeightTable: DefaultHeightTable,
		ReadOnly:    true,
	}
}

// String renders the config without credentials.
func (c Config) String() string {
	if c.Backend == BackendBolt {
		return fmt.Sprintf("bolt(%s, ro=%t)", c.Path, c.ReadOnly)
	}
	return fmt.Sprintf("mysql(%s@%s:%d/%s, timeout=%s)", c.Username, c.Host, c.Port, c.DBName, c.Timeout)
}

// Open constructs the Store selected by config.Backend.
func Open(ctx context.Context, config Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch config.Backend {
	case "", BackendMySQL:
		client, err := sqlclient.Open(ctx, sqlclient.Config{
			Host:     config.Host,
			Port:     config.Port,
			Username: config.Username,
			Password: config.Password,
			DBName:   config.DBName,
			Timeout:  config.Timeout,
		}, logger.Named("sqlclient"))
		if err != nil {
			return nil, classify(err)
		}
		return NewMySQLStore(client, config, logger), nil

	case BackendBolt:
		return OpenBolt(config, logger)

	default:
		return nil, fmt.Errorf("unknown metadata backend %q", config.Backend)
	}
}
