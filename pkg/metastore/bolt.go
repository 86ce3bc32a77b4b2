package metastore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/types"
)

// ErrReadOnly is returned when writing to a store opened read-only.
var ErrReadOnly = errors.New("metadata store is read-only")

// bucketBlockMeta stores one blockMeta per slot keyed by big-endian slot.
var bucketBlockMeta = []byte("block_meta")

// blockMeta is the persisted value of a slot.
type blockMeta struct {
	// BlockTime is the production time in Unix nanoseconds.
	BlockTime int64

	// BlockHeight is nil when the height was not recorded.
	BlockHeight *uint64
}

// BoltStore implements Store over an embedded bbolt file.
type BoltStore struct {
	db       *bolt.DB
	readOnly bool
	logger   *zap.Logger
}

// OpenBolt opens the bbolt database at config.Path.
func OpenBolt(config Config, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Path == "" {
		return nil, IOError(errors.New("bolt path is empty"))
	}

	if !config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return nil, IOError(fmt.Errorf("create directory: %w", err))
		}
	} else if _, err := os.Stat(config.Path); err != nil {
		return nil, IOError(err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  timeout,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, IOError(fmt.Errorf("open database: %w", err))
	}

	if !config.ReadOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketBlockMeta)
			return err
		})
		if err != nil {
			db.Close()
			return nil, IOError(fmt.Errorf("init buckets: %w", err))
		}
	}

	logger.Info("opened bolt metadata store",
		zap.String("path", config.Path),
		zap.Bool("read_only", config.ReadOnly))

	return &BoltStore{db: db, readOnly: config.ReadOnly, logger: logger}, nil
}

// PutBlockMeta records the time and optional height of slot.
func (s *BoltStore) PutBlockMeta(slot types.Slot, blockTime time.Time, height *uint64) error {
	if s.readOnly {
		return ErrReadOnly
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blockMeta{BlockTime: blockTime.UnixNano(), BlockHeight: height}); err != nil {
		return fmt.Errorf("encode block meta: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlockMeta).Put(encodeSlotKey(slot), buf.Bytes())
	})
}

// FirstAvailableBlock returns the lowest stored slot.
func (s *BoltStore) FirstAvailableBlock(ctx context.Context) (*types.Slot, error) {
	return s.boundary(func(c *bolt.Cursor) ([]byte, []byte) { return c.First() })
}

// LatestSlot returns the highest stored slot.
func (s *BoltStore) LatestSlot(ctx context.Context) (*types.Slot, error) {
	return s.boundary(func(c *bolt.Cursor) ([]byte, []byte) { return c.Last() })
}

func (s *BoltStore) boundary(seek func(*bolt.Cursor) ([]byte, []byte)) (*types.Slot, error) {
	var slot *types.Slot
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlockMeta)
		if b == nil {
			return nil
		}
		if k, _ := seek(b.Cursor()); k != nil {
			v := decodeSlotKey(k)
			slot = &v
		}
		return nil
	})
	if err != nil {
		return nil, BackendError(err)
	}
	return slot, nil
}

// ConfirmedBlocks returns at most limit ascending slots >= start.
func (s *BoltStore) ConfirmedBlocks(ctx context.Context, start types.Slot, limit int) ([]types.Slot, error) {
	slots := []types.Slot{}
	if limit <= 0 {
		return slots, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlockMeta)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(encodeSlotKey(start)); k != nil && len(slots) < limit; k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			slots = append(slots, decodeSlotKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return slots, nil
}

// BlockTime returns the UTC production time of slot.
func (s *BoltStore) BlockTime(ctx context.Context, slot types.Slot) (time.Time, error) {
	meta, err := s.get(slot)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, meta.BlockTime).UTC(), nil
}

// BlockHeight returns the height recorded for the latest slot.
func (s *BoltStore) BlockHeight(ctx context.Context) (uint64, error) {
	latest, err := s.LatestSlot(ctx)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, BlockNotFound(0)
	}

	meta, err := s.get(*latest)
	if err != nil {
		return 0, err
	}
	if meta.BlockHeight == nil {
		return 0, BlockNotFound(*latest)
	}
	return *meta.BlockHeight, nil
}

func (s *BoltStore) get(slot types.Slot) (*blockMeta, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlockMeta)
		if b == nil {
			return nil
		}
		if v := b.Get(encodeSlotKey(slot)); v != nil {
			// Values are only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, BackendError(err)
	}
	if data == nil {
		return nil, BlockNotFound(slot)
	}

	var meta blockMeta
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return nil, BackendError(fmt.Errorf("decode block meta %d: %w", slot, err))
	}
	return &meta, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func encodeSlotKey(slot types.Slot) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

func decodeSlotKey(key []byte) types.Slot {
	return binary.BigEndian.Uint64(key)
}
