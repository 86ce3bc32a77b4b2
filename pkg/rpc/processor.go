package rpc

import (
	"context"
	"errors"
	"runtime"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/types"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
)

const (
	// MaxGetConfirmedBlocksRange bounds getBlocks ranges and getBlocksWithLimit limits.
	MaxGetConfirmedBlocksRange = 500_000

	// MaxRequestBodySize is the default request body limit in bytes.
	MaxRequestBodySize = 50 * 1024
)

// genesisCreationTime is the block time reported for slot 0.
const genesisCreationTime types.UnixTimestamp = 0

// Config holds the service configuration shared by the request processor and
// the service host. It is immutable once the service starts.
type Config struct {
	// Storage holds metadata store connection parameters.
	// Nil runs the service without storage.
	Storage *metastore.Config

	// Threads is the worker pool size. Values below 1 mean 1.
	Threads int

	// NicenessAdj is added to the nice value of every worker thread.
	NicenessAdj int

	// FullAPI enables the full method set.
	FullAPI bool

	// ObsoleteV17API enables methods removed after the v1.7 API.
	// No such method exists in this service; the flag is accepted for
	// command line compatibility.
	ObsoleteV17API bool

	// MaxRequestBodySize limits request bodies in bytes.
	// Zero means MaxRequestBodySize.
	MaxRequestBodySize int64
}

// DefaultConfig returns a configuration with the full API enabled and one
// worker per CPU.
func DefaultConfig() Config {
	return Config{
		Threads:            runtime.NumCPU(),
		FullAPI:            true,
		MaxRequestBodySize: MaxRequestBodySize,
	}
}

// BodyLimit returns the effective request body limit.
func (c Config) BodyLimit() int64 {
	if c.MaxRequestBodySize <= 0 {
		return MaxRequestBodySize
	}
	return c.MaxRequestBodySize
}

// Processor applies parameter validation and commitment policy and delegates
// to the metadata store. A nil store means storage is not configured; every
// method then returns its documented default.
type Processor struct {
	config Config
	store  metastore.Store
	logger *zap.Logger
}

// NewProcessor creates a request processor. store may be nil.
func NewProcessor(config Config, store metastore.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		config: config,
		store:  store,
		logger: logger,
	}
}

// Config returns the processor configuration.
func (p *Processor) Config() Config {
	return p.config
}

// HasStorage reports whether a metadata store is configured.
func (p *Processor) HasStorage() bool {
	return p.store != nil
}

func checkIsAtLeastConfirmed(c types.Commitment) *RPCError {
	if !c.IsAtLeastConfirmed() {
		return InvalidParamsError("Method does not support commitment below `confirmed`")
	}
	return nil
}

// GetBlocks returns the stored slots in [start, end]. A nil end is read as
// start plus the maximum range.
func (p *Processor) GetBlocks(ctx context.Context, start types.Slot, end *types.Slot, cfg *ContextConfig) ([]types.Slot, *RPCError) {
	if rpcErr := checkIsAtLeastConfirmed(cfg.CommitmentOrDefault()); rpcErr != nil {
		return nil, rpcErr
	}

	var endSlot types.Slot
	if end != nil {
		endSlot = *end
	} else {
		endSlot = start + MaxGetConfirmedBlocksRange
		if endSlot < start {
			endSlot = ^types.Slot(0)
		}
	}

	if endSlot < start {
		return []types.Slot{}, nil
	}
	if endSlot-start > MaxGetConfirmedBlocksRange {
		return nil, InvalidParamsErrorf("Slot range too large; max %d", MaxGetConfirmedBlocksRange)
	}

	if p.store == nil {
		return []types.Slot{}, nil
	}

	// One extra row so the inclusive upper bound is covered.
	limit := int(endSlot-start) + 1
	slots, err := p.store.ConfirmedBlocks(ctx, start, limit)
	if err != nil {
		p.logger.Warn("confirmed blocks query failed",
			zap.Uint64("start", start),
			zap.Uint64("end", endSlot),
			zap.Error(err))
		return nil, InvalidParamsError("MySQL query failed (maybe timeout due to too large range?)")
	}

	filtered := slots[:0]
	for _, slot := range slots {
		if slot <= endSlot {
			filtered = append(filtered, slot)
		}
	}
	if filtered == nil {
		filtered = []types.Slot{}
	}
	return filtered, nil
}

// GetBlocksWithLimit returns up to limit stored slots >= start. Backend
// failures yield an empty list rather than an error.
func (p *Processor) GetBlocksWithLimit(ctx context.Context, start types.Slot, limit uint64, cfg *CommitmentConfig) ([]types.Slot, *RPCError) {
	if rpcErr := checkIsAtLeastConfirmed(cfg.CommitmentOrDefault()); rpcErr != nil {
		return nil, rpcErr
	}
	if limit > MaxGetConfirmedBlocksRange {
		return nil, InvalidParamsErrorf("Limit too large; max %d", MaxGetConfirmedBlocksRange)
	}

	if p.store == nil {
		return []types.Slot{}, nil
	}

	slots, err := p.store.ConfirmedBlocks(ctx, start, int(limit))
	if err != nil {
		p.logger.Warn("confirmed blocks query failed, returning empty list",
			zap.Uint64("start", start),
			zap.Uint64("limit", limit),
			zap.Error(err))
		return []types.Slot{}, nil
	}
	return slots, nil
}

// GetBlockTime returns the Unix time of slot, or nil when storage is absent.
func (p *Processor) GetBlockTime(ctx context.Context, slot types.Slot) (*types.UnixTimestamp, *RPCError) {
	if slot == 0 {
		ts := genesisCreationTime
		return &ts, nil
	}
	if p.store == nil {
		return nil, nil
	}

	bt, err := p.store.BlockTime(ctx, slot)
	if err != nil {
		return nil, p.storageError("block time", err)
	}
	ts := bt.Unix()
	return &ts, nil
}

// GetBlockHeight returns the height of the latest stored block, or 0 when
// storage is absent. The request's minContextSlot is not enforced.
func (p *Processor) GetBlockHeight(ctx context.Context) (uint64, *RPCError) {
	if p.store == nil {
		return 0, nil
	}

	height, err := p.store.BlockHeight(ctx)
	if err != nil {
		return 0, p.storageError("block height", err)
	}
	return height, nil
}

// GetFirstAvailableBlock returns the lowest stored slot. It never fails.
func (p *Processor) GetFirstAvailableBlock(ctx context.Context) types.Slot {
	if p.store == nil {
		return 0
	}

	slot, err := p.store.FirstAvailableBlock(ctx)
	if err != nil {
		p.logger.Debug("first available block query failed", zap.Error(err))
		return 0
	}
	if slot == nil {
		return 0
	}
	return *slot
}

// GetSlot returns the highest stored slot. It never fails: storage absence
// or failure yields slot 0.
func (p *Processor) GetSlot(ctx context.Context) types.Slot {
	if p.store == nil {
		return 0
	}

	slot, err := p.store.LatestSlot(ctx)
	if err != nil {
		p.logger.Debug("latest slot query failed", zap.Error(err))
		return 0
	}
	if slot == nil {
		return 0
	}
	return *slot
}

// storageError maps a store failure of a time or height lookup.
func (p *Processor) storageError(op string, err error) *RPCError {
	if slot, ok := metastore.BlockNotFoundSlot(err); ok {
		p.logger.Debug("slot missing in long-term storage",
			zap.String("op", op),
			zap.Uint64("slot", slot))
		return SlotSkippedError(slot)
	}

	p.logger.Warn("metadata store query failed", zap.String("op", op), zap.Error(err))
	if errors.Is(err, metastore.ErrTaskJoin) {
		return InternalServerErrorf("%s lookup did not complete", op)
	}
	return BackendError(err.Error())
}
