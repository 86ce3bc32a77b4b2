package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/types"
	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
)

// Version information reported by getVersion.
var (
	// SolanaCore is the version string. Overridden at link time.
	SolanaCore = "1.18.0"

	// FeatureSet is the feature set identifier.
	FeatureSet uint32 = 0
)

// Method names.
const (
	MethodGetHealth              = "getHealth"
	MethodGetSlot                = "getSlot"
	MethodGetBlockHeight         = "getBlockHeight"
	MethodGetVersion             = "getVersion"
	MethodGetBlockTime           = "getBlockTime"
	MethodGetBlocks              = "getBlocks"
	MethodGetBlocksWithLimit     = "getBlocksWithLimit"
	MethodGetFirstAvailableBlock = "getFirstAvailableBlock"
)

// registerMinimal registers the methods that are always available.
func (s *Server) registerMinimal() {
	s.handlers[MethodGetHealth] = s.getHealth
	s.handlers[MethodGetSlot] = s.suspending(s.getSlot)
	s.handlers[MethodGetBlockHeight] = s.suspending(s.getBlockHeight)
	s.handlers[MethodGetVersion] = s.getVersion
}

// registerFull registers the methods gated by Config.FullAPI.
func (s *Server) registerFull() {
	s.handlers[MethodGetBlockTime] = s.suspending(s.getBlockTime)
	s.handlers[MethodGetBlocks] = s.suspending(s.getBlocks)
	s.handlers[MethodGetBlocksWithLimit] = s.suspending(s.getBlocksWithLimit)
	s.handlers[MethodGetFirstAvailableBlock] = s.suspending(s.getFirstAvailableBlock)
}

// suspending runs h on the executor. Failures of the executor itself are
// reported as internal errors.
func (s *Server) suspending(h handlerFunc) handlerFunc {
	if s.exec == nil {
		return h
	}
	return func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
		var (
			result interface{}
			rpcErr *RPCError
		)
		err := s.exec.Do(ctx, func(ctx context.Context) error {
			result, rpcErr = h(ctx, params)
			return nil
		})
		if err != nil {
			joinErr := metastore.TaskJoinError(err)
			s.logger.Error("request task failed", zap.Error(joinErr))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, InternalServerErrorf("request canceled")
			}
			return nil, InternalServerErrorf("%v", joinErr)
		}
		return result, rpcErr
	}
}

// parseArgs decodes positional params. Absent params yield no args.
func parseArgs(params json.RawMessage) ([]json.RawMessage, *RPCError) {
	if len(params) == 0 || string(params) == "null" {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, InvalidParamsError("invalid params")
	}
	return args, nil
}

// optionalArg decodes args[i] into v when present and not null.
// It reports whether a value was decoded.
func optionalArg(args []json.RawMessage, i int, v interface{}, name string) (bool, *RPCError) {
	if i >= len(args) || string(args[i]) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return false, InvalidParamsErrorf("invalid %s: %v", name, err)
	}
	return true, nil
}

// contextConfigArg decodes an optional context config at args[i].
func contextConfigArg(args []json.RawMessage, i int) (*ContextConfig, *RPCError) {
	var cfg ContextConfig
	ok, rpcErr := optionalArg(args, i, &cfg, "config")
	if rpcErr != nil || !ok {
		return nil, rpcErr
	}
	return &cfg, nil
}

// getHealth returns "ok".
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return "ok", nil
}

// getVersion returns the software version.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		SolanaCore: SolanaCore,
		FeatureSet: FeatureSet,
	}, nil
}

// getSlot returns the latest stored slot.
func (s *Server) getSlot(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	// The context config is validated but carries nothing these methods use.
	if _, rpcErr := contextConfigArg(args, 0); rpcErr != nil {
		return nil, rpcErr
	}
	s.logger.Debug("get_slot rpc request received")
	return s.processor.GetSlot(ctx), nil
}

// getBlockHeight returns the height of the latest stored block.
func (s *Server) getBlockHeight(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	// The context config is validated but carries nothing these methods use.
	if _, rpcErr := contextConfigArg(args, 0); rpcErr != nil {
		return nil, rpcErr
	}
	s.logger.Debug("get_block_height rpc request received")
	return s.processor.GetBlockHeight(ctx)
}

// getBlockTime returns the Unix time of a slot, or null.
func (s *Server) getBlockTime(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing slot parameter")
	}

	var slot types.Slot
	if err := json.Unmarshal(args[0], &slot); err != nil {
		return nil, InvalidParamsError("invalid slot")
	}

	ts, rpcErr := s.processor.GetBlockTime(ctx, slot)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if ts == nil {
		return nil, nil
	}
	return *ts, nil
}

// getBlocks returns stored slots between a start and an optional end slot.
func (s *Server) getBlocks(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 1 {
		return nil, InvalidParamsError("missing start slot parameter")
	}

	var start types.Slot
	if err := json.Unmarshal(args[0], &start); err != nil {
		return nil, InvalidParamsError("invalid start slot")
	}

	var wrapper blocksConfigWrapper
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &wrapper); err != nil {
			return nil, InvalidParamsErrorf("invalid end slot or config: %v", err)
		}
	}
	cfg, rpcErr := contextConfigArg(args, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if cfg == nil {
		cfg = wrapper.Config
	}

	s.logger.Debug("get_blocks rpc request received",
		zap.Uint64("start", start),
		zap.String("end", fmtSlot(wrapper.EndSlot)))
	return s.processor.GetBlocks(ctx, start, wrapper.EndSlot, cfg)
}

// getBlocksWithLimit returns up to limit stored slots from a start slot.
func (s *Server) getBlocksWithLimit(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if len(args) < 2 {
		return nil, InvalidParamsError("missing parameters")
	}

	var start types.Slot
	if err := json.Unmarshal(args[0], &start); err != nil {
		return nil, InvalidParamsError("invalid start slot")
	}
	var limit uint64
	if err := json.Unmarshal(args[1], &limit); err != nil {
		return nil, InvalidParamsError("invalid limit")
	}

	var cfg *CommitmentConfig
	var c CommitmentConfig
	ok, rpcErr := optionalArg(args, 2, &c, "config")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if ok {
		cfg = &c
	}

	s.logger.Debug("get_blocks_with_limit rpc request received",
		zap.Uint64("start", start),
		zap.Uint64("limit", limit))
	return s.processor.GetBlocksWithLimit(ctx, start, limit, cfg)
}

// getFirstAvailableBlock returns the lowest stored slot.
func (s *Server) getFirstAvailableBlock(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	s.logger.Debug("get_first_available_block rpc request received")
	return s.processor.GetFirstAvailableBlock(ctx), nil
}

func fmtSlot(slot *types.Slot) string {
	if slot == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *slot)
}
