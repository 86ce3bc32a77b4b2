// Package rpc implements the JSON-RPC 2.0 interface of the block metadata
// service.
//
// Minimal methods (always registered):
//   - getHealth, getSlot, getBlockHeight, getVersion
//
// Full methods (registered when Config.FullAPI is set):
//   - getBlockTime, getBlocks, getBlocksWithLimit, getFirstAvailableBlock
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fortiblox/block-meta-rpc/internal/workerpool"
)

// Executor runs storage-bound handler work. *workerpool.Pool implements it.
type Executor interface {
	Do(ctx context.Context, fn workerpool.Task) error
}

// Recorder observes dispatched calls. *metrics.Metrics implements it.
type Recorder interface {
	RecordRPC(method string, code int, d time.Duration)
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, *RPCError)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Executor runs storage-bound methods. Nil runs them on the caller.
	Executor Executor

	// Recorder receives per-call metrics. May be nil.
	Recorder Recorder

	Logger *zap.Logger
}

// Server dispatches JSON-RPC requests through a name-keyed handler table.
type Server struct {
	processor   *Processor
	handlers    map[string]handlerFunc
	exec        Executor
	recorder    Recorder
	maxBodySize int64
	logger      *zap.Logger
}

// NewServer builds the handler table: the minimal set always, the full set
// when the processor's config enables it.
func NewServer(processor *Processor, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		processor:   processor,
		handlers:    make(map[string]handlerFunc),
		exec:        opts.Executor,
		recorder:    opts.Recorder,
		maxBodySize: processor.Config().BodyLimit(),
		logger:      logger,
	}

	s.registerMinimal()
	if processor.Config().FullAPI {
		s.registerFull()
	}
	return s
}

// Methods returns the registered method names in sorted order.
func (s *Server) Methods() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServeHTTP handles a JSON-RPC request or batch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			http.Error(w, "Unsupported media type", http.StatusUnsupportedMediaType)
			return
		}
	}

	// Oversized bodies are rejected before any of them is parsed.
	if r.ContentLength > s.maxBodySize {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeJSON(w, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		s.handleBatch(r.Context(), w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}
	s.writeJSON(w, s.call(r.Context(), req))
}

func (s *Server) handleBatch(ctx context.Context, w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeJSON(w, Response{JSONRPC: JSONRPCVersion, Error: ErrParseError})
		return
	}
	if len(requests) == 0 {
		s.writeJSON(w, Response{JSONRPC: JSONRPCVersion, Error: ErrInvalidRequest})
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		responses[i] = s.call(ctx, req)
	}
	s.writeJSON(w, responses)
}

// call validates and dispatches one request.
func (s *Server) call(ctx context.Context, req Request) Response {
	if req.JSONRPC != JSONRPCVersion {
		return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: ErrInvalidRequest}
	}

	start := time.Now()
	result, rpcErr := s.dispatch(ctx, req.Method, req.Params)

	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	if s.recorder != nil {
		label := req.Method
		if _, ok := s.handlers[label]; !ok {
			label = "unknown"
		}
		s.recorder.RecordRPC(label, code, time.Since(start))
	}

	if rpcErr != nil {
		return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}
	}
	return Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}
}

// dispatch routes a method to its handler.
func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, MethodNotFoundError(method)
	}
	return handler(ctx, params)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", zap.Error(err))
	}
}
