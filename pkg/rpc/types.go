package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/fortiblox/block-meta-rpc/internal/types"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// MarshalJSON always emits "result" on success, including a null result,
// and never emits it alongside "error".
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string      `json:"jsonrpc"`
			Error   *RPCError   `json:"error"`
			ID      interface{} `json:"id"`
		}{r.JSONRPC, r.Error, r.ID})
	}
	return json.Marshal(struct {
		JSONRPC string      `json:"jsonrpc"`
		Result  interface{} `json:"result"`
		ID      interface{} `json:"id"`
	}{r.JSONRPC, r.Result, r.ID})
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ContextConfig carries the commitment and minimum context slot of a request.
type ContextConfig struct {
	Commitment     *types.Commitment `json:"commitment,omitempty"`
	MinContextSlot *types.Slot       `json:"minContextSlot,omitempty"`
}

// CommitmentOrDefault returns the requested commitment or the default one.
func (c *ContextConfig) CommitmentOrDefault() types.Commitment {
	if c == nil || c.Commitment == nil {
		return types.DefaultCommitment
	}
	return *c.Commitment
}

// CommitmentConfig is the commitment-only config object of getBlocksWithLimit.
type CommitmentConfig struct {
	Commitment types.Commitment `json:"commitment,omitempty"`
}

// CommitmentOrDefault returns the requested commitment or the default one.
func (c *CommitmentConfig) CommitmentOrDefault() types.Commitment {
	if c == nil || c.Commitment == "" {
		return types.DefaultCommitment
	}
	return c.Commitment
}

// blocksConfigWrapper is the second getBlocks parameter, which is either an
// end slot or a context config.
type blocksConfigWrapper struct {
	EndSlot *types.Slot
	Config  *ContextConfig
}

// UnmarshalJSON accepts a number, null or a config object.
func (w *blocksConfigWrapper) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var cfg ContextConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return err
		}
		w.Config = &cfg
		return nil
	}
	var end types.Slot
	if err := json.Unmarshal(data, &end); err != nil {
		return err
	}
	w.EndSlot = &end
	return nil
}

// VersionInfo is the getVersion result.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}
