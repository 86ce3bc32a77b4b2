package rpc

import (
	"fmt"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes.
const (
	// LongTermStorageSlotSkipped indicates the slot has no row in long-term storage.
	LongTermStorageSlotSkipped = -32009

	// BackendStorageFailure indicates the metadata backend failed the query.
	BackendStorageFailure = -32017
)

// Common errors.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MethodNotFoundError reports an unknown or disabled method.
func MethodNotFoundError(method string) *RPCError {
	return NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
}

// SlotSkippedError reports a slot missing from long-term storage.
func SlotSkippedError(slot uint64) *RPCError {
	return NewRPCError(LongTermStorageSlotSkipped,
		fmt.Sprintf("Slot %d was skipped, or missing in long-term storage", slot))
}

// BackendError reports a metadata backend failure with the backend's message.
func BackendError(message string) *RPCError {
	return NewRPCError(BackendStorageFailure, message)
}
