package metastore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("broken pipe")

	tests := []struct {
		err      error
		sentinel error
		msg      string
	}{
		{BlockNotFound(42), ErrBlockNotFound, "block not found: 42"},
		{BackendError(cause), ErrBackend, "storage backend error: broken pipe"},
		{IOError(cause), ErrIO, "i/o error: broken pipe"},
		{TimeoutError(cause), ErrTimeout, "storage backend timeout: broken pipe"},
		{TaskJoinError(cause), ErrTaskJoin, "task join failure: broken pipe"},
		{&Error{Kind: KindSignatureNotFound}, ErrSignatureNotFound, "signature not found"},
		{&Error{Kind: KindUnsupportedEncoding}, ErrUnsupportedEncoding, "unsupported transaction encoding"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			wrapped := fmt.Errorf("query: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.msg, tt.err.Error())
		})
	}

	assert.ErrorIs(t, BackendError(cause), cause)
	assert.NotErrorIs(t, BackendError(cause), ErrBlockNotFound)

	_, ok := BlockNotFoundSlot(BackendError(cause))
	assert.False(t, ok)
}
