package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap("store.insert", ErrStoreUnavailable, cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store.insert: store unavailable: connection refused", err.Error())
	assert.Nil(t, Wrap("noop", ErrStoreUnavailable, nil))
}

func TestWrapKeepsClassifiedError(t *testing.T) {
	inner := Wrap("embed", ErrEmbeddingUnavailable, errors.New("timeout"))
	outer := Wrap("ingest", ErrEmbeddingUnavailable, inner)
	assert.Same(t, inner, outer)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid parameters", ErrInvalidParameters, false},
		{"dimension mismatch", Wrap("store", ErrStoreUnavailable, ErrDimensionMismatch), false},
		{"embedding", Wrap("embed", ErrEmbeddingUnavailable, errors.New("503")), true},
		{"store", fmt.Errorf("insert: %w", ErrStoreUnavailable), true},
		{"synthesis", ErrSynthesisUnavailable, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"unclassified", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
