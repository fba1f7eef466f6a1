package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		kind  ErrorKind
		class func(error) bool
	}{
		{kind: KindConfiguration, class: errdefs.IsInvalidArgument},
		{kind: KindNoActiveChannel, class: errdefs.IsUnavailable},
		{kind: KindResolution, class: errdefs.IsNotFound},
		{kind: KindPersist, class: errdefs.IsDataLoss},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", NewError(tt.kind, "op", "subject", errors.New("cause")))
			assert.Equal(t, tt.kind, KindOf(err))
			assert.True(t, IsKind(err, tt.kind))
			assert.True(t, tt.class(err))
			assert.True(t, errors.Is(err, &Error{Kind: tt.kind}))
			assert.Contains(t, err.Error(), tt.kind.String())
		})
	}
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindPersist))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Errorf(KindPersist, "add file", "f1", "write: %w", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "PersistFailure: add file f1: write: disk full", err.Error())
}
