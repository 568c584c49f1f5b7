package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	until := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"sentinel", ErrSessionClosed, KindSessionClosed},
		{"wrapped sentinel", fmt.Errorf("register: %w", ErrWaitlistFull), KindWaitlistFull},
		{"blocked", &BlockedError{Until: until}, KindUserBlocked},
		{"invalid status", &InvalidStatusError{Status: "waiting"}, KindInvalidStatus},
		{"storage", &StorageError{Op: "cancel", Err: context.DeadlineExceeded}, KindStorageFailure},
		{"unclassified", errors.New("boom"), KindStorageFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStorageErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")

	err := storageError("register", cause)
	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "register: storage failure: connection refused")

	// Business errors and existing storage errors pass through unchanged.
	assert.Same(t, ErrSessionNotFound, storageError("register", ErrSessionNotFound))
	assert.Same(t, err, storageError("cancel", err))
	assert.NoError(t, storageError("register", nil))
}

func TestBlockedError(t *testing.T) {
	err := &BlockedError{Until: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	assert.ErrorIs(t, err, ErrUserBlocked)
	assert.EqualError(t, err, "user is blocked until 2026-04-01T12:00:00Z")
	assert.True(t, IsBusiness(err))
}
