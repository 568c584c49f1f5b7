// Package repository implements the session capacity store and the
// registration ledger behind a single transactional contract.
//
// Two implementations are provided: PostgresStore (pgx, row locks via
// SELECT … FOR UPDATE) and MemoryStore (per-row lock channels with
// transaction-local write buffers). The service layer is written once
// against Store and Tx.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrLockTimeout is returned when a row lock could not be acquired within
// the configured bound.
var ErrLockTimeout = errors.New("lock wait timeout")

// Store opens transactions and serves read-only projections.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; no partial write is ever visible.
	// Row locks taken through tx are held until commit or rollback.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetSession(ctx context.Context, sessionID int64) (*model.Session, error)
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	CountWaiting(ctx context.Context, sessionID int64) (int, error)
	ListSessionRegistrations(ctx context.Context, sessionID int64) ([]model.SessionRegistration, error)
	ListUserRegistrations(ctx context.Context, userID int64) ([]model.UserRegistration, error)

	// UsersWithNoShows returns the IDs of users with at least one no-show
	// whose session ended in [since, now).
	UsersWithNoShows(ctx context.Context, since, now time.Time) ([]int64, error)
}

// Tx is the set of reads and writes available inside a transaction.
//
// Lock methods must be called in the order session, user, registration.
// Reads of the waiting set are only meaningful while the owning session row
// is locked.
type Tx interface {
	LockSession(ctx context.Context, sessionID int64) (*model.Session, error)
	LockUser(ctx context.Context, userID int64) (*model.User, error)
	LockRegistration(ctx context.Context, userID, sessionID int64) (*model.Registration, error)

	AdjustRegistered(ctx context.Context, sessionID int64, delta int) error

	// HasOtherActiveRegistration reports whether the user holds a registered
	// or waiting row for a session of eventID other than sessionID.
	HasOtherActiveRegistration(ctx context.Context, userID, eventID, sessionID int64) (bool, error)
	CountWaiting(ctx context.Context, sessionID int64) (int, error)
	// WaitingHead returns the first waiting row ordered by
	// (queue_position, register_time), or ErrNotFound.
	WaitingHead(ctx context.Context, sessionID int64) (*model.Registration, error)
	// ShiftQueue decrements queue_position of every waiting row of the
	// session whose position is greater than after.
	ShiftQueue(ctx context.Context, sessionID int64, after int) error

	InsertRegistration(ctx context.Context, reg *model.Registration) error
	UpdateRegistration(ctx context.Context, reg *model.Registration) error

	CountNoShows(ctx context.Context, userID int64, since, now time.Time) (int, error)
	SetBlockedUntil(ctx context.Context, userID int64, until time.Time) error
}
