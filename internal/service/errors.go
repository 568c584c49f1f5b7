package service

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a stable, outward-facing error code.
type Kind string

const (
	KindUserNotFound               Kind = "user_not_found"
	KindUserBlocked                Kind = "user_blocked"
	KindSessionNotFound            Kind = "session_not_found"
	KindSessionClosed              Kind = "session_closed"
	KindDuplicateEventRegistration Kind = "duplicate_event_registration"
	KindWaitlistFull               Kind = "waitlist_full"
	KindRegistrationNotFound       Kind = "registration_not_found"
	KindAlreadyCancelled           Kind = "already_cancelled"
	KindInvalidStatus              Kind = "invalid_status"
	KindStorageFailure             Kind = "storage_failure"
)

// kindError is a business-rule failure. Values are compared by identity
// through errors.Is against the sentinels below.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Kind() Kind    { return e.kind }

// Business-rule sentinels. These are expected outcomes, never partially
// applied, and never retried blindly by callers.
var (
	ErrUserNotFound               error = &kindError{KindUserNotFound, "user not found"}
	ErrUserBlocked                error = &kindError{KindUserBlocked, "user is temporarily blocked from registering"}
	ErrSessionNotFound            error = &kindError{KindSessionNotFound, "session not found"}
	ErrSessionClosed              error = &kindError{KindSessionClosed, "session is closed for registration"}
	ErrDuplicateEventRegistration error = &kindError{KindDuplicateEventRegistration, "already registered for another session of this event"}
	ErrWaitlistFull               error = &kindError{KindWaitlistFull, "session is full and the waiting list is full"}
	ErrRegistrationNotFound       error = &kindError{KindRegistrationNotFound, "registration not found"}
	ErrAlreadyCancelled           error = &kindError{KindAlreadyCancelled, "registration is already cancelled"}
	ErrInvalidStatus              error = &kindError{KindInvalidStatus, "operation not allowed in the current registration status"}
)

// ErrStorageFailure matches every *StorageError.
var ErrStorageFailure = errors.New("storage failure")

// BlockedError rejects a registration from a blocked user and carries the
// block expiry. It matches ErrUserBlocked.
type BlockedError struct {
	Until time.Time
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("user is blocked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *BlockedError) Unwrap() error { return ErrUserBlocked }

// InvalidStatusError rejects an operation from the registration's current
// status. It matches ErrInvalidStatus.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("current status is %s, operation not allowed", e.Status)
}

func (e *InvalidStatusError) Unwrap() error { return ErrInvalidStatus }

// StorageError is an infrastructure failure (deadlock, lock timeout,
// connection loss, cancelled context). The transaction was rolled back in
// full; the caller may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

// KindOf returns the Kind of err. Errors outside the business taxonomy are
// reported as KindStorageFailure; nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke interface{ Kind() Kind }
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return KindStorageFailure
}

// IsBusiness reports whether err belongs to the business-rule taxonomy.
func IsBusiness(err error) bool {
	var ke interface{ Kind() Kind }
	return errors.As(err, &ke)
}

// storageError wraps err unless it already is a business error.
func storageError(op string, err error) error {
	if err == nil || IsBusiness(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
