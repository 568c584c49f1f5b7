// Package model defines the core domain types for session registration.
package model

import "time"

// SessionStatus is the lifecycle status of an event session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// RegistrationStatus is the lifecycle status of a ledger row.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "registered"
	StatusWaiting    RegistrationStatus = "waiting"
	StatusCancelled  RegistrationStatus = "cancelled"
)

// Active reports whether the status holds a seat or a place in the queue.
func (s RegistrationStatus) Active() bool {
	return s == StatusRegistered || s == StatusWaiting
}

// Priority orders statuses for session listings: registered, waiting, cancelled.
func (s RegistrationStatus) Priority() int {
	switch s {
	case StatusRegistered:
		return 1
	case StatusWaiting:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 4
	}
}

// User is the subset of the account entity this service reads and writes.
type User struct {
	ID           int64      `json:"user_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	BlockedUntil *time.Time `json:"blocked_until"`
}

// IsBlocked reports whether the user is blocked at the given instant.
func (u *User) IsBlocked(now time.Time) bool {
	return u.BlockedUntil != nil && u.BlockedUntil.After(now)
}

// Event owns one or more sessions.
type Event struct {
	ID                int64  `json:"event_id"`
	Title             string `json:"title"`
	Location          string `json:"location"`
	AllowMultiSession bool   `json:"allow_multi_session"`
}

// Session is a bounded-capacity occurrence of an event.
// AllowMultiSession is copied from the owning event when the row is loaded.
type Session struct {
	ID                int64         `json:"session_id"`
	EventID           int64         `json:"event_id"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
	Capacity          int           `json:"capacity"`
	CurrentRegistered int           `json:"current_registered"`
	WaitingListLimit  int           `json:"waiting_list_limit"`
	Status            SessionStatus `json:"status"`
	AllowMultiSession bool          `json:"allow_multi_session"`
}

// Remaining returns the number of free seats.
func (s *Session) Remaining() int {
	if r := s.Capacity - s.CurrentRegistered; r > 0 {
		return r
	}
	return 0
}

// IsFull returns true when no seats remain.
func (s *Session) IsFull() bool {
	return s.CurrentRegistered >= s.Capacity
}

// Registration is the ledger row linking one user to one session.
// QueuePosition is non-nil iff Status is waiting.
type Registration struct {
	UserID        int64              `json:"user_id"`
	SessionID     int64              `json:"session_id"`
	Status        RegistrationStatus `json:"status"`
	QueuePosition *int               `json:"queue_position"`
	RegisterTime  time.Time          `json:"register_time"`
	CheckinTime   *time.Time         `json:"checkin_time"`
}

// SessionRegistration is a ledger row joined with the registrant's name.
type SessionRegistration struct {
	Registration
	UserName string `json:"user_name"`
}

// UserRegistration is a ledger row joined with its session and event.
type UserRegistration struct {
	Registration
	EventID       int64     `json:"event_id"`
	EventTitle    string    `json:"event_title"`
	EventLocation string    `json:"event_location"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// SessionSummary is a capacity snapshot for one session.
type SessionSummary struct {
	SessionID         int64         `json:"session_id"`
	EventID           int64         `json:"event_id"`
	Status            SessionStatus `json:"status"`
	Capacity          int           `json:"capacity"`
	CurrentRegistered int           `json:"current_registered"`
	Remaining         int           `json:"remaining"`
	Waiting           int           `json:"waiting"`
	WaitingListLimit  int           `json:"waiting_list_limit"`
}

// RegisterResult is the outcome of a successful Register call.
type RegisterResult struct {
	UserID        int64              `json:"user_id"`
	SessionID     int64              `json:"session_id"`
	Status        RegistrationStatus `json:"status"`
	QueuePosition *int               `json:"queue_position"`
	// Existing is true when the call returned a prior registration unchanged.
	Existing bool `json:"-"`
}

// RegistrationRef identifies one ledger row.
type RegistrationRef struct {
	UserID    int64 `json:"user_id"`
	SessionID int64 `json:"session_id"`
}

// CancelResult is the outcome of a successful Cancel call.
type CancelResult struct {
	UserID       int64              `json:"user_id"`
	SessionID    int64              `json:"session_id"`
	OldStatus    RegistrationStatus `json:"old_status"`
	NewStatus    RegistrationStatus `json:"new_status"`
	PromotedUser *RegistrationRef   `json:"promoted_user"`
}

// CheckInResult is the outcome of a successful CheckIn call.
type CheckInResult struct {
	UserID           int64              `json:"user_id"`
	SessionID        int64              `json:"session_id"`
	Status           RegistrationStatus `json:"status"`
	CheckinTime      time.Time          `json:"checkin_time"`
	AlreadyCheckedIn bool               `json:"already_checked_in"`
}

// RegistrationRequest is the payload for register, cancel and check-in.
type RegistrationRequest struct {
	UserID    int64 `json:"user_id" validate:"required,gt=0"`
	SessionID int64 `json:"session_id" validate:"required,gt=0"`
}

// RegisterResponse is the HTTP body for a successful registration.
type RegisterResponse struct {
	RegisterResult
	Message string `json:"message"`
}

// CancelResponse is the HTTP body for a successful cancellation.
type CancelResponse struct {
	CancelResult
	Message string `json:"message"`
}

// CheckInResponse is the HTTP body for a successful check-in.
type CheckInResponse struct {
	CheckInResult
	Message string `json:"message"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error        string     `json:"error"`
	Message      string     `json:"message"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
