package service

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
)

// ListSessionRegistrations returns the session's ledger ordered registered,
// waiting, cancelled, then by queue position and register time.
func (s *RegistrationService) ListSessionRegistrations(ctx context.Context, sessionID int64) ([]model.SessionRegistration, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageError("list_session_registrations", err)
	}
	regs, err := s.store.ListSessionRegistrations(ctx, sessionID)
	if err != nil {
		return nil, storageError("list_session_registrations", err)
	}
	return regs, nil
}

// ListUserRegistrations returns the user's registration history.
func (s *RegistrationService) ListUserRegistrations(ctx context.Context, userID int64) ([]model.UserRegistration, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storageError("list_user_registrations", err)
	}
	regs, err := s.store.ListUserRegistrations(ctx, userID)
	if err != nil {
		return nil, storageError("list_user_registrations", err)
	}
	return regs, nil
}

// GetSessionSummary returns capacity and queue figures for one session.
// The figures are read without locks and may be stale by the time they are
// returned.
func (s *RegistrationService) GetSessionSummary(ctx context.Context, sessionID int64) (*model.SessionSummary, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageError("get_session_summary", err)
	}
	waiting, err := s.store.CountWaiting(ctx, sessionID)
	if err != nil {
		return nil, storageError("get_session_summary", err)
	}
	return &model.SessionSummary{
		SessionID:         sess.ID,
		EventID:           sess.EventID,
		Status:            sess.Status,
		Capacity:          sess.Capacity,
		CurrentRegistered: sess.CurrentRegistered,
		Remaining:         sess.Remaining(),
		Waiting:           waiting,
		WaitingListLimit:  sess.WaitingListLimit,
	}, nil
}
