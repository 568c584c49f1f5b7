package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
)

// CheckIn marks a registered attendee as present. A second call returns the
// first check-in time with AlreadyCheckedIn set. Capacity is not touched.
func (s *RegistrationService) CheckIn(ctx context.Context, userID, sessionID int64) (*model.CheckInResult, error) {
	start := time.Now()
	var result *model.CheckInResult

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		reg, err := tx.LockRegistration(ctx, userID, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}
		if reg.Status != model.StatusRegistered {
			return &InvalidStatusError{Status: string(reg.Status)}
		}

		result = &model.CheckInResult{
			UserID:    userID,
			SessionID: sessionID,
			Status:    reg.Status,
		}
		if reg.CheckinTime != nil {
			result.CheckinTime = *reg.CheckinTime
			result.AlreadyCheckedIn = true
			return nil
		}

		now := s.now()
		reg.CheckinTime = &now
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		result.CheckinTime = now
		return nil
	})
	if err != nil {
		err = storageError("checkin", err)
		s.observe(ctx, "checkin", outcomeOf(err), start, err)
		return nil, err
	}

	outcome := "checked_in"
	if result.AlreadyCheckedIn {
		outcome = "already_checked_in"
	}
	s.observe(ctx, "checkin", outcome, start, nil)
	logging.Ctx(ctx).Info().
		Int64("user_id", userID).
		Int64("session_id", sessionID).
		Bool("already_checked_in", result.AlreadyCheckedIn).
		Msg("check-in recorded")
	return result, nil
}
