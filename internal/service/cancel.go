package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/session-registration/internal/model"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
)

// Cancel withdraws the user from the session.
//
// Cancelling a registered seat frees it and promotes the head of the waiting
// list in the same transaction. Cancelling a waiting entry closes the gap it
// leaves in the queue.
func (s *RegistrationService) Cancel(ctx context.Context, userID, sessionID int64) (*model.CancelResult, error) {
	start := time.Now()
	res, err := s.cancel(ctx, userID, sessionID)
	if err != nil {
		s.observe(ctx, "cancel", outcomeOf(err), start, err)
		return nil, err
	}
	s.observe(ctx, "cancel", string(model.StatusCancelled), start, nil)

	ev := logging.Ctx(ctx).Info().
		Int64("user_id", userID).
		Int64("session_id", sessionID).
		Str("old_status", string(res.OldStatus))
	if res.PromotedUser != nil {
		ev = ev.Int64("promoted_user_id", res.PromotedUser.UserID)
	}
	ev.Msg("registration cancelled")
	return res, nil
}

func (s *RegistrationService) cancel(ctx context.Context, userID, sessionID int64) (*model.CancelResult, error) {
	var result *model.CancelResult

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		// ── Step 1: Lock the session row. ─────────────────────────────────
		//
		// Same first lock as Register, so a cancellation and a registration
		// on one session never interleave their capacity updates.
		if _, err := tx.LockSession(ctx, sessionID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}

		// ── Step 2: Lock the registration and check its status. ───────────
		reg, err := tx.LockRegistration(ctx, userID, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrRegistrationNotFound
			}
			return err
		}
		switch reg.Status {
		case model.StatusCancelled:
			return ErrAlreadyCancelled
		case model.StatusRegistered, model.StatusWaiting:
		default:
			return &InvalidStatusError{Status: string(reg.Status)}
		}

		oldStatus := reg.Status
		oldPosition := reg.QueuePosition

		reg.Status = model.StatusCancelled
		reg.QueuePosition = nil
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}

		result = &model.CancelResult{
			UserID:    userID,
			SessionID: sessionID,
			OldStatus: oldStatus,
			NewStatus: model.StatusCancelled,
		}

		// ── Step 3a: Waiting entry → close the gap behind it. ─────────────
		if oldStatus == model.StatusWaiting {
			if oldPosition == nil {
				return nil
			}
			return tx.ShiftQueue(ctx, sessionID, *oldPosition)
		}

		// ── Step 3b: Seat freed → promote the head of the queue. ──────────
		if err := tx.AdjustRegistered(ctx, sessionID, -1); err != nil {
			return err
		}

		head, err := tx.WaitingHead(ctx, sessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		headPosition := 1
		if head.QueuePosition != nil {
			headPosition = *head.QueuePosition
		}
		head.Status = model.StatusRegistered
		head.QueuePosition = nil
		if err := tx.UpdateRegistration(ctx, head); err != nil {
			return err
		}
		if err := tx.AdjustRegistered(ctx, sessionID, 1); err != nil {
			return err
		}
		if err := tx.ShiftQueue(ctx, sessionID, headPosition); err != nil {
			return err
		}

		result.PromotedUser = &model.RegistrationRef{
			UserID:    head.UserID,
			SessionID: sessionID,
		}
		return nil
	})
	if err != nil {
		return nil, storageError("cancel", err)
	}
	if result.PromotedUser != nil {
		metrics.Promotions.Inc()
	}
	return result, nil
}
