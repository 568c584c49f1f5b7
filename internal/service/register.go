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

// Register seats the user in the session, or queues them when it is full.
//
// Calling Register for a user who is already registered or waiting returns
// the existing state unchanged, so retries are safe.
//
// A user whose recent no-shows reach the policy threshold is blocked by this
// call: the block is committed and the call fails with *BlockedError.
func (s *RegistrationService) Register(ctx context.Context, userID, sessionID int64) (*model.RegisterResult, error) {
	start := time.Now()
	res, err := s.register(ctx, userID, sessionID)
	if err != nil {
		s.observe(ctx, "register", outcomeOf(err), start, err)
		return nil, err
	}

	outcome := string(res.Status)
	if res.Existing {
		outcome = "existing"
	}
	s.observe(ctx, "register", outcome, start, nil)

	ev := logging.Ctx(ctx).Info().
		Int64("user_id", userID).
		Int64("session_id", sessionID).
		Str("status", string(res.Status)).
		Bool("existing", res.Existing)
	if res.QueuePosition != nil {
		ev = ev.Int("queue_position", *res.QueuePosition)
	}
	ev.Msg("registration processed")
	return res, nil
}

func (s *RegistrationService) register(ctx context.Context, userID, sessionID int64) (*model.RegisterResult, error) {
	var (
		result  *model.RegisterResult
		blocked *BlockedError
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()

		// ── Step 1: Lock the session row. ─────────────────────────────────
		//
		// Every registration and cancellation for this session queues here,
		// so capacity and queue positions below are read and written by one
		// transaction at a time. A missing session is reported only after the
		// user gates, which take precedence.
		sess, err := tx.LockSession(ctx, sessionID)
		sessionMissing := errors.Is(err, repository.ErrNotFound)
		if err != nil && !sessionMissing {
			return err
		}

		// ── Step 2: Lock the user row and apply the admission gate. ───────
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if user.IsBlocked(now) {
			return &BlockedError{Until: *user.BlockedUntil}
		}

		// ── Step 3: Recompute no-shows; a fresh block ends the request. ───
		//
		// Returning nil commits the block write; the rejection is reported
		// after the commit.
		until, err := s.evaluate(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if until != nil {
			blocked = &BlockedError{Until: *until}
			metrics.PenaltyBlocks.WithLabelValues("register").Inc()
			return nil
		}

		// ── Step 4: Session must exist and be open. ───────────────────────
		if sessionMissing {
			return ErrSessionNotFound
		}
		if sess.Status != model.SessionOpen {
			return ErrSessionClosed
		}

		// ── Step 5: One session per event unless the event allows more. ───
		if !sess.AllowMultiSession {
			dup, err := tx.HasOtherActiveRegistration(ctx, userID, sess.EventID, sessionID)
			if err != nil {
				return err
			}
			if dup {
				return ErrDuplicateEventRegistration
			}
		}

		// ── Step 6: Already registered or waiting → return as-is. ─────────
		existing, err := tx.LockRegistration(ctx, userID, sessionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Status.Active() {
			result = &model.RegisterResult{
				UserID:        userID,
				SessionID:     sessionID,
				Status:        existing.Status,
				QueuePosition: existing.QueuePosition,
				Existing:      true,
			}
			return nil
		}

		// ── Step 7: Seat or queue. ────────────────────────────────────────
		reg := &model.Registration{
			UserID:       userID,
			SessionID:    sessionID,
			RegisterTime: now,
		}
		if !sess.IsFull() {
			reg.Status = model.StatusRegistered
			if err := tx.AdjustRegistered(ctx, sessionID, 1); err != nil {
				return err
			}
		} else {
			waiting, err := tx.CountWaiting(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.WaitingListLimit > 0 && waiting >= sess.WaitingListLimit {
				return ErrWaitlistFull
			}
			reg.Status = model.StatusWaiting
			reg.QueuePosition = model.IntPtr(waiting + 1)
		}

		// ── Step 8: Reuse the cancelled row or insert a new one. ──────────
		if existing != nil {
			err = tx.UpdateRegistration(ctx, reg)
		} else {
			err = tx.InsertRegistration(ctx, reg)
		}
		if err != nil {
			return err
		}

		result = &model.RegisterResult{
			UserID:        userID,
			SessionID:     sessionID,
			Status:        reg.Status,
			QueuePosition: reg.QueuePosition,
		}
		return nil
	})
	if err != nil {
		return nil, storageError("register", err)
	}
	if blocked != nil {
		logging.Ctx(ctx).Warn().
			Int64("user_id", userID).
			Time("blocked_until", blocked.Until).
			Msg("user blocked for repeated no-shows")
		return nil, blocked
	}
	return result, nil
}
