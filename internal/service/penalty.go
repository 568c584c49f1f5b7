package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
)

// evaluate counts the user's no-shows in the trailing window ending at now
// and, when the count reaches the threshold, writes blocked_until = now +
// BlockDuration through tx. It returns the new expiry or nil. The caller must
// hold the user lock.
func (s *RegistrationService) evaluate(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (*time.Time, error) {
	if s.policy.Threshold <= 0 {
		return nil, nil
	}
	n, err := tx.CountNoShows(ctx, userID, now.Add(-s.policy.Window), now)
	if err != nil {
		return nil, err
	}
	if n < s.policy.Threshold {
		return nil, nil
	}
	until := now.Add(s.policy.BlockDuration)
	if err := tx.SetBlockedUntil(ctx, userID, until); err != nil {
		return nil, err
	}
	return &until, nil
}

// evaluateUser runs evaluate in its own transaction. A user who is already
// blocked is left alone and their current expiry returned; Register would
// have rejected them at the admission gate before evaluating. blocked reports
// whether this call wrote a new block.
func (s *RegistrationService) evaluateUser(ctx context.Context, userID int64, now time.Time) (until *time.Time, blocked bool, err error) {
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if user.IsBlocked(now) {
			t := *user.BlockedUntil
			until = &t
			return nil
		}
		until, err = s.evaluate(ctx, tx, userID, now)
		blocked = until != nil
		return err
	})
	if err != nil {
		return nil, false, storageError("evaluate_penalty", err)
	}
	return until, blocked, nil
}

// EvaluatePenalty applies the no-show policy to one user outside of a
// registration. It returns the block expiry if the user is, or has just
// become, blocked.
func (s *RegistrationService) EvaluatePenalty(ctx context.Context, userID int64) (*time.Time, error) {
	until, blocked, err := s.evaluateUser(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	if blocked {
		metrics.PenaltyBlocks.WithLabelValues("evaluate").Inc()
		logging.Ctx(ctx).Warn().
			Int64("user_id", userID).
			Time("blocked_until", *until).
			Msg("user blocked for repeated no-shows")
	}
	return until, nil
}

// SweepPenalties evaluates every user with a no-show in the current window
// and returns how many were newly blocked. All users are judged against the
// same instant. A failure on one user does not stop the sweep; failures are
// joined into the returned error.
func (s *RegistrationService) SweepPenalties(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.PenaltySweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	ids, err := s.store.UsersWithNoShows(ctx, now.Add(-s.policy.Window), now)
	if err != nil {
		return 0, storageError("sweep_penalties", err)
	}

	var (
		count int
		errs  []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, storageError("sweep_penalties", ctx.Err()))
			break
		}
		until, blocked, err := s.evaluateUser(ctx, id, now)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("user_id", id).Msg("penalty evaluation failed")
			errs = append(errs, err)
			continue
		}
		if blocked {
			count++
			metrics.PenaltyBlocks.WithLabelValues("sweep").Inc()
			logging.Ctx(ctx).Info().
				Int64("user_id", id).
				Time("blocked_until", *until).
				Msg("user blocked by sweep")
		}
	}

	logging.Ctx(ctx).Debug().
		Int("candidates", len(ids)).
		Int("blocked", count).
		Dur("duration", time.Since(start)).
		Msg("penalty sweep finished")
	return count, errors.Join(errs...)
}
