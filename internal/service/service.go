// Package service implements the registration engine: the transactional
// state machine that seats, queues, cancels, promotes, checks in and applies
// the no-show penalty policy on top of a repository.Store.
package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
	"github.com/Shivanand-hulikatti/session-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/session-registration/internal/repository"
)

// PenaltyPolicy configures the no-show evaluator.
type PenaltyPolicy struct {
	Window        time.Duration
	Threshold     int
	BlockDuration time.Duration
}

// DefaultPenaltyPolicy returns a 30-day window, a threshold of 3 and a
// 30-day block.
func DefaultPenaltyPolicy() PenaltyPolicy {
	return PenaltyPolicy{
		Window:        30 * 24 * time.Hour,
		Threshold:     3,
		BlockDuration: 30 * 24 * time.Hour,
	}
}

// RegistrationService orchestrates registration, cancellation, check-in and
// penalty evaluation. It holds no per-request state; the store is the only
// shared resource.
type RegistrationService struct {
	store  repository.Store
	policy PenaltyPolicy
	clock  func() time.Time
}

// Option configures a RegistrationService.
type Option func(*RegistrationService)

// WithClock replaces time.Now. Tests use it to move through penalty windows.
func WithClock(clock func() time.Time) Option {
	return func(s *RegistrationService) {
		s.clock = clock
	}
}

// WithPenaltyPolicy replaces the default no-show policy.
func WithPenaltyPolicy(p PenaltyPolicy) Option {
	return func(s *RegistrationService) {
		s.policy = p
	}
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(store repository.Store, opts ...Option) *RegistrationService {
	s := &RegistrationService{
		store:  store,
		policy: DefaultPenaltyPolicy(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RegistrationService) now() time.Time {
	return s.clock().UTC()
}

// observe records an operation outcome. Storage failures are logged at
// error level; business outcomes at debug.
func (s *RegistrationService) observe(ctx context.Context, op, outcome string, start time.Time, err error) {
	metrics.RecordOperation(op, outcome, time.Since(start))
	if err == nil {
		return
	}
	if IsBusiness(err) {
		logging.Ctx(ctx).Debug().Str("operation", op).Str("kind", string(KindOf(err))).Msg(err.Error())
		return
	}
	logging.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("transaction rolled back")
}

func outcomeOf(err error) string {
	return string(KindOf(err))
}
