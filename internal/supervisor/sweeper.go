package supervisor

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/session-registration/internal/logging"
)

// PenaltySweeper is satisfied by *service.RegistrationService.
type PenaltySweeper interface {
	SweepPenalties(ctx context.Context) (int, error)
}

// PenaltySweepService runs a no-show sweep immediately and then on every
// tick of interval. A failed sweep is logged and retried on the next tick.
type PenaltySweepService struct {
	sweeper  PenaltySweeper
	interval time.Duration
}

// NewPenaltySweepService constructs the service. interval must be positive.
func NewPenaltySweepService(sweeper PenaltySweeper, interval time.Duration) *PenaltySweepService {
	return &PenaltySweepService{sweeper: sweeper, interval: interval}
}

// Serve implements suture.Service.
func (p *PenaltySweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.sweep(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *PenaltySweepService) sweep(ctx context.Context) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	blocked, err := p.sweeper.SweepPenalties(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Ctx(ctx).Error().Err(err).Int("blocked", blocked).Msg("penalty sweep failed")
		return
	}
	if blocked > 0 {
		logging.Ctx(ctx).Info().Int("blocked", blocked).Msg("penalty sweep blocked users")
	}
}

func (p *PenaltySweepService) String() string {
	return "penalty-sweeper"
}
