package job

import (
	"context"
	"time"

	"giftledger/internal/config"

	"go.uber.org/zap"
)

type CommissionAccruer interface {
	AccrueMissing(ctx context.Context, before time.Time, limit int) (int, error)
}

// CommissionCompensateJob accrues commission for completed, referred orders
// whose event was lost or failed. Orders younger than the configured delay
// are left to the consumer.
type CommissionCompensateJob struct {
	accruer   CommissionAccruer
	logger    *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	delay     time.Duration
	batchSize int
	now       func() time.Time
}

func NewCommissionCompensateJob(accruer CommissionAccruer, cfg *config.Config, logger *zap.Logger) *CommissionCompensateJob {
	return &CommissionCompensateJob{
		accruer:   accruer,
		logger:    logger.With(zap.String("job", "commission_compensate")),
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.CompensateInterval,
		delay:     cfg.Business.CompensateDelay,
		batchSize: 50,
		now:       time.Now,
	}
}

func (j *CommissionCompensateJob) Start(ctx context.Context) {
	j.logger.Info("job started", zap.Duration("interval", j.interval), zap.Duration("delay", j.delay))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("context done, job exiting")
			return
		case <-j.stopCh:
			j.logger.Info("job stopped")
			return
		case <-ticker.C:
			j.compensate(ctx)
		}
	}
}

func (j *CommissionCompensateJob) Stop() {
	close(j.stopCh)
}

func (j *CommissionCompensateJob) compensate(ctx context.Context) int {
	before := j.now().Add(-j.delay)
	n, err := j.accruer.AccrueMissing(ctx, before, j.batchSize)
	if err != nil {
		j.logger.Error("compensate commissions failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.logger.Info("missing commissions accrued", zap.Int("count", n), zap.Time("completed_before", before))
	}
	return n
}
