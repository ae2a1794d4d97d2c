package job

import (
	"context"
	"time"

	"giftledger/internal/config"

	"go.uber.org/zap"
)

type GiftCardExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// GiftCardExpiryJob periodically moves active cards past their expiry to
// expired. Redemption checks expiry on its own, so the sweep only keeps the
// stored status and the published events in line.
type GiftCardExpiryJob struct {
	expirer   GiftCardExpirer
	logger    *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewGiftCardExpiryJob(expirer GiftCardExpirer, cfg *config.Config, logger *zap.Logger) *GiftCardExpiryJob {
	return &GiftCardExpiryJob{
		expirer:   expirer,
		logger:    logger.With(zap.String("job", "giftcard_expiry")),
		stopCh:    make(chan struct{}),
		interval:  cfg.Business.ExpirySweepInterval,
		batchSize: 100,
	}
}

func (j *GiftCardExpiryJob) Start(ctx context.Context) {
	j.logger.Info("job started", zap.Duration("interval", j.interval))

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
			j.expireCards(ctx)
		}
	}
}

func (j *GiftCardExpiryJob) Stop() {
	close(j.stopCh)
}

// expireCards drains due cards batch by batch until a batch comes back short.
func (j *GiftCardExpiryJob) expireCards(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := j.expirer.ExpireDue(ctx, j.batchSize)
		if err != nil {
			j.logger.Error("expire gift cards failed", zap.Error(err))
			break
		}
		total += n
		if n < j.batchSize {
			break
		}
	}

	if total > 0 {
		j.logger.Info("gift cards expired", zap.Int("count", total))
	}
	return total
}
