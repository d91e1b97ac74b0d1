package presence

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

var errMissingService = errors.New("presence service is required")

// Compactor periodically reclaims expired presence rows.
type Compactor struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// NewCompactor schedules service.Compact every interval. The returned compactor is idle until Start.
func NewCompactor(service *Service, interval time.Duration, logger *zap.Logger) (*Compactor, error) {
	if service == nil {
		return nil, errMissingService
	}
	if interval <= 0 {
		return nil, errors.New("compaction interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			removed, err := service.Compact(ctx)
			if err != nil {
				logger.Warn("presence compaction failed", zap.Error(err))
				return
			}
			if removed > 0 {
				logger.Debug("presence compacted", zap.Int64("removed", removed))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return &Compactor{scheduler: scheduler, logger: logger}, nil
}

// Start begins running the compaction job.
func (c *Compactor) Start() {
	c.scheduler.Start()
}

// Stop waits for a running job and shuts the scheduler down.
func (c *Compactor) Stop() error {
	return c.scheduler.Shutdown()
}
