package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/core/service"
)

const defaultSweepTimeout = 2 * time.Minute

type Sweeper interface {
	Sweep(ctx context.Context) (service.BatchSummary[domain.AllocationRecord], error)
}

// Scheduler runs the backorder sweep on a cron schedule. A sweep still
// running when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewScheduler(schedule string, sweeper Sweeper, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		timeout:  defaultSweepTimeout,
		logger:   logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule backorder sweep %q: %w", s.schedule, err)
	}
	s.logger.Info("starting scheduler", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("stopping scheduler")
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("backorder sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("backorder sweep finished",
		zap.Int("requested", summary.Requested),
		zap.Int("successful", summary.Successful),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed))
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
