package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/metrics"
)

const defaultSchedule = "@every 1m"

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Schedule is a standard cron spec or descriptor such as "@every 1m".
	Schedule string
}

// Service runs every registered job on each tick of the schedule. A tick is
// skipped when another worker holds the lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	schedule string
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	schedule := params.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := robfig.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		schedule: schedule,
	}, nil
}

// Run schedules the sweep and blocks until the context is canceled. In-flight
// cycles are allowed to finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cronLog := cronLogger{ctx: ctx, logg: s.logg}
	c := robfig.New(
		robfig.WithLocation(time.UTC),
		robfig.WithLogger(cronLog),
		robfig.WithChain(robfig.Recover(cronLog), robfig.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.logg.Info(s.logg.WithField(ctx, "schedule", s.schedule), "cron scheduler started")
	c.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		for _, job := range s.registry.Jobs() {
			s.metrics.IncSkipped(job.Name())
		}
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Debug(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}

// cronLogger routes scheduler diagnostics into the service logger.
type cronLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "cron: "+msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "cron: "+msg, err)
}

func pairs(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out[key] = kv[i+1]
	}
	return out
}
