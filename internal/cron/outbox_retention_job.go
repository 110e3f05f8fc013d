package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const (
	outboxRetention      = 30 * 24 * time.Hour
	outboxDeleteBatch    = 500
	outboxMaxBatchPerRun = 20
)

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxPurger
	Retention  time.Duration
	BatchSize  int
}

// NewOutboxRetentionJob purges published outbox rows older than Retention.
// Unpublished rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = outboxRetention
	}
	if job.batch <= 0 {
		job.batch = outboxDeleteBatch
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxPurger
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox_retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	for i := 0; i < outboxMaxBatchPerRun; i++ {
		rows, err := j.repo.DeletePublishedBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		deleted += rows
		if rows < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "outbox retention cleanup complete")
	return nil
}
