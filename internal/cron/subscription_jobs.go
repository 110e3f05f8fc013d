package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tenant-billing/internal/subscriptions"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const (
	defaultSweepLimit    = 200
	defaultExpiryLead    = 7 * 24 * time.Hour
	systemActor          = "system"
	expiryJobName        = "subscription_expiry"
	expiryWarningJobName = "subscription_expiry_warning"
)

type subscriptionSweeper interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	ListExpiringWithin(ctx context.Context, now time.Time, lead time.Duration, limit int) ([]models.Subscription, error)
	Expire(ctx context.Context, subscriptionID uuid.UUID, reason, actor string) (*models.Subscription, error)
	NotifyExpiring(ctx context.Context, subscriptionID uuid.UUID) (bool, error)
}

type SubscriptionJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionSweeper
	Limit         int
	// Lead is how far ahead of expiry the warning is sent.
	Lead time.Duration
	Now  func() time.Time
}

type subscriptionJobs struct {
	logg  *logger.Logger
	subs  subscriptionSweeper
	limit int
	lead  time.Duration
	now   func() time.Time
}

func newSubscriptionJobs(params SubscriptionJobParams) (*subscriptionJobs, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	j := &subscriptionJobs{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		limit: params.Limit,
		lead:  params.Lead,
		now:   params.Now,
	}
	if j.limit <= 0 {
		j.limit = defaultSweepLimit
	}
	if j.lead <= 0 {
		j.lead = defaultExpiryLead
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

// NewSubscriptionExpiryJob expires active subscriptions whose period ended.
func NewSubscriptionExpiryJob(params SubscriptionJobParams) (Job, error) {
	j, err := newSubscriptionJobs(params)
	if err != nil {
		return nil, err
	}
	return &subscriptionExpiryJob{j}, nil
}

// NewSubscriptionExpiryWarningJob queues subscription.expiring events for
// subscriptions ending within the lead time.
func NewSubscriptionExpiryWarningJob(params SubscriptionJobParams) (Job, error) {
	j, err := newSubscriptionJobs(params)
	if err != nil {
		return nil, err
	}
	return &subscriptionExpiryWarningJob{j}, nil
}

type subscriptionExpiryJob struct{ *subscriptionJobs }

func (j *subscriptionExpiryJob) Name() string { return expiryJobName }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	rows, err := j.subs.ListExpired(ctx, j.now().UTC(), j.limit)
	if err != nil {
		return fmt.Errorf("list expired subscriptions: %w", err)
	}
	var errs error
	expired := 0
	for i := range rows {
		if _, err := j.subs.Expire(ctx, rows[i].ID, subscriptions.ReasonExpired, systemActor); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", rows[i].ID, err))
			continue
		}
		expired++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"expired":    expired,
	}), "subscription expiry sweep complete")
	return errs
}

type subscriptionExpiryWarningJob struct{ *subscriptionJobs }

func (j *subscriptionExpiryWarningJob) Name() string { return expiryWarningJobName }

func (j *subscriptionExpiryWarningJob) Run(ctx context.Context) error {
	rows, err := j.subs.ListExpiringWithin(ctx, j.now().UTC(), j.lead, j.limit)
	if err != nil {
		return fmt.Errorf("list expiring subscriptions: %w", err)
	}
	var errs error
	warned := 0
	for i := range rows {
		emitted, err := j.subs.NotifyExpiring(ctx, rows[i].ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("warn %s: %w", rows[i].ID, err))
			continue
		}
		if emitted {
			warned++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"warned":     warned,
		"lead":       j.lead.String(),
	}), "subscription expiry warning sweep complete")
	return errs
}
