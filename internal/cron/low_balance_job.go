package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
	"github.com/angelmondragon/tenant-billing/pkg/outbox/payloads"
)

const defaultLowBalanceThreshold int64 = 50

type balanceLister interface {
	ListBalancesBelow(ctx context.Context, threshold int64, limit int) ([]models.CreditBalance, error)
}

type dedupEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type LowBalanceJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Balances  balanceLister
	Outbox    dedupEmitter
	Threshold int64
	Limit     int
	Now       func() time.Time
}

// NewLowBalanceJob emits credits.low_balance for tenants under the threshold,
// at most once per tenant per UTC day.
func NewLowBalanceJob(params LowBalanceJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Balances == nil {
		return nil, fmt.Errorf("balance repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	job := &lowBalanceJob{
		logg:      params.Logger,
		db:        params.DB,
		balances:  params.Balances,
		outbox:    params.Outbox,
		threshold: params.Threshold,
		limit:     params.Limit,
		now:       params.Now,
	}
	if job.threshold <= 0 {
		job.threshold = defaultLowBalanceThreshold
	}
	if job.limit <= 0 {
		job.limit = defaultSweepLimit
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

type lowBalanceJob struct {
	logg      *logger.Logger
	db        txRunner
	balances  balanceLister
	outbox    dedupEmitter
	threshold int64
	limit     int
	now       func() time.Time
}

func (j *lowBalanceJob) Name() string { return "low_balance_alert" }

func (j *lowBalanceJob) Run(ctx context.Context) error {
	rows, err := j.balances.ListBalancesBelow(ctx, j.threshold, j.limit)
	if err != nil {
		return fmt.Errorf("list low balances: %w", err)
	}
	now := j.now().UTC()
	day := now.Format("2006-01-02")
	var errs error
	alerted := 0
	for i := range rows {
		bal := rows[i]
		tenantID := bal.TenantID
		var emitted bool
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			emitted, err = j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCreditsLowBalance,
				AggregateType: enums.AggregateCreditBalance,
				AggregateID:   tenantID,
				Actor:         &outbox.ActorRef{TenantID: &tenantID, Role: string(enums.ActorRoleSystem)},
				DedupKey:      fmt.Sprintf("%s:%s:%s", enums.EventCreditsLowBalance, tenantID, day),
				OccurredAt:    now,
				Data: payloads.LowBalanceEvent{
					TenantID:  tenantID,
					Balance:   bal.Balance,
					Threshold: j.threshold,
				},
			})
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("low balance alert %s: %w", tenantID, err))
			continue
		}
		if emitted {
			alerted++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"alerted":    alerted,
		"threshold":  j.threshold,
	}), "low balance sweep complete")
	return errs
}
