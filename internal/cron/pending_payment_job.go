package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const defaultPendingMaxAge = 30 * time.Minute

type paymentReconciler interface {
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Payment, error)
	Reconcile(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
}

type PendingPaymentJobParams struct {
	Logger   *logger.Logger
	Payments paymentReconciler
	MaxAge   time.Duration
	Limit    int
}

// NewPendingPaymentJob asks the gateway about hosted payments that have been
// pending longer than MaxAge. Confirmed ones settle, declined ones fail and
// the rest stay pending for the next tick.
func NewPendingPaymentJob(params PendingPaymentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	job := &pendingPaymentJob{
		logg:     params.Logger,
		payments: params.Payments,
		maxAge:   params.MaxAge,
		limit:    params.Limit,
	}
	if job.maxAge <= 0 {
		job.maxAge = defaultPendingMaxAge
	}
	if job.limit <= 0 {
		job.limit = defaultSweepLimit
	}
	return job, nil
}

type pendingPaymentJob struct {
	logg     *logger.Logger
	payments paymentReconciler
	maxAge   time.Duration
	limit    int
}

func (j *pendingPaymentJob) Name() string { return "pending_payment_reconcile" }

func (j *pendingPaymentJob) Run(ctx context.Context) error {
	rows, err := j.payments.ListPending(ctx, j.maxAge, j.limit)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}
	var errs error
	counts := map[enums.PaymentStatus]int{}
	unreachable := 0
	for i := range rows {
		if rows[i].Method.IsOffline() {
			continue
		}
		updated, err := j.payments.Reconcile(ctx, rows[i].ID)
		if err != nil {
			if errors.Is(err, payments.ErrProviderUnavailable) {
				unreachable++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", rows[i].ID, err))
			continue
		}
		if updated != nil {
			counts[updated.Status]++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates":  len(rows),
		"completed":   counts[enums.PaymentStatusCompleted],
		"failed":      counts[enums.PaymentStatusFailed],
		"pending":     counts[enums.PaymentStatusPending],
		"unreachable": unreachable,
	}), "pending payment sweep complete")
	return errs
}
