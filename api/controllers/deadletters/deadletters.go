// Package deadletters exposes billing events the outbox publisher gave up
// on so operators can inspect and re-drive them.
package deadletters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/api/responses"
	"github.com/angelmondragon/tenant-billing/api/validators"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
)

// Store is the dead-letter side of the outbox.
type Store interface {
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

type deadEventResponse struct {
	EventID      uuid.UUID `json:"event_id"`
	EventType    string    `json:"event_type"`
	AggregateID  uuid.UUID `json:"aggregate_id"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	FailedAt     time.Time `json:"failed_at"`
}

func List(store Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		rows, err := store.List(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dead events"))
			return
		}
		out := make([]deadEventResponse, 0, len(rows))
		for _, row := range rows {
			item := deadEventResponse{
				EventID:      row.EventID,
				EventType:    string(row.EventType),
				AggregateID:  row.AggregateID,
				Reason:       string(row.ErrorReason),
				AttemptCount: row.AttemptCount,
				FailedAt:     row.FailedAt,
			}
			if row.ErrorMessage != nil {
				item.Error = *row.ErrorMessage
			}
			out = append(out, item)
		}
		responses.WriteSuccess(w, map[string]any{"events": out})
	}
}

func Requeue(store Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		eventID, err := validators.ParseUUIDParam(r, "eventID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := store.Requeue(ctx, eventID); err != nil {
			if errors.Is(err, outbox.ErrDeadEventNotFound) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "dead event not found"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeue dead event"))
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "event_id", eventID.String()), "outbox.dead_event_requeued")
		}
		responses.WriteSuccess(w, map[string]any{"event_id": eventID, "requeued": true})
	}
}
