package deadletters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/outbox"
)

type stubStore struct {
	rows     []models.OutboxDLQ
	limit    int
	requeued uuid.UUID
	err      error
}

func (s *stubStore) List(_ context.Context, limit int) ([]models.OutboxDLQ, error) {
	s.limit = limit
	return s.rows, nil
}

func (s *stubStore) Requeue(_ context.Context, eventID uuid.UUID) error {
	s.requeued = eventID
	return s.err
}

func withEventID(req *http.Request, id string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("eventID", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestListReturnsDeadEvents(t *testing.T) {
	msg := "permission denied"
	store := &stubStore{rows: []models.OutboxDLQ{{
		EventID:      uuid.New(),
		EventType:    enums.EventInvoiceIssued,
		AggregateID:  uuid.New(),
		ErrorReason:  enums.OutboxDLQReasonNonRetryable,
		ErrorMessage: &msg,
		AttemptCount: 1,
		FailedAt:     time.Now().UTC(),
	}}}
	rec := httptest.NewRecorder()
	List(store, nil)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/outbox/dead?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if store.limit != 5 {
		t.Fatalf("expected limit 5, got %d", store.limit)
	}
	var envelope struct {
		Data struct {
			Events []deadEventResponse `json:"events"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Events) != 1 || envelope.Data.Events[0].Error != msg || envelope.Data.Events[0].Reason != "non_retryable" {
		t.Fatalf("unexpected events %+v", envelope.Data.Events)
	}
}

func TestRequeue(t *testing.T) {
	id := uuid.New()
	store := &stubStore{}
	rec := httptest.NewRecorder()
	Requeue(store, nil)(rec, withEventID(httptest.NewRequest(http.MethodPost, "/", nil), id.String()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if store.requeued != id {
		t.Fatalf("expected %s requeued, got %s", id, store.requeued)
	}
}

func TestRequeueUnknownEvent(t *testing.T) {
	store := &stubStore{err: outbox.ErrDeadEventNotFound}
	rec := httptest.NewRecorder()
	Requeue(store, nil)(rec, withEventID(httptest.NewRequest(http.MethodPost, "/", nil), uuid.NewString()))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequeueRejectsBadID(t *testing.T) {
	rec := httptest.NewRecorder()
	Requeue(&stubStore{}, nil)(rec, withEventID(httptest.NewRequest(http.MethodPost, "/", nil), "nope"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
