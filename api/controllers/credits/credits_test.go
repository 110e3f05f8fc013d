package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenant-billing/api/middleware"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	"github.com/angelmondragon/tenant-billing/internal/ledger"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/pagination"
)

type stubLedger struct {
	balance  int64
	params   pagination.Params
	adjusted ledger.AdjustInput
	page     *ledger.HistoryPage
}

func (s *stubLedger) Balance(context.Context, uuid.UUID) (int64, error) { return s.balance, nil }

func (s *stubLedger) History(_ context.Context, _ uuid.UUID, params pagination.Params) (*ledger.HistoryPage, error) {
	s.params = params
	return s.page, nil
}

func (s *stubLedger) Adjust(_ context.Context, input ledger.AdjustInput) (ledger.Result, error) {
	s.adjusted = input
	return ledger.Result{Balance: s.balance + input.Delta, TransactionID: uuid.New(), Sequence: 7}, nil
}

func (s *stubLedger) Verify(context.Context, uuid.UUID) error { return nil }

type stubConsumer struct {
	units int64
	actor string
	err   error
}

func (s *stubConsumer) Consume(_ context.Context, _ uuid.UUID, units int64, _ string, actor string) (ledger.Result, error) {
	s.units = units
	s.actor = actor
	if s.err != nil {
		return ledger.Result{}, s.err
	}
	return ledger.Result{Balance: 90, TransactionID: uuid.New(), Sequence: 3}, nil
}

func withActor(req *http.Request, actor authz.Actor) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func member(tenantID uuid.UUID) authz.Actor {
	return authz.Actor{UserID: uuid.New(), TenantID: tenantID, Role: enums.ActorRoleMember}
}

func TestBalance(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil), member(uuid.New()))
	resp := httptest.NewRecorder()
	Balance(&stubLedger{balance: 140}, nil)(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			Balance int64 `json:"balance"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Balance != 140 {
		t.Fatalf("expected 140, got %d", envelope.Data.Balance)
	}
}

func TestTransactionsPassesCursor(t *testing.T) {
	svc := &stubLedger{page: &ledger.HistoryPage{
		Transactions: []models.CreditTransaction{{ID: uuid.New(), Sequence: 2, Amount: -10, BalanceAfter: 90, Type: enums.CreditTransactionUsage}},
		NextCursor:   "next",
	}}
	cursor := pagination.EncodeCursor(pagination.Cursor{Position: 3, ID: uuid.New()})
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/credits/transactions?limit=1&cursor="+cursor, nil), member(uuid.New()))
	resp := httptest.NewRecorder()
	Transactions(svc, nil)(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.params.Limit != 1 || svc.params.Cursor != cursor {
		t.Fatalf("unexpected params %+v", svc.params)
	}
	var envelope struct {
		Data struct {
			Transactions []transactionResponse `json:"transactions"`
			NextCursor   string                `json:"next_cursor"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Transactions) != 1 || envelope.Data.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", envelope.Data)
	}
}

func TestTransactionsRejectsMalformedCursor(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/credits/transactions?cursor=!!!", nil), member(uuid.New()))
	resp := httptest.NewRecorder()
	Transactions(&stubLedger{}, nil)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestTransactionsRejectsOversizedLimit(t *testing.T) {
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/credits/transactions?limit=1000", nil), member(uuid.New()))
	resp := httptest.NewRecorder()
	Transactions(&stubLedger{}, nil)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestConsume(t *testing.T) {
	svc := &stubConsumer{}
	actor := member(uuid.New())
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", strings.NewReader(`{"units":10,"description":"report export"}`)), actor)
	resp := httptest.NewRecorder()
	Consume(svc, nil)(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.units != 10 || svc.actor != actor.String() {
		t.Fatalf("unexpected consume call units=%d actor=%s", svc.units, svc.actor)
	}
}

func TestConsumeInsufficientCredits(t *testing.T) {
	svc := &stubConsumer{err: pkgerrors.New(pkgerrors.CodeInsufficientCredit, "insufficient credits")}
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/credits/consume", strings.NewReader(`{"units":500,"description":"bulk"}`)), member(uuid.New()))
	resp := httptest.NewRecorder()
	Consume(svc, nil)(resp, req)
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.Code)
	}
}

func TestAdminAdjust(t *testing.T) {
	svc := &stubLedger{balance: 50}
	tenantID := uuid.New()
	admin := authz.Actor{UserID: uuid.New(), Role: enums.ActorRoleBillingAdmin}
	body := `{"tenant_id":"` + tenantID.String() + `","delta":-20,"description":"duplicate grant"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/admin/credits/adjust", strings.NewReader(body)), admin)
	resp := httptest.NewRecorder()
	AdminAdjust(svc, nil)(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.adjusted.TenantID != tenantID || svc.adjusted.Delta != -20 || svc.adjusted.Actor != admin.String() {
		t.Fatalf("unexpected adjust %+v", svc.adjusted)
	}
}

func TestAdminAdjustDeniedForTenantAdmin(t *testing.T) {
	svc := &stubLedger{}
	tenantID := uuid.New()
	body := `{"tenant_id":"` + tenantID.String() + `","delta":100,"description":"gift"}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/admin/credits/adjust", strings.NewReader(body)), authz.Actor{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     enums.ActorRoleTenantAdmin,
	})
	resp := httptest.NewRecorder()
	AdminAdjust(svc, nil)(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if svc.adjusted.TenantID != uuid.Nil {
		t.Fatal("adjust must not run")
	}
}
