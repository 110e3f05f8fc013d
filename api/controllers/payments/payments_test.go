package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/api/middleware"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	paymentsvc "github.com/angelmondragon/tenant-billing/internal/payments"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
)

type stubPayments struct {
	initiated paymentsvc.InitiateInput
	proof     paymentsvc.ProofInput
	proofBody string
	cancelled uuid.UUID
	approved  paymentsvc.ApproveInput
	rejected  paymentsvc.RejectInput
}

func (s *stubPayments) Initiate(_ context.Context, input paymentsvc.InitiateInput) (*paymentsvc.InitiateResult, error) {
	s.initiated = input
	payment := &models.Payment{
		ID:           uuid.New(),
		TenantID:     input.TenantID,
		Status:       enums.PaymentStatusPending,
		Amount:       decimal.RequireFromString("25.00"),
		CurrencyCode: "USD",
	}
	res := &paymentsvc.InitiateResult{Payment: payment}
	if !input.Method.IsOffline() {
		res.Checkout = &paymentsvc.CheckoutMaterial{Gateway: input.Gateway, RedirectURL: "https://checkout.example.com/x", Token: "tok"}
	}
	return res, nil
}

func (s *stubPayments) AttachProof(_ context.Context, input paymentsvc.ProofInput) (*models.Payment, error) {
	s.proof = input
	if input.Document != nil {
		raw, _ := io.ReadAll(input.Document)
		s.proofBody = string(raw)
	}
	ref := input.Reference
	return &models.Payment{ID: input.PaymentID, TenantID: input.TenantID, ProofReference: &ref}, nil
}

func (s *stubPayments) Cancel(_ context.Context, tenantID, paymentID uuid.UUID, _ authz.Actor) (*models.Payment, error) {
	s.cancelled = paymentID
	return &models.Payment{ID: paymentID, TenantID: tenantID, Status: enums.PaymentStatusCancelled}, nil
}

func (s *stubPayments) Get(_ context.Context, actor authz.Actor, paymentID uuid.UUID) (*models.Payment, error) {
	return &models.Payment{ID: paymentID, TenantID: actor.TenantID}, nil
}

func (s *stubPayments) ListByTenant(_ context.Context, _ authz.Actor, tenantID uuid.UUID, limit int) ([]models.Payment, error) {
	return []models.Payment{{ID: uuid.New(), TenantID: tenantID}}, nil
}

func (s *stubPayments) Approve(_ context.Context, input paymentsvc.ApproveInput) (*paymentsvc.SettleResult, error) {
	s.approved = input
	return &paymentsvc.SettleResult{
		Payment:      &models.Payment{ID: input.PaymentID, Status: enums.PaymentStatusCompleted},
		CreditsAdded: 120,
		Invoice:      &models.Invoice{InvoiceNumber: "INV-202605-000001"},
	}, nil
}

func (s *stubPayments) Reject(_ context.Context, input paymentsvc.RejectInput) (*models.Payment, error) {
	s.rejected = input
	return &models.Payment{ID: input.PaymentID, Status: enums.PaymentStatusFailed}, nil
}

func (s *stubPayments) ProofURL(context.Context, authz.Actor, uuid.UUID) (string, error) {
	return "https://storage.example.com/signed", nil
}

func asTenantAdmin(req *http.Request, tenantID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), authz.Actor{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     enums.ActorRoleTenantAdmin,
	}))
}

func asBillingAdmin(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), authz.Actor{
		UserID: uuid.New(),
		Role:   enums.ActorRoleBillingAdmin,
	}))
}

func TestPurchaseUsesTokenTenant(t *testing.T) {
	svc := &stubPayments{}
	tenantID := uuid.New()
	planID := uuid.New()
	body := `{"plan_id":"` + planID.String() + `","method":"hosted_gateway","gateway":"stripe","buyer":{"name":"Ada","email":"ada@example.com"}}`
	req := asTenantAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body)), tenantID)
	resp := httptest.NewRecorder()
	Purchase(svc, nil)(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.initiated.TenantID != tenantID || *svc.initiated.PlanID != planID {
		t.Fatalf("unexpected input %+v", svc.initiated)
	}
	var envelope struct {
		Data purchaseResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Checkout == nil || envelope.Data.Checkout.RedirectURL == "" {
		t.Fatal("hosted purchase must return checkout material")
	}
}

func TestPurchaseRejectsTenantInBody(t *testing.T) {
	body := `{"package_id":"` + uuid.NewString() + `","method":"cash","tenant_id":"` + uuid.NewString() + `"}`
	req := asTenantAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	Purchase(&stubPayments{}, nil)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPurchaseRequiresExactlyOneItem(t *testing.T) {
	body := `{"plan_id":"` + uuid.NewString() + `","package_id":"` + uuid.NewString() + `","method":"cash"}`
	req := asTenantAdmin(httptest.NewRequest(http.MethodPost, "/api/v1/purchases", strings.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	Purchase(&stubPayments{}, nil)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPaymentProofMultipart(t *testing.T) {
	svc := &stubPayments{}
	tenantID := uuid.New()
	paymentID := uuid.New()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("reference", "TRX-778"); err != nil {
		t.Fatal(err)
	}
	part, err := mw.CreateFormFile("document", "receipt.pdf")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("%PDF-1.4"))
	mw.Close()

	router := chi.NewRouter()
	router.Post("/payments/{id}/proof", PaymentProof(svc, nil))
	req := asTenantAdmin(httptest.NewRequest(http.MethodPost, "/payments/"+paymentID.String()+"/proof", &buf), tenantID)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.proof.PaymentID != paymentID || svc.proof.TenantID != tenantID {
		t.Fatalf("unexpected proof input %+v", svc.proof)
	}
	if svc.proof.Reference != "TRX-778" || svc.proof.Filename != "receipt.pdf" || svc.proofBody != "%PDF-1.4" {
		t.Fatalf("unexpected proof contents %+v body=%q", svc.proof, svc.proofBody)
	}
}

func TestPaymentCancel(t *testing.T) {
	svc := &stubPayments{}
	paymentID := uuid.New()
	router := chi.NewRouter()
	router.Post("/payments/{id}/cancel", PaymentCancel(svc, nil))
	req := asTenantAdmin(httptest.NewRequest(http.MethodPost, "/payments/"+paymentID.String()+"/cancel", nil), uuid.New())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.cancelled != paymentID {
		t.Fatal("cancel not forwarded")
	}
}

func TestAdminApproveWithoutBody(t *testing.T) {
	svc := &stubPayments{}
	paymentID := uuid.New()
	router := chi.NewRouter()
	router.Post("/admin/payments/{id}/approve", AdminApprove(svc, nil))
	req := asBillingAdmin(httptest.NewRequest(http.MethodPost, "/admin/payments/"+paymentID.String()+"/approve", nil))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.approved.PaymentID != paymentID || svc.approved.Actor.Role != enums.ActorRoleBillingAdmin {
		t.Fatalf("unexpected approve input %+v", svc.approved)
	}
	var envelope struct {
		Data approveResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.CreditsAdded != 120 || envelope.Data.InvoiceNumber != "INV-202605-000001" {
		t.Fatalf("unexpected response %+v", envelope.Data)
	}
}

func TestAdminRejectRequiresReason(t *testing.T) {
	svc := &stubPayments{}
	router := chi.NewRouter()
	router.Post("/admin/payments/{id}/reject", AdminReject(svc, nil))

	req := asBillingAdmin(httptest.NewRequest(http.MethodPost, "/admin/payments/"+uuid.NewString()+"/reject", strings.NewReader(`{}`)))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req = asBillingAdmin(httptest.NewRequest(http.MethodPost, "/admin/payments/"+uuid.NewString()+"/reject", strings.NewReader(`{"reason":"transfer not received"}`)))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.rejected.Reason != "transfer not received" {
		t.Fatalf("unexpected reason %q", svc.rejected.Reason)
	}
}
