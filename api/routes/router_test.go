package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tenant-billing/api/controllers"
	"github.com/angelmondragon/tenant-billing/internal/authz"
	catalogsvc "github.com/angelmondragon/tenant-billing/internal/catalog"
	"github.com/angelmondragon/tenant-billing/internal/ledger"
	paymentsvc "github.com/angelmondragon/tenant-billing/internal/payments"
	pkgAuth "github.com/angelmondragon/tenant-billing/pkg/auth"
	"github.com/angelmondragon/tenant-billing/pkg/config"
	"github.com/angelmondragon/tenant-billing/pkg/db/models"
	"github.com/angelmondragon/tenant-billing/pkg/enums"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
	"github.com/angelmondragon/tenant-billing/pkg/metrics"
	"github.com/angelmondragon/tenant-billing/pkg/pagination"
	pkgredis "github.com/angelmondragon/tenant-billing/pkg/redis"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubCatalog struct{}

func (stubCatalog) ListPlans(context.Context, bool) ([]models.Plan, error) { return nil, nil }
func (stubCatalog) ListPackages(context.Context, bool) ([]models.CreditPackage, error) {
	return nil, nil
}
func (stubCatalog) CreatePlan(_ context.Context, in catalogsvc.CreatePlanInput) (*models.Plan, error) {
	return &models.Plan{ID: uuid.New(), Code: in.Code}, nil
}
func (stubCatalog) CreatePackage(_ context.Context, in catalogsvc.CreatePackageInput) (*models.CreditPackage, error) {
	return &models.CreditPackage{ID: uuid.New(), Code: in.Code}, nil
}
func (stubCatalog) RetirePlan(_ context.Context, id uuid.UUID) (*models.Plan, error) {
	return &models.Plan{ID: id}, nil
}
func (stubCatalog) RetirePackage(_ context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	return &models.CreditPackage{ID: id}, nil
}
func (stubCatalog) UpdatePlanPrice(_ context.Context, id uuid.UUID, price decimal.Decimal) (*models.Plan, error) {
	return &models.Plan{ID: id, PriceAmount: price}, nil
}

type stubPayments struct{ initiated int }

func (s *stubPayments) Initiate(_ context.Context, in paymentsvc.InitiateInput) (*paymentsvc.InitiateResult, error) {
	s.initiated++
	return &paymentsvc.InitiateResult{Payment: &models.Payment{ID: uuid.New(), TenantID: in.TenantID, Status: enums.PaymentStatusPending}}, nil
}
func (s *stubPayments) AttachProof(_ context.Context, in paymentsvc.ProofInput) (*models.Payment, error) {
	return &models.Payment{ID: in.PaymentID}, nil
}
func (s *stubPayments) Cancel(_ context.Context, _, id uuid.UUID, _ authz.Actor) (*models.Payment, error) {
	return &models.Payment{ID: id}, nil
}
func (s *stubPayments) Get(_ context.Context, _ authz.Actor, id uuid.UUID) (*models.Payment, error) {
	return &models.Payment{ID: id}, nil
}
func (s *stubPayments) ListByTenant(context.Context, authz.Actor, uuid.UUID, int) ([]models.Payment, error) {
	return nil, nil
}
func (s *stubPayments) Approve(_ context.Context, in paymentsvc.ApproveInput) (*paymentsvc.SettleResult, error) {
	return &paymentsvc.SettleResult{Payment: &models.Payment{ID: in.PaymentID, Status: enums.PaymentStatusCompleted}}, nil
}
func (s *stubPayments) Reject(_ context.Context, in paymentsvc.RejectInput) (*models.Payment, error) {
	return &models.Payment{ID: in.PaymentID}, nil
}
func (s *stubPayments) ProofURL(context.Context, authz.Actor, uuid.UUID) (string, error) {
	return "https://example.com/proof", nil
}
func (s *stubPayments) HandleCallback(context.Context, enums.Gateway, paymentsvc.Callback) (*paymentsvc.CallbackResult, error) {
	return &paymentsvc.CallbackResult{}, nil
}

type stubLedger struct{}

func (stubLedger) Balance(context.Context, uuid.UUID) (int64, error) { return 42, nil }
func (stubLedger) History(context.Context, uuid.UUID, pagination.Params) (*ledger.HistoryPage, error) {
	return &ledger.HistoryPage{}, nil
}
func (stubLedger) Adjust(context.Context, ledger.AdjustInput) (ledger.Result, error) {
	return ledger.Result{}, nil
}
func (stubLedger) Verify(context.Context, uuid.UUID) error { return nil }

type stubSubscriptions struct{}

func (stubSubscriptions) Current(context.Context, uuid.UUID) (*models.Subscription, *models.Plan, error) {
	return &models.Subscription{ID: uuid.New()}, &models.Plan{}, nil
}
func (stubSubscriptions) Cancel(_ context.Context, id uuid.UUID, _, _ string) (*models.Subscription, error) {
	return &models.Subscription{ID: id}, nil
}
func (stubSubscriptions) Suspend(_ context.Context, id uuid.UUID, _, _ string) (*models.Subscription, error) {
	return &models.Subscription{ID: id}, nil
}
func (stubSubscriptions) History(context.Context, uuid.UUID) ([]models.SubscriptionHistory, error) {
	return nil, nil
}

type stubEntitlements struct{}

func (stubEntitlements) HasFeature(context.Context, uuid.UUID, string) (bool, error) { return true, nil }
func (stubEntitlements) Consume(context.Context, uuid.UUID, int64, string, string) (ledger.Result, error) {
	return ledger.Result{Balance: 1}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "router-test-secret", Issuer: "tenant-billing", ExpirationMinutes: 5},
	}
}

type testRouter struct {
	http.Handler
	payments *stubPayments
	cfg      *config.Config
}

func newTestRouter(t *testing.T, readiness map[string]controllers.Pinger) testRouter {
	t.Helper()
	mr := miniredis.RunT(t)
	store := pkgredis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	reg := prometheus.NewRegistry()
	metrics.NewBillingMetrics(reg).Callback("stripe", "completed")

	cfg := testConfig()
	payments := &stubPayments{}
	h := NewRouter(Params{
		Config:        cfg,
		Logger:        logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard}),
		Idempotency:   store,
		Gatherer:      reg,
		Readiness:     readiness,
		Catalog:       stubCatalog{},
		Payments:      payments,
		Ledger:        stubLedger{},
		Subscriptions: stubSubscriptions{},
		Entitlements:  stubEntitlements{},
	})
	return testRouter{Handler: h, payments: payments, cfg: cfg}
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ActorRole, tenantID *uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     role,
		JTI:      uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func do(router http.Handler, method, path, token, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	router := newTestRouter(t, map[string]controllers.Pinger{"db": stubPinger{}})
	if resp := do(router, http.MethodGet, "/health/live", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("live: expected 200, got %d", resp.Code)
	}
	if resp := do(router, http.MethodGet, "/health/ready", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", resp.Code)
	}
	resp := do(router, http.MethodGet, "/metrics", "", "", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "billing_gateway_callbacks_total") {
		t.Fatalf("metrics: unexpected response %d %s", resp.Code, resp.Body.String())
	}
}

func TestReadyFailsWhenDependencyDown(t *testing.T) {
	router := newTestRouter(t, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: context.DeadlineExceeded},
	})
	if resp := do(router, http.MethodGet, "/health/ready", "", "", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestTenantRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, nil)
	for _, path := range []string{"/api/v1/credits/balance", "/api/v1/subscription", "/api/v1/catalog/plans"} {
		if resp := do(router, http.MethodGet, path, "", "", nil); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.Code)
		}
	}
}

func TestTenantRoutesRejectTenantlessTokens(t *testing.T) {
	router := newTestRouter(t, nil)
	staff := buildToken(t, router.cfg, enums.ActorRoleBillingAdmin, nil)
	if resp := do(router, http.MethodGet, "/api/v1/credits/balance", staff, "", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAdminRoutesRequireBillingAdmin(t *testing.T) {
	router := newTestRouter(t, nil)
	tenantID := uuid.New()
	paymentPath := "/api/v1/admin/payments/" + uuid.NewString() + "/approve"
	headers := map[string]string{"Idempotency-Key": "approve-1"}

	admin := buildToken(t, router.cfg, enums.ActorRoleTenantAdmin, &tenantID)
	if resp := do(router, http.MethodPost, paymentPath, admin, "", headers); resp.Code != http.StatusForbidden {
		t.Fatalf("tenant admin: expected 403, got %d", resp.Code)
	}

	staff := buildToken(t, router.cfg, enums.ActorRoleBillingAdmin, nil)
	if resp := do(router, http.MethodPost, paymentPath, staff, "", headers); resp.Code != http.StatusOK {
		t.Fatalf("billing admin: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestPurchaseIsIdempotent(t *testing.T) {
	router := newTestRouter(t, nil)
	tenantID := uuid.New()
	token := buildToken(t, router.cfg, enums.ActorRoleTenantAdmin, &tenantID)
	body := `{"package_id":"` + uuid.NewString() + `","method":"bank_transfer"}`

	if resp := do(router, http.MethodPost, "/api/v1/purchases", token, body, nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing key: expected 400, got %d", resp.Code)
	}

	headers := map[string]string{"Idempotency-Key": "purchase-1"}
	first := do(router, http.MethodPost, "/api/v1/purchases", token, body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := do(router, http.MethodPost, "/api/v1/purchases", token, body, headers)
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %s", second.Code, second.Body.String())
	}
	if router.payments.initiated != 1 {
		t.Fatalf("expected one initiate call, got %d", router.payments.initiated)
	}
}

func TestCallbacksArePublic(t *testing.T) {
	router := newTestRouter(t, nil)
	if resp := do(router, http.MethodPost, "/api/v1/callbacks/stripe", "", `{"id":"evt_1"}`, nil); resp.Code != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", resp.Code)
	}
	if resp := do(router, http.MethodGet, "/api/v1/callbacks/stripe/return?token=cs_1", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("return: expected 200, got %d", resp.Code)
	}
}
