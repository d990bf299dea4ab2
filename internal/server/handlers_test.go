package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomide/paylink/backend/internal/intent"
	"github.com/tomide/paylink/backend/internal/logging"
	"github.com/tomide/paylink/backend/internal/store"
	"github.com/tomide/paylink/backend/internal/voucher"
)

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
	now     *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := store.NewMemoryStore()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	lifecycle := voucher.NewLifecycle(mem, voucher.Options{})
	lifecycle.WithClock(func() time.Time { return now })

	grammar := intent.NewGrammar(intent.DefaultRules())
	api := NewAPIHandlers(logging.Nop(), intent.NewParser(grammar), intent.NewValidator(grammar), lifecycle, nil)

	handler := NewRouter(logging.Nop(), RouterDependencies{
		Health: StoreHealthService{Store: mem},
		API:    api,
	})

	return &testEnv{handler: handler, store: mem, now: &now}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e *testEnv) createVoucher(t *testing.T, pin string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/vouchers", "creator-1", map[string]any{
		"amount":   "25.00",
		"currency": "USDC",
		"ttlHours": 24,
		"pin":      pin,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create voucher: status %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	code, _ := body["code"].(string)
	if code == "" {
		t.Fatalf("create voucher: missing code in %v", body)
	}
	return code
}

func TestHealthzOK(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestHealthzDegradedWhenStoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.store.WithError(errors.New("connection refused"))

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "degraded" {
		t.Fatalf("expected status degraded, got %v", body["status"])
	}
}

func TestParseIntentEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/intents/parse", "", map[string]any{
		"payload": "https://paylink.app/pay/alice?amount=20",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	in, ok := body["intent"].(map[string]any)
	if !ok {
		t.Fatalf("missing intent in %v", body)
	}
	if in["kind"] != "PAYMENT_REQUEST" {
		t.Errorf("kind = %v, want PAYMENT_REQUEST", in["kind"])
	}
	if in["recipientHandle"] != "@alice" {
		t.Errorf("recipientHandle = %v, want @alice", in["recipientHandle"])
	}
	if in["amount"] != "20.00" {
		t.Errorf("amount = %v, want 20.00", in["amount"])
	}
	verdict, ok := body["verdict"].(map[string]any)
	if !ok || verdict["valid"] != true {
		t.Errorf("expected valid verdict, got %v", body["verdict"])
	}
}

func TestParseIntentRequiresPayload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/intents/parse", "", map[string]any{"payload": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestParseIntentRejectsOversizedPayload(t *testing.T) {
	env := newTestEnv(t)

	huge := make([]byte, 2001)
	for i := range huge {
		huge[i] = 'a'
	}
	rec := env.do(t, http.MethodPost, "/intents/parse", "", map[string]any{"payload": string(huge)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateVoucherRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/vouchers", "", map[string]any{
		"amount":   "25.00",
		"currency": "USDC",
		"ttlHours": 24,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateVoucherRejectsBadAmount(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/vouchers", "creator-1", map[string]any{
		"amount":   "twenty",
		"currency": "USDC",
		"ttlHours": 24,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateVoucherRejectsUnknownTTL(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/vouchers", "creator-1", map[string]any{
		"amount":   "25.00",
		"currency": "USDC",
		"ttlHours": 3,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndFetchVoucher(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "")

	rec := env.do(t, http.MethodGet, "/vouchers/"+code, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ACTIVE" {
		t.Errorf("status = %v, want ACTIVE", body["status"])
	}
	if body["amount"] != "25.00" {
		t.Errorf("amount = %v, want 25.00", body["amount"])
	}
	if body["pinProtected"] != false {
		t.Errorf("pinProtected = %v, want false", body["pinProtected"])
	}
}

func TestGetVoucherNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/vouchers/NOSUCHCODE0000000000", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRedeemVoucherOnceThenConflict(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "")

	rec := env.do(t, http.MethodPost, "/vouchers/"+code+"/redeem", "redeemer-1", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("first redeem: expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "REDEEMED" {
		t.Errorf("status = %v, want REDEEMED", body["status"])
	}
	if body["redeemerId"] != "redeemer-1" {
		t.Errorf("redeemerId = %v, want redeemer-1", body["redeemerId"])
	}

	rec = env.do(t, http.MethodPost, "/vouchers/"+code+"/redeem", "redeemer-2", map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second redeem: expected 409, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["reason"] != "REDEEMED" {
		t.Errorf("reason = %v, want REDEEMED", body["reason"])
	}
}

func TestRedeemVoucherWrongPin(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "4321")

	rec := env.do(t, http.MethodPost, "/vouchers/"+code+"/redeem", "redeemer-1", map[string]any{"pin": "9999"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", rec.Code, rec.Body.String())
	}

	// The voucher must remain redeemable with the right PIN.
	rec = env.do(t, http.MethodPost, "/vouchers/"+code+"/redeem", "redeemer-1", map[string]any{"pin": "4321"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after correct pin, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRedeemExpiredVoucher(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "")

	*env.now = env.now.Add(25 * time.Hour)

	rec := env.do(t, http.MethodPost, "/vouchers/"+code+"/redeem", "redeemer-1", map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["reason"] != "EXPIRED" {
		t.Errorf("reason = %v, want EXPIRED", body["reason"])
	}
}

func TestCancelVoucherForbiddenForNonCreator(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "")

	rec := env.do(t, http.MethodPost, "/vouchers/"+code+"/cancel", "someone-else", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/vouchers/"+code+"/cancel", "creator-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["status"] != "cancelled" {
		t.Errorf("status = %v, want cancelled", body["status"])
	}
}

func TestSweepEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.createVoucher(t, "")
	env.createVoucher(t, "")

	*env.now = env.now.Add(25 * time.Hour)

	rec := env.do(t, http.MethodPost, "/internal/sweep", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["expired"] != float64(2) {
		t.Errorf("expired = %v, want 2", body["expired"])
	}
}

func TestStorageUnavailableMapsTo503(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "")
	env.store.WithError(fmt.Errorf("%w: connection reset", store.ErrUnavailable))

	rec := env.do(t, http.MethodGet, "/vouchers/"+code, "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRedeemRateLimited(t *testing.T) {
	env := newTestEnv(t)
	code := env.createVoucher(t, "1234")

	limited := NewRouter(logging.Nop(), RouterDependencies{
		API:           NewAPIHandlers(logging.Nop(), nil, nil, lifecycleFor(env), nil),
		RedeemLimiter: NewRateLimiter(1, 1),
	})

	req := func() int {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(map[string]any{"pin": "0000"})
		r := httptest.NewRequest(http.MethodPost, "/vouchers/"+code+"/redeem", &buf)
		r.Header.Set("X-User-ID", "guesser")
		r.RemoteAddr = "10.0.0.9:55555"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, r)
		return rec.Code
	}

	if got := req(); got != http.StatusForbidden {
		t.Fatalf("first attempt: expected 403, got %d", got)
	}
	if got := req(); got != http.StatusTooManyRequests {
		t.Fatalf("second attempt: expected 429, got %d", got)
	}
}

func lifecycleFor(env *testEnv) *voucher.Lifecycle {
	l := voucher.NewLifecycle(env.store, voucher.Options{})
	l.WithClock(func() time.Time { return *env.now })
	return l
}
