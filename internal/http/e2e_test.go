package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"payportal/internal/config"
	"payportal/internal/gateway"
	"payportal/internal/integrations/telegram"
	"payportal/internal/ledger"
	applysvc "payportal/internal/service/apply"
	"payportal/internal/service/capture"
	"payportal/internal/service/limits"
	"payportal/internal/service/session"
	"payportal/internal/service/verify"
	"payportal/internal/store/memory"
)

// fakeGateway fakes the tokenization vendor: sessions, widget lifecycle,
// probe authorizations and voids.
type fakeGateway struct {
	mu          sync.Mutex
	sessions    int
	lastSession string
	saleCalls   int
	voidCalls   int
	declineAuth bool
}

func (f *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sessions++
		f.lastSession = fmt.Sprintf("sess-%d", f.sessions)
		session := f.lastSession
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": session})
	})
	mux.HandleFunc("/widget/init", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/widget/submit", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("/sale", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.saleCalls++
		decline := f.declineAuth
		f.mu.Unlock()
		if decline {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte("card declined: do not honor"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "probe-1"})
	})
	mux.HandleFunc("/void", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.voidCalls++
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	return mux
}

func (f *fakeGateway) currentSession() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSession
}

func (f *fakeGateway) counts() (sales, voids int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saleCalls, f.voidCalls
}

// fakeLedger fakes the external ledger: credential creation, the transform
// path, the direct create+patch path, and invoice reads.
type fakeLedger struct {
	mu              sync.Mutex
	rejectTransform string
	methods         int
	invoiceTotal    float64
	invoicePaid     float64
	txns            int
	pendingTarget   string
}

func (f *fakeLedger) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/payment-methods", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.methods++
		id := fmt.Sprintf("inst-%d", f.methods)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"instrument_id": id})
	})
	mux.HandleFunc("/invoice/42/transform/payment", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.rejectTransform != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(f.rejectTransform))
			return
		}
		amount, _ := payload["amount"].(float64)
		f.invoicePaid += amount
		f.txns++
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("pay-%d", f.txns)})
	})
	mux.HandleFunc("/payment", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.txns++
		id := fmt.Sprintf("pay-%d", f.txns)
		f.pendingTarget, _ = payload["target_id"].(string)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("/invoice/42", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		inv := map[string]interface{}{
			"invoice_id":       "42",
			"customer_id":      "cust-1",
			"total":            f.invoiceTotal,
			"amount_paid":      f.invoicePaid,
			"amount_remaining": f.invoiceTotal - f.invoicePaid,
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(inv)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(path, "/payment/"):
			f.mu.Lock()
			target := f.pendingTarget
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"id": strings.TrimPrefix(path, "/payment/"),
				"apply_lines": []map[string]interface{}{
					{"line_ref": "line-1", "target_id": target},
				},
			})
		case r.Method == http.MethodPatch && strings.Contains(path, "/apply/"):
			var payload map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			amount, _ := payload["amount"].(float64)
			f.mu.Lock()
			f.invoicePaid += amount
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return mux
}

func (f *fakeLedger) remaining() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoiceTotal - f.invoicePaid
}

func (f *fakeLedger) methodCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.methods
}

type fixture struct {
	api     *httptest.Server
	gw      *fakeGateway
	lg      *fakeLedger
	client  *http.Client
	token   string
	baseURL string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gw := &fakeGateway{}
	gwSrv := httptest.NewServer(gw.handler())
	t.Cleanup(gwSrv.Close)

	lg := &fakeLedger{invoiceTotal: 150.00}
	lgSrv := httptest.NewServer(lg.handler())
	t.Cleanup(lgSrv.Close)

	cfg := config.Config{
		AdminUsername:        "admin",
		AdminPassword:        "pw",
		JWTSecret:            "jwt-secret",
		GatewayBaseURL:       gwSrv.URL,
		GatewayTimeout:       2 * time.Second,
		GatewayProbeAmount:   0.01,
		GatewayWebhookSecret: "hook-secret",
		LedgerBaseURL:        lgSrv.URL,
		LedgerTimeout:        2 * time.Second,
		WidgetMountTimeout:   time.Second,
		MaxPaymentAmount:     100000,
		DefaultUndeposited:   true,
	}

	store := memory.NewStore()
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout, 0, 100*time.Millisecond, time.Second)
	ledgerClient := ledger.NewClient(cfg.LedgerBaseURL, cfg.LedgerTimeout, 0, 100*time.Millisecond, time.Second)
	notifier := telegram.NewNotifier("", "")
	sessions := session.NewManager(gatewayClient)
	registry := capture.NewRegistry()
	sequencer := verify.NewSequencer(gatewayClient, ledgerClient, store, notifier, cfg.GatewayProbeAmount)
	host := capture.NewHost(sessions, capture.NewFlowGuard(), registry.Factory(gatewayClient), sequencer, store, cfg.WidgetMountTimeout)
	limitsEngine := limits.NewEngine(cfg.MaxPaymentAmount, []string{"check", "ach"})
	applyEngine := applysvc.NewEngine(ledgerClient, store)

	srv := NewServer(cfg, store, host, registry, limitsEngine, applyEngine, notifier)
	api := httptest.NewServer(srv.Router())
	t.Cleanup(api.Close)

	fx := &fixture{
		api:     api,
		gw:      gw,
		lg:      lg,
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: api.URL,
	}

	login := fx.postJSON(t, "/admin/login", map[string]string{"username": "admin", "password": "pw"}, "")
	fx.token = strField(t, login, "token")
	if fx.token == "" {
		t.Fatal("expected admin token")
	}
	return fx
}

func (fx *fixture) postJSON(t *testing.T, path string, body interface{}, token string) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, fx.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 400 {
		t.Fatalf("POST %s returned %d: %v", path, resp.StatusCode, out)
	}
	return out
}

func (fx *fixture) getJSON(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fx.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+fx.token)
	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 400 {
		t.Fatalf("GET %s returned %d: %v", path, resp.StatusCode, out)
	}
	return out
}

func (fx *fixture) webhook(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, fx.baseURL+"/gateway/events", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", "hook-secret")
	resp, err := fx.client.Do(req)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func strField(t *testing.T, body map[string]interface{}, key string) string {
	t.Helper()
	v, _ := body[key].(string)
	return v
}

func TestE2E_CaptureVerifyAndApplyFlow(t *testing.T) {
	fx := newFixture(t)

	// Mount the capture surface.
	open := fx.postJSON(t, "/capture/open", map[string]string{"customer_id": "cust-1"}, fx.token)
	if strField(t, open, "state") != "READY" {
		t.Fatalf("expected READY, got %v", open)
	}
	sessionID := fx.gw.currentSession()

	// Shopper submits; the approval arrives over the webhook.
	fx.postJSON(t, "/capture/submit", map[string]string{}, fx.token)
	delivered := fx.webhook(t, map[string]interface{}{
		"session_id": sessionID,
		"approved":   true,
		"token":      "tok-abc",
		"last4":      "4242",
		"brand":      "visa",
	})
	if delivered["delivered"] != true {
		t.Fatalf("expected webhook delivery, got %v", delivered)
	}

	// Probe, void, and persistence all ran.
	if sales, voids := fx.gw.counts(); sales != 1 || voids != 1 {
		t.Fatalf("expected 1 sale and 1 void, got %d/%d", sales, voids)
	}
	methods := fx.getJSON(t, "/customers/cust-1/payment-methods")
	list, _ := methods["payment_methods"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected one saved payment method, got %v", methods)
	}
	instrument := list[0].(map[string]interface{})
	instrumentID := strField(t, instrument, "instrument_id")

	// A duplicate webhook for the same flow reaches the vendor client but
	// loses the guard claim.
	fx.webhook(t, map[string]interface{}{
		"session_id": sessionID,
		"approved":   true,
		"token":      "tok-abc",
	})
	if sales, _ := fx.gw.counts(); sales != 1 {
		t.Fatalf("duplicate webhook must not re-run the probe, got %d sales", sales)
	}

	fx.postJSON(t, "/capture/close", map[string]string{}, fx.token)

	// Apply the full balance; atomic path succeeds.
	applied := fx.postJSON(t, "/payments/apply", map[string]interface{}{
		"instrument_id":     instrumentID,
		"target_invoice_id": "42",
		"amount":            150.00,
		"external_id":       "ext-100",
	}, fx.token)
	if strField(t, applied, "mode") != "transform" {
		t.Fatalf("expected transform mode, got %v", applied)
	}
	if remaining := fx.lg.remaining(); remaining != 0 {
		t.Fatalf("expected remaining 0.00, got %v", remaining)
	}
}

func TestE2E_TransformRejectionFallsBackToDirect(t *testing.T) {
	fx := newFixture(t)
	fx.lg.rejectTransform = "nothing to apply on this transaction"

	applied := fx.postJSON(t, "/payments/apply", map[string]interface{}{
		"instrument_id":     "inst-external",
		"target_invoice_id": "42",
		"amount":            150.00,
	}, fx.token)
	if strField(t, applied, "mode") != "direct" {
		t.Fatalf("expected direct mode, got %v", applied)
	}
	if remaining := fx.lg.remaining(); remaining != 0 {
		t.Fatalf("fallback must reach the same final state, remaining %v", remaining)
	}
}

func TestE2E_StaleWebhookAfterCloseIsNotDelivered(t *testing.T) {
	fx := newFixture(t)

	fx.postJSON(t, "/capture/open", map[string]string{"customer_id": "cust-1"}, fx.token)
	sessionID := fx.gw.currentSession()
	fx.postJSON(t, "/capture/close", map[string]string{}, fx.token)

	resp := fx.webhook(t, map[string]interface{}{
		"session_id": sessionID,
		"approved":   true,
		"token":      "tok-late",
	})
	if resp["delivered"] != false {
		t.Fatalf("expected undelivered stale webhook, got %v", resp)
	}
	if sales, _ := fx.gw.counts(); sales != 0 {
		t.Fatal("stale webhook must never trigger an authorization")
	}
}

func TestE2E_DeclinedProbeNeverPersists(t *testing.T) {
	fx := newFixture(t)
	fx.gw.declineAuth = true

	fx.postJSON(t, "/capture/open", map[string]string{"customer_id": "cust-1"}, fx.token)
	sessionID := fx.gw.currentSession()
	fx.postJSON(t, "/capture/submit", map[string]string{}, fx.token)
	fx.webhook(t, map[string]interface{}{
		"session_id": sessionID,
		"approved":   true,
		"token":      "tok-bad",
	})

	if fx.lg.methodCount() != 0 {
		t.Fatal("declined probe must not create a payment method")
	}
	methods := fx.getJSON(t, "/customers/cust-1/payment-methods")
	list, _ := methods["payment_methods"].([]interface{})
	if len(list) != 0 {
		t.Fatalf("expected no cached instruments, got %v", list)
	}
}
