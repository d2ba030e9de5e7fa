package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"payportal/internal/config"
	"payportal/internal/domain"
	"payportal/internal/integrations/telegram"
	applysvc "payportal/internal/service/apply"
	"payportal/internal/service/capture"
	"payportal/internal/service/limits"
	storepkg "payportal/internal/store"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

type Server struct {
	cfg         config.Config
	store       storepkg.Store
	host        *capture.Host
	registry    *capture.Registry
	limits      *limits.Engine
	applyEngine *applysvc.Engine
	notifier    *telegram.Notifier
}

func NewServer(
	cfg config.Config,
	store storepkg.Store,
	host *capture.Host,
	registry *capture.Registry,
	limitsEngine *limits.Engine,
	applyEngine *applysvc.Engine,
	notifier *telegram.Notifier,
) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		host:        host,
		registry:    registry,
		limits:      limitsEngine,
		applyEngine: applyEngine,
		notifier:    notifier,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Post("/admin/login", s.handleAdminLogin)
	r.Post("/gateway/events", s.handleGatewayEvents)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Post("/capture/open", s.handleCaptureOpen)
		protected.Post("/capture/submit", s.handleCaptureSubmit)
		protected.Post("/capture/close", s.handleCaptureClose)
		protected.Get("/capture/state", s.handleCaptureState)
		protected.Get("/customers/{customerID}/payment-methods", s.handleListPaymentMethods)
		protected.Post("/payments/apply", s.handleApplyPayment)
		protected.Post("/deposits/{depositID}/apply", s.handleApplyDeposit)
		protected.Get("/events", s.handleListEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

// handleGatewayEvents is the vendor webhook ingress. Delivery is routed to
// whichever vendor client is live for the session; the flow guard decides
// downstream whether the event still belongs to the active flow. Undeliverable
// events are acked anyway so the vendor stops retrying them.
func (s *Server) handleGatewayEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.GatewayWebhookSecret != "" && r.Header.Get("X-Webhook-Secret") != s.cfg.GatewayWebhookSecret {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	var req struct {
		SessionID    string `json:"session_id"`
		Approved     bool   `json:"approved"`
		Token        string `json:"token"`
		Last4        string `json:"last4"`
		Brand        string `json:"brand"`
		RejectReason string `json:"reject_reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	delivered := s.registry.Dispatch(req.SessionID, domain.CaptureResult{
		Token:        req.Token,
		Approved:     req.Approved,
		RejectReason: req.RejectReason,
		Last4:        req.Last4,
		Brand:        req.Brand,
	})
	if !delivered {
		s.store.AppendEvent(domain.EventStaleCallbackIgnored, "", map[string]interface{}{
			"session_id": req.SessionID,
			"source":     "webhook",
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"delivered": delivered,
	})
}

func (s *Server) handleCaptureOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID string `json:"customer_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	if err := s.host.Open(r.Context(), req.CustomerID); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrSessionCreationFailed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.host.Status())
}

func (s *Server) handleCaptureSubmit(w http.ResponseWriter, r *http.Request) {
	if err := s.host.Submit(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.host.Status())
}

func (s *Server) handleCaptureClose(w http.ResponseWriter, r *http.Request) {
	s.host.Close()
	writeJSON(w, http.StatusOK, s.host.Status())
}

func (s *Server) handleCaptureState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Status())
}

func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_methods": s.store.ListInstruments(customerID),
	})
}

func (s *Server) handleApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.ApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Account == "" && !req.UndepositedFunds {
		req.UndepositedFunds = s.cfg.DefaultUndeposited
	}
	if req.ExternalID == "" {
		req.ExternalID = uuid.NewString()
	}
	if req.TranDate == "" {
		req.TranDate = time.Now().UTC().Format("2006-01-02")
	}

	if decision := s.limits.Evaluate(req); !decision.Allowed {
		writeError(w, http.StatusUnprocessableEntity, decision.DenyReason)
		return
	}

	result, err := s.applyEngine.Apply(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	_ = s.notifier.Notify(r.Context(), fmt.Sprintf(
		"Payment of %.2f applied via %s path (transaction %s).",
		req.Amount, result.Mode, result.ID,
	))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleApplyDeposit(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositID")
	var req struct {
		InvoiceID string  `json:"invoice_id"`
		Amount    float64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}

	if err := s.applyEngine.ApplyDeposit(r.Context(), depositID, req.InvoiceID, req.Amount); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, domain.ErrNoRemainingBalance) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.store.ListEvents(limit),
	})
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid claims")
			return
		}
		subject, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func decodeJSON(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
