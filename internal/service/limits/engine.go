package limits

import (
	"strings"

	"payportal/internal/domain"
)

// Engine screens application requests before any ledger write happens.
type Engine struct {
	maxAmount      float64
	offlineMethods map[string]bool
}

func NewEngine(maxAmount float64, offlineMethods []string) *Engine {
	allowed := make(map[string]bool, len(offlineMethods))
	for _, m := range offlineMethods {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			allowed[m] = true
		}
	}
	return &Engine{maxAmount: maxAmount, offlineMethods: allowed}
}

func (e *Engine) Evaluate(req domain.ApplicationRequest) domain.LimitDecision {
	if req.Amount <= 0 {
		return domain.LimitDecision{Allowed: false, DenyReason: "amount_not_positive"}
	}
	if e.maxAmount > 0 && req.Amount > e.maxAmount {
		return domain.LimitDecision{Allowed: false, DenyReason: "amount_over_limit"}
	}
	if req.InstrumentID == "" && req.OfflineMethod == "" {
		return domain.LimitDecision{Allowed: false, DenyReason: "payment_method_missing"}
	}
	if req.InstrumentID != "" && req.OfflineMethod != "" {
		return domain.LimitDecision{Allowed: false, DenyReason: "ambiguous_payment_method"}
	}
	if req.OfflineMethod != "" && !e.offlineMethods[strings.ToLower(req.OfflineMethod)] {
		return domain.LimitDecision{Allowed: false, DenyReason: "offline_method_not_allowed"}
	}
	if req.TargetInvoiceID == "" && req.TargetSalesOrderID == "" {
		return domain.LimitDecision{Allowed: false, DenyReason: "target_missing"}
	}
	if req.TargetInvoiceID != "" && req.TargetSalesOrderID != "" {
		return domain.LimitDecision{Allowed: false, DenyReason: "ambiguous_target"}
	}
	return domain.LimitDecision{Allowed: true}
}
