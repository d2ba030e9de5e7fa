package limits

import (
	"testing"

	"payportal/internal/domain"
)

func TestEvaluate(t *testing.T) {
	engine := NewEngine(1000, []string{"check", "ach"})

	cases := []struct {
		name   string
		req    domain.ApplicationRequest
		reason string
	}{
		{"valid instrument payment", domain.ApplicationRequest{InstrumentID: "inst-1", TargetInvoiceID: "42", Amount: 150}, ""},
		{"valid offline payment", domain.ApplicationRequest{OfflineMethod: "Check", TargetInvoiceID: "42", Amount: 10}, ""},
		{"zero amount", domain.ApplicationRequest{InstrumentID: "inst-1", TargetInvoiceID: "42"}, "amount_not_positive"},
		{"negative amount", domain.ApplicationRequest{InstrumentID: "inst-1", TargetInvoiceID: "42", Amount: -5}, "amount_not_positive"},
		{"over limit", domain.ApplicationRequest{InstrumentID: "inst-1", TargetInvoiceID: "42", Amount: 5000}, "amount_over_limit"},
		{"no method", domain.ApplicationRequest{TargetInvoiceID: "42", Amount: 10}, "payment_method_missing"},
		{"both methods", domain.ApplicationRequest{InstrumentID: "inst-1", OfflineMethod: "check", TargetInvoiceID: "42", Amount: 10}, "ambiguous_payment_method"},
		{"unknown offline method", domain.ApplicationRequest{OfflineMethod: "barter", TargetInvoiceID: "42", Amount: 10}, "offline_method_not_allowed"},
		{"no target", domain.ApplicationRequest{InstrumentID: "inst-1", Amount: 10}, "target_missing"},
		{"both targets", domain.ApplicationRequest{InstrumentID: "inst-1", TargetInvoiceID: "42", TargetSalesOrderID: "7", Amount: 10}, "ambiguous_target"},
	}

	for _, tc := range cases {
		decision := engine.Evaluate(tc.req)
		if tc.reason == "" && !decision.Allowed {
			t.Errorf("%s: expected allowed, denied with %s", tc.name, decision.DenyReason)
		}
		if tc.reason != "" && (decision.Allowed || decision.DenyReason != tc.reason) {
			t.Errorf("%s: expected deny %s, got %+v", tc.name, tc.reason, decision)
		}
	}
}
