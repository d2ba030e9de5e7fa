package apply

import (
	"context"
	"fmt"
	"log"
	"strings"

	"payportal/internal/domain"
)

// Ledger is the slice of the ledger client the engine drives.
type Ledger interface {
	Transform(ctx context.Context, targetKind, targetID, tranKind string, payload map[string]interface{}) (string, error)
	CreateTransaction(ctx context.Context, tranKind string, payload map[string]interface{}) (string, error)
	PatchApplyLine(ctx context.Context, tranKind, id, lineRef string, amount float64) error
	GetInvoice(ctx context.Context, id string) (domain.Invoice, error)
	GetDeposit(ctx context.Context, id string) (domain.Deposit, error)
	GetTransaction(ctx context.Context, tranKind, id string) (domain.LedgerTransaction, error)
}

type Auditor interface {
	AppendEvent(eventType domain.EventType, customerID string, payload map[string]interface{}) domain.Event
}

// recognizedRejections are the ledger error classes that mean the atomic
// transform could not auto-apply and the multi-step path should take over.
// Anything else propagates untouched.
var recognizedRejections = []string{
	"cannot be automatically applied",
	"nothing to apply",
	"no open transactions",
}

func recognizedRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range recognizedRejections {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Engine writes payments and deposits into the ledger and applies them to
// invoices or sales orders, preferring the single-call transform and
// falling back to create-then-patch when the ledger says it cannot
// auto-apply.
type Engine struct {
	ledger  Ledger
	auditor Auditor
}

func NewEngine(ledger Ledger, auditor Auditor) *Engine {
	return &Engine{ledger: ledger, auditor: auditor}
}

func (e *Engine) Apply(ctx context.Context, req domain.ApplicationRequest) (domain.ApplicationResult, error) {
	if req.Amount <= 0 {
		return domain.ApplicationResult{}, fmt.Errorf("%w: amount must be positive", domain.ErrApplyRejected)
	}
	if !req.UndepositedFunds && req.Account == "" {
		return domain.ApplicationResult{}, fmt.Errorf("%w: a deposit account is required when not using undeposited funds", domain.ErrApplyRejected)
	}

	targetKind, targetID := target(req)
	if targetID == "" {
		return domain.ApplicationResult{}, fmt.Errorf("%w: no target invoice or sales order", domain.ErrApplyRejected)
	}
	tranKind := "payment"
	if req.AsDeposit || req.TargetSalesOrderID != "" {
		tranKind = "deposit"
	}
	payload := buildPayload(req)

	id, err := e.tryTransform(ctx, targetKind, targetID, tranKind, payload)
	if err == nil {
		e.audited(req, id, domain.ApplyModeTransform, tranKind)
		return domain.ApplicationResult{ID: id, Mode: domain.ApplyModeTransform}, nil
	}
	if !recognizedRejection(err) {
		return domain.ApplicationResult{}, fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}

	log.Printf("transform rejected for %s %s, taking direct path: %v", targetKind, targetID, err)
	e.auditor.AppendEvent(domain.EventApplyFellBack, "", map[string]interface{}{
		"target_kind": targetKind,
		"target_id":   targetID,
		"reason":      err.Error(),
	})

	id, err = e.applyDirect(ctx, targetID, tranKind, req.Amount, payload)
	if err != nil {
		return domain.ApplicationResult{}, err
	}
	e.audited(req, id, domain.ApplyModeDirect, tranKind)
	return domain.ApplicationResult{ID: id, Mode: domain.ApplyModeDirect}, nil
}

// tryTransform is the atomic path: one ledger call creates the transaction
// and applies it to the target.
func (e *Engine) tryTransform(ctx context.Context, targetKind, targetID, tranKind string, payload map[string]interface{}) (string, error) {
	return e.ledger.Transform(ctx, targetKind, targetID, tranKind, payload)
}

// applyDirect is the multi-step path: create the transaction unattached,
// locate the apply line referencing the target, patch it to applied.
func (e *Engine) applyDirect(ctx context.Context, targetID, tranKind string, amount float64, payload map[string]interface{}) (string, error) {
	id, err := e.ledger.CreateTransaction(ctx, tranKind, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}

	txn, err := e.ledger.GetTransaction(ctx, tranKind, id)
	if err != nil {
		return "", fmt.Errorf("%w: created %s %s but could not read it back: %v", domain.ErrApplyRejected, tranKind, id, err)
	}
	lineRef := ""
	for _, line := range txn.ApplyLines {
		if line.TargetID == targetID {
			lineRef = line.LineRef
			break
		}
	}
	if lineRef == "" {
		return "", fmt.Errorf("%w: %s %s has no apply line referencing %s", domain.ErrApplyRejected, tranKind, id, targetID)
	}

	if err := e.ledger.PatchApplyLine(ctx, tranKind, id, lineRef, amount); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}
	return id, nil
}

// ApplyDeposit links an existing unapplied deposit to an invoice. The
// invoice balance is re-fetched at call time; a cached copy is never
// trusted.
func (e *Engine) ApplyDeposit(ctx context.Context, depositID, invoiceID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrApplyRejected)
	}

	invoice, err := e.ledger.GetInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}
	if invoice.AmountRemaining <= domain.InvoiceEpsilon {
		return fmt.Errorf("%w: invoice %s", domain.ErrNoRemainingBalance, invoiceID)
	}

	deposit, err := e.ledger.GetDeposit(ctx, depositID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}
	if deposit.AppliedTo != nil {
		return fmt.Errorf("%w: deposit %s is already applied to %s", domain.ErrApplyRejected, depositID, *deposit.AppliedTo)
	}

	txn, err := e.ledger.GetTransaction(ctx, "deposit", depositID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}
	lineRef := ""
	for _, line := range txn.ApplyLines {
		if line.TargetID == invoiceID {
			lineRef = line.LineRef
			break
		}
	}
	if lineRef == "" {
		return fmt.Errorf("%w: deposit %s has no apply line referencing invoice %s", domain.ErrApplyRejected, depositID, invoiceID)
	}

	if err := e.ledger.PatchApplyLine(ctx, "deposit", depositID, lineRef, amount); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrApplyRejected, err)
	}
	e.auditor.AppendEvent(domain.EventDepositApplied, invoice.CustomerID, map[string]interface{}{
		"deposit_id": depositID,
		"invoice_id": invoiceID,
		"amount":     amount,
	})
	return nil
}

func (e *Engine) audited(req domain.ApplicationRequest, id string, mode domain.ApplyMode, tranKind string) {
	eventType := domain.EventPaymentApplied
	if tranKind == "deposit" {
		eventType = domain.EventDepositApplied
	}
	e.auditor.AppendEvent(eventType, "", map[string]interface{}{
		"id":          id,
		"mode":        string(mode),
		"amount":      req.Amount,
		"external_id": req.ExternalID,
	})
}

func target(req domain.ApplicationRequest) (kind, id string) {
	if req.TargetInvoiceID != "" {
		return "invoice", req.TargetInvoiceID
	}
	if req.TargetSalesOrderID != "" {
		return "salesorder", req.TargetSalesOrderID
	}
	return "", ""
}

func buildPayload(req domain.ApplicationRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"amount":      req.Amount,
		"trandate":    req.TranDate,
		"external_id": req.ExternalID,
	}
	if req.Memo != "" {
		payload["memo"] = req.Memo
	}
	if req.Account != "" {
		payload["account"] = req.Account
	}
	if req.InstrumentID != "" {
		payload["payment_option"] = req.InstrumentID
	}
	if req.OfflineMethod != "" {
		payload["payment_method"] = req.OfflineMethod
	}
	_, targetID := target(req)
	if targetID != "" {
		payload["target_id"] = targetID
	}
	return payload
}
