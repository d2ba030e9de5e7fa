package domain

import "time"

type InstrumentKind string

const (
	InstrumentKindToken   InstrumentKind = "token"
	InstrumentKindOffline InstrumentKind = "offline"
)

type ApplyMode string

const (
	ApplyModeTransform ApplyMode = "transform"
	ApplyModeDirect    ApplyMode = "direct"
)

type EventType string

const (
	EventSessionCreated       EventType = "SessionCreated"
	EventWidgetMounted        EventType = "WidgetMounted"
	EventCaptureApproved      EventType = "CaptureApproved"
	EventCaptureRejected      EventType = "CaptureRejected"
	EventStaleCallbackIgnored EventType = "StaleCallbackIgnored"
	EventVerificationPassed   EventType = "VerificationPassed"
	EventVerificationFailed   EventType = "VerificationFailed"
	EventVoidFailed           EventType = "VoidFailed"
	EventInstrumentSaved      EventType = "InstrumentSaved"
	EventPaymentApplied       EventType = "PaymentApplied"
	EventDepositApplied       EventType = "DepositApplied"
	EventApplyFellBack        EventType = "ApplyFellBack"
)

// Session is a tokenization session minted by the gateway. Sessions are
// replaced, never refreshed: a new widget mount always gets a new one.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CaptureResult is what the hosted widget hands back after the shopper
// submits: an opaque token, never raw card data.
type CaptureResult struct {
	Token        string `json:"token"`
	Approved     bool   `json:"approved"`
	RejectReason string `json:"reject_reason,omitempty"`
	Last4        string `json:"last4,omitempty"`
	Brand        string `json:"brand,omitempty"`
}

// PaymentInstrument is the portal's read-through copy of a ledger payment
// method. Token is the gateway reference and never appears in API responses.
type PaymentInstrument struct {
	InstrumentID string         `json:"instrument_id"`
	CustomerID   string         `json:"customer_id"`
	Brand        string         `json:"brand,omitempty"`
	Last4        string         `json:"last4,omitempty"`
	Expiry       string         `json:"expiry,omitempty"`
	TokenFamily  string         `json:"token_family,omitempty"`
	Kind         InstrumentKind `json:"kind"`
	Token        string         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
}

type InvoiceLine struct {
	LineID string  `json:"line_id"`
	Amount float64 `json:"amount"`
}

// Invoice is authoritative ledger state; the portal re-fetches after every
// mutating call instead of trusting a cached copy.
type Invoice struct {
	InvoiceID       string        `json:"invoice_id"`
	CustomerID      string        `json:"customer_id"`
	Total           float64       `json:"total"`
	AmountPaid      float64       `json:"amount_paid"`
	AmountRemaining float64       `json:"amount_remaining"`
	Lines           []InvoiceLine `json:"lines,omitempty"`
}

// Deposit sits unapplied in the ledger until linked to an invoice.
type Deposit struct {
	DepositID  string  `json:"deposit_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
	AppliedTo  *string `json:"applied_to,omitempty"`
}

// ApplicationRequest describes one payment or deposit to write and apply.
// ExternalID is a client-generated idempotency token carried into the ledger
// write; it does not block duplicate submission but makes duplicates
// reconcilable afterwards.
type ApplicationRequest struct {
	InstrumentID       string  `json:"instrument_id,omitempty"`
	OfflineMethod      string  `json:"offline_method,omitempty"`
	TargetInvoiceID    string  `json:"target_invoice_id,omitempty"`
	TargetSalesOrderID string  `json:"target_sales_order_id,omitempty"`
	Amount             float64 `json:"amount"`
	TranDate           string  `json:"trandate"`
	Memo               string  `json:"memo,omitempty"`
	ExternalID         string  `json:"external_id"`
	UndepositedFunds   bool    `json:"undeposited_funds"`
	Account            string  `json:"account,omitempty"`
	AsDeposit          bool    `json:"as_deposit,omitempty"`
}

type ApplicationResult struct {
	ID   string    `json:"id"`
	Mode ApplyMode `json:"mode"`
}

// ApplyLine is a sub-record of a ledger payment/deposit transaction linking
// it to a specific open invoice or sales order.
type ApplyLine struct {
	LineRef  string  `json:"line_ref"`
	TargetID string  `json:"target_id"`
	Applied  bool    `json:"applied"`
	Amount   float64 `json:"amount"`
}

// LedgerTransaction is the read model of an unattached payment/deposit,
// fetched to locate the apply line for the direct path.
type LedgerTransaction struct {
	ID         string      `json:"id"`
	ApplyLines []ApplyLine `json:"apply_lines"`
}

type Event struct {
	ID         string                 `json:"event_id"`
	CustomerID string                 `json:"customer_id,omitempty"`
	Type       EventType              `json:"event_type"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"created_at"`
}

type LimitDecision struct {
	Allowed    bool   `json:"allowed"`
	DenyReason string `json:"deny_reason,omitempty"`
}

// InvoiceEpsilon bounds rounding drift on the
// amountPaid + amountRemaining == total invariant.
const InvoiceEpsilon = 0.005
