package capture

import (
	"context"

	"payportal/internal/domain"
)

// VendorClient abstracts the gateway's hosted-widget SDK. One client is
// bound to one tokenization session; InitFrame mounts the secure surface
// and returns once its loaded signal fires (or ctx expires). Callbacks
// registered through OnApproval race against teardown, which is why every
// callback must pass the FlowGuard before acting.
type VendorClient interface {
	InitFrame(ctx context.Context) error
	OnApproval(onApproved func(domain.CaptureResult), onRejected func(reason string)) (unsubscribe func())
	SubmitEvents(ctx context.Context) error
	Destroy()
}

// VendorFactory builds a VendorClient for a session id.
type VendorFactory func(sessionID string) (VendorClient, error)

// ApprovalSink receives the capture result of the flow that won the guard.
// Satisfied by the verification sequencer.
type ApprovalSink interface {
	CaptureApproved(ctx context.Context, customerID, sessionID string, result domain.CaptureResult)
}

// Auditor appends flow events to the portal audit trail. Satisfied by the
// store.
type Auditor interface {
	AppendEvent(eventType domain.EventType, customerID string, payload map[string]interface{}) domain.Event
}
