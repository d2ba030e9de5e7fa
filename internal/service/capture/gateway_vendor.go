package capture

import (
	"context"
	"sync"

	"payportal/internal/domain"
)

// WidgetGateway is the server-side slice of the vendor widget SDK: priming
// the hosted surface for a session and triggering its tokenization run.
// Satisfied by the gateway client.
type WidgetGateway interface {
	InitWidget(ctx context.Context, sessionID string) error
	SubmitWidget(ctx context.Context, sessionID string) error
}

// Registry routes asynchronous vendor webhook events to the vendor client
// currently subscribed for that session. Events for sessions nobody is
// subscribed to any more are simply not delivered; the caller records them
// as stale.
type Registry struct {
	mu      sync.Mutex
	vendors map[string]*gatewayVendor
}

func NewRegistry() *Registry {
	return &Registry{vendors: make(map[string]*gatewayVendor)}
}

// Factory builds VendorClients that mount through gw and receive their
// events through this registry.
func (r *Registry) Factory(gw WidgetGateway) VendorFactory {
	return func(sessionID string) (VendorClient, error) {
		return &gatewayVendor{gateway: gw, registry: r, sessionID: sessionID}, nil
	}
}

// Dispatch delivers a webhook event to the subscribed vendor client for
// sessionID. It reports false when no live subscription exists.
func (r *Registry) Dispatch(sessionID string, result domain.CaptureResult) bool {
	r.mu.Lock()
	vendor, ok := r.vendors[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	vendor.mu.Lock()
	onApproved := vendor.onApproved
	onRejected := vendor.onRejected
	vendor.mu.Unlock()

	if result.Approved {
		if onApproved == nil {
			return false
		}
		onApproved(result)
		return true
	}
	if onRejected == nil {
		return false
	}
	onRejected(result.RejectReason)
	return true
}

func (r *Registry) put(sessionID string, vendor *gatewayVendor) {
	r.mu.Lock()
	r.vendors[sessionID] = vendor
	r.mu.Unlock()
}

func (r *Registry) remove(sessionID string, vendor *gatewayVendor) {
	r.mu.Lock()
	if r.vendors[sessionID] == vendor {
		delete(r.vendors, sessionID)
	}
	r.mu.Unlock()
}

// gatewayVendor is the production VendorClient: the surface itself is
// hosted by the vendor, so InitFrame and SubmitEvents are gateway calls and
// approval events arrive via webhook through the Registry.
type gatewayVendor struct {
	gateway   WidgetGateway
	registry  *Registry
	sessionID string

	mu         sync.Mutex
	onApproved func(domain.CaptureResult)
	onRejected func(string)
}

func (v *gatewayVendor) InitFrame(ctx context.Context) error {
	return v.gateway.InitWidget(ctx, v.sessionID)
}

func (v *gatewayVendor) OnApproval(onApproved func(domain.CaptureResult), onRejected func(string)) func() {
	v.mu.Lock()
	v.onApproved = onApproved
	v.onRejected = onRejected
	v.mu.Unlock()
	v.registry.put(v.sessionID, v)

	return func() {
		v.registry.remove(v.sessionID, v)
		v.mu.Lock()
		v.onApproved = nil
		v.onRejected = nil
		v.mu.Unlock()
	}
}

func (v *gatewayVendor) SubmitEvents(ctx context.Context) error {
	return v.gateway.SubmitWidget(ctx, v.sessionID)
}

func (v *gatewayVendor) Destroy() {
	v.registry.remove(v.sessionID, v)
}
