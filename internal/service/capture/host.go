package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"payportal/internal/domain"
	"payportal/internal/service/session"
)

type State string

const (
	StateIdle       State = "IDLE"
	StateMounting   State = "MOUNTING"
	StateReady      State = "READY"
	StateSubmitting State = "SUBMITTING"
	StateApproved   State = "APPROVED"
	StateRejected   State = "REJECTED"
	StateErrored    State = "ERRORED"
)

// Host owns the single capture surface and the vendor client mounted into
// it. Whichever flow is mounting owns both exclusively; Open tears down the
// previous owner before taking over, and Close is the only cancellation
// primitive.
type Host struct {
	sessions     *session.Manager
	guard        *FlowGuard
	factory      VendorFactory
	sink         ApprovalSink
	auditor      Auditor
	mountTimeout time.Duration

	mu          sync.Mutex
	state       State
	openSeq     uint64
	customerID  string
	client      VendorClient
	unsubscribe func()
	lastReject  string
	lastError   string
}

// errMountSuperseded marks a mount attempt that lost the host to Close (or
// to a Close-then-Open) while its vendor calls were in flight. The attempt
// tears itself down and the caller returns without touching host state.
var errMountSuperseded = errors.New("mount superseded")

func NewHost(sessions *session.Manager, guard *FlowGuard, factory VendorFactory, sink ApprovalSink, auditor Auditor, mountTimeout time.Duration) *Host {
	return &Host{
		sessions:     sessions,
		guard:        guard,
		factory:      factory,
		sink:         sink,
		auditor:      auditor,
		mountTimeout: mountTimeout,
		state:        StateIdle,
	}
}

type Status struct {
	State        State  `json:"state"`
	CustomerID   string `json:"customer_id,omitempty"`
	MountID      uint64 `json:"mount_id"`
	FlowKey      uint64 `json:"flow_key"`
	RejectReason string `json:"reject_reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Open mounts the capture surface for customerID. A call while not Idle is
// a no-op: the in-progress flow keeps ownership. Init failure resets the
// session and retries the whole sequence exactly once. Close may win the
// race against an in-flight Open; the losing mount attempt tears down
// whatever it built and Open returns without reviving the closed host.
func (h *Host) Open(ctx context.Context, customerID string) error {
	h.mu.Lock()
	if h.state != StateIdle {
		h.mu.Unlock()
		return nil
	}
	h.state = StateMounting
	h.openSeq++
	seq := h.openSeq
	h.customerID = customerID
	h.lastReject = ""
	h.lastError = ""
	h.mu.Unlock()

	h.teardownClient()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if !h.owns(seq) {
				return nil
			}
			h.sessions.Reset()
		}
		err := h.mount(ctx, customerID, seq)
		if errors.Is(err, errMountSuperseded) {
			return nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	h.mu.Lock()
	if h.state != StateMounting || h.openSeq != seq {
		h.mu.Unlock()
		return nil
	}
	h.state = StateIdle
	h.customerID = ""
	h.mu.Unlock()
	h.guard.Reset()
	if errors.Is(lastErr, domain.ErrSessionCreationFailed) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", domain.ErrWidgetInitFailed, lastErr)
}

// owns reports whether the Open identified by seq still holds the host in
// Mounting. False means Close (or a later Open) took over.
func (h *Host) owns(seq uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateMounting && h.openSeq == seq
}

func (h *Host) mount(ctx context.Context, customerID string, seq uint64) error {
	sessionID, err := h.sessions.Ensure(ctx, true)
	if err != nil {
		return err
	}
	h.auditor.AppendEvent(domain.EventSessionCreated, customerID, map[string]interface{}{
		"session_id": sessionID,
	})

	// Advance only while this attempt still owns the host, so a mount that
	// already lost to Close can never stomp a newer flow's registration.
	h.mu.Lock()
	if h.state != StateMounting || h.openSeq != seq {
		h.mu.Unlock()
		return errMountSuperseded
	}
	mountID, flowKey := h.guard.Advance(sessionID)
	h.mu.Unlock()

	client, err := h.factory(sessionID)
	if err != nil {
		return fmt.Errorf("init vendor client: %w", err)
	}
	unsubscribe := client.OnApproval(
		func(result domain.CaptureResult) { h.handleApproved(mountID, flowKey, sessionID, result) },
		func(reason string) { h.handleRejected(mountID, flowKey, sessionID, reason) },
	)

	mountCtx, cancel := context.WithTimeout(ctx, h.mountTimeout)
	defer cancel()
	if err := client.InitFrame(mountCtx); err != nil {
		unsubscribe()
		client.Destroy()
		return fmt.Errorf("mount capture surface: %w", err)
	}

	h.mu.Lock()
	if h.state != StateMounting || h.openSeq != seq {
		h.mu.Unlock()
		unsubscribe()
		client.Destroy()
		h.guard.Retire(flowKey)
		return errMountSuperseded
	}
	h.client = client
	h.unsubscribe = unsubscribe
	h.state = StateReady
	h.mu.Unlock()

	h.auditor.AppendEvent(domain.EventWidgetMounted, customerID, map[string]interface{}{
		"session_id": sessionID,
	})
	return nil
}

// Submit triggers the vendor surface to tokenize what the shopper entered.
// The approval or rejection arrives later through the registered callbacks.
func (h *Host) Submit(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateReady {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("widget not ready for submission (state %s)", state)
	}
	h.state = StateSubmitting
	client := h.client
	h.mu.Unlock()

	if err := client.SubmitEvents(ctx); err != nil {
		h.mu.Lock()
		h.state = StateErrored
		h.lastError = err.Error()
		h.mu.Unlock()
		return err
	}
	return nil
}

// Close unsubscribes listeners, destroys the vendor client, and resets the
// guard. It runs on every exit path; listeners are gone before it returns,
// and any network call already in flight completes but loses the guard
// check when its callback fires.
func (h *Host) Close() {
	h.mu.Lock()
	h.state = StateIdle
	h.customerID = ""
	h.lastReject = ""
	h.lastError = ""
	h.mu.Unlock()

	h.teardownClient()
	h.guard.Reset()
}

func (h *Host) teardownClient() {
	h.mu.Lock()
	unsubscribe := h.unsubscribe
	client := h.client
	h.unsubscribe = nil
	h.client = nil
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if client != nil {
		client.Destroy()
	}
}

func (h *Host) Status() Status {
	mountID, flowKey, _, _, _ := h.guard.Snapshot()
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		State:        h.state,
		CustomerID:   h.customerID,
		MountID:      mountID,
		FlowKey:      flowKey,
		RejectReason: h.lastReject,
		Error:        h.lastError,
	}
}

func (h *Host) handleApproved(mountID, flowKey uint64, sessionID string, result domain.CaptureResult) {
	if !h.guard.Claim(mountID, flowKey, sessionID) {
		log.Printf("discarding stale approval callback (flow %d)", flowKey)
		h.auditor.AppendEvent(domain.EventStaleCallbackIgnored, "", map[string]interface{}{
			"flow_key": flowKey,
			"kind":     "approval",
		})
		return
	}

	h.mu.Lock()
	customerID := h.customerID
	h.state = StateApproved
	h.mu.Unlock()

	result.Approved = true
	h.auditor.AppendEvent(domain.EventCaptureApproved, customerID, map[string]interface{}{
		"session_id": sessionID,
		"last4":      result.Last4,
		"brand":      result.Brand,
	})
	h.sink.CaptureApproved(context.Background(), customerID, sessionID, result)
}

func (h *Host) handleRejected(mountID, flowKey uint64, sessionID string, reason string) {
	if !h.guard.Claim(mountID, flowKey, sessionID) {
		log.Printf("discarding stale rejection callback (flow %d)", flowKey)
		h.auditor.AppendEvent(domain.EventStaleCallbackIgnored, "", map[string]interface{}{
			"flow_key": flowKey,
			"kind":     "rejection",
		})
		return
	}

	h.mu.Lock()
	customerID := h.customerID
	h.state = StateRejected
	h.lastReject = reason
	h.mu.Unlock()

	h.auditor.AppendEvent(domain.EventCaptureRejected, customerID, map[string]interface{}{
		"session_id": sessionID,
		"reason":     reason,
	})
}
