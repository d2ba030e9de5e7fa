package verify

import (
	"context"
	"fmt"
	"log"
	"time"

	"payportal/internal/domain"
)

// Gateway is the slice of the tokenization gateway the sequencer needs:
// the probe authorization and its compensating void.
type Gateway interface {
	Authorize(ctx context.Context, sessionID, token string, amount float64) (string, error)
	Void(ctx context.Context, transactionID string) error
}

// Ledger persists the verified credential against the customer record.
type Ledger interface {
	CreatePaymentMethod(ctx context.Context, customerID, token, last4, brand string) (string, error)
}

// Cache is the portal's read-through instrument store.
type Cache interface {
	SaveInstrument(instrument domain.PaymentInstrument)
	AppendEvent(eventType domain.EventType, customerID string, payload map[string]interface{}) domain.Event
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Sequencer validates a freshly minted token before it is trusted: a
// minimal authorization-only probe, a best-effort void of that probe, then
// persistence into the ledger. The steps are each retryable but together
// not transactional.
type Sequencer struct {
	gateway     Gateway
	ledger      Ledger
	cache       Cache
	notifier    Notifier
	probeAmount float64
}

func NewSequencer(gateway Gateway, ledger Ledger, cache Cache, notifier Notifier, probeAmount float64) *Sequencer {
	return &Sequencer{
		gateway:     gateway,
		ledger:      ledger,
		cache:       cache,
		notifier:    notifier,
		probeAmount: probeAmount,
	}
}

// Verify runs the probe-void-persist sequence. A failed authorization
// aborts the flow before any persistence; a failed void is logged and the
// flow continues, since an un-voided probe-scale hold expires on its own.
func (s *Sequencer) Verify(ctx context.Context, customerID, sessionID string, result domain.CaptureResult) (string, error) {
	if !result.Approved || result.Token == "" {
		return "", fmt.Errorf("%w: capture result is not an approved token", domain.ErrAuthorizationFailed)
	}

	transactionID, err := s.gateway.Authorize(ctx, sessionID, result.Token, s.probeAmount)
	if err != nil {
		s.cache.AppendEvent(domain.EventVerificationFailed, customerID, map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		_ = s.notifier.Notify(ctx, fmt.Sprintf("Card verification failed for customer %s: %v", customerID, err))
		return "", err
	}

	if err := s.gateway.Void(ctx, transactionID); err != nil {
		log.Printf("void of probe %s failed (non-fatal): %v", transactionID, err)
		s.cache.AppendEvent(domain.EventVoidFailed, customerID, map[string]interface{}{
			"transaction_id": transactionID,
			"error":          err.Error(),
		})
	}

	s.cache.AppendEvent(domain.EventVerificationPassed, customerID, map[string]interface{}{
		"transaction_id": transactionID,
	})

	instrumentID, err := s.ledger.CreatePaymentMethod(ctx, customerID, result.Token, result.Last4, result.Brand)
	if err != nil {
		s.cache.AppendEvent(domain.EventVerificationFailed, customerID, map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		_ = s.notifier.Notify(ctx, fmt.Sprintf("Verified card could not be saved for customer %s: %v", customerID, err))
		return "", err
	}

	s.cache.SaveInstrument(domain.PaymentInstrument{
		InstrumentID: instrumentID,
		CustomerID:   customerID,
		Brand:        result.Brand,
		Last4:        result.Last4,
		TokenFamily:  result.Brand,
		Kind:         domain.InstrumentKindToken,
		Token:        result.Token,
		CreatedAt:    time.Now().UTC(),
	})
	s.cache.AppendEvent(domain.EventInstrumentSaved, customerID, map[string]interface{}{
		"instrument_id": instrumentID,
		"last4":         result.Last4,
		"brand":         result.Brand,
	})
	return instrumentID, nil
}

// CaptureApproved lets the sequencer sit behind the capture host as its
// approval sink.
func (s *Sequencer) CaptureApproved(ctx context.Context, customerID, sessionID string, result domain.CaptureResult) {
	if _, err := s.Verify(ctx, customerID, sessionID, result); err != nil {
		log.Printf("verification flow for customer %s failed: %v", customerID, err)
	}
}
