package store

import "payportal/internal/domain"

// Store defines the runtime persistence contract used by the HTTP layer and
// the flow services: the read-through instrument cache and the portal audit
// trail.
type Store interface {
	SaveInstrument(instrument domain.PaymentInstrument)
	ListInstruments(customerID string) []domain.PaymentInstrument
	GetInstrument(instrumentID string) (domain.PaymentInstrument, error)

	AppendEvent(eventType domain.EventType, customerID string, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event
}
