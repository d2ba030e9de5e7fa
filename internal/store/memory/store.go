package memory

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"payportal/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	mu sync.RWMutex

	instruments     map[string]domain.PaymentInstrument
	instrumentOrder []string
	events          []domain.Event
}

func NewStore() *Store {
	return &Store{
		instruments:     make(map[string]domain.PaymentInstrument),
		instrumentOrder: make([]string, 0, 16),
		events:          make([]domain.Event, 0, 256),
	}
}

func (s *Store) SaveInstrument(instrument domain.PaymentInstrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if instrument.InstrumentID == "" {
		instrument.InstrumentID = uuid.NewString()
	}
	if instrument.CreatedAt.IsZero() {
		instrument.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.instruments[instrument.InstrumentID]; !exists {
		s.instrumentOrder = append(s.instrumentOrder, instrument.InstrumentID)
	}
	s.instruments[instrument.InstrumentID] = instrument
}

func (s *Store) ListInstruments(customerID string) []domain.PaymentInstrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PaymentInstrument, 0, len(s.instrumentOrder))
	for _, id := range s.instrumentOrder {
		instrument := s.instruments[id]
		if instrument.CustomerID == customerID {
			out = append(out, instrument)
		}
	}
	return out
}

func (s *Store) GetInstrument(instrumentID string) (domain.PaymentInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instrument, ok := s.instruments[instrumentID]
	if !ok {
		return domain.PaymentInstrument{}, ErrNotFound
	}
	return instrument, nil
}

func (s *Store) AppendEvent(eventType domain.EventType, customerID string, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out
}
