package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"payportal/internal/domain"
	"payportal/internal/security/secretbox"
)

var ErrNotFound = errors.New("not found")

// Store persists instruments and audit events in postgres. Gateway tokens
// are encrypted at rest; everything else is plain columns.
type Store struct {
	db  *sql.DB
	box *secretbox.Box
}

func NewStore(databaseURL, encryptionKey string) (*Store, error) {
	box, err := secretbox.New(encryptionKey)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, box: box}, nil
}

func (s *Store) SaveInstrument(instrument domain.PaymentInstrument) {
	if instrument.InstrumentID == "" {
		instrument.InstrumentID = uuid.NewString()
	}
	if instrument.CreatedAt.IsZero() {
		instrument.CreatedAt = time.Now().UTC()
	}
	tokenCipher := ""
	if instrument.Token != "" {
		var err error
		tokenCipher, err = s.box.Encrypt(instrument.Token)
		if err != nil {
			log.Printf("encrypt instrument token: %v", err)
			return
		}
	}
	_, err := s.db.Exec(
		`insert into payment_instruments(id, customer_id, brand, last4, expiry, token_family, kind, token_cipher, created_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 on conflict (id) do update
		 set brand = excluded.brand,
		     last4 = excluded.last4,
		     expiry = excluded.expiry,
		     token_family = excluded.token_family,
		     kind = excluded.kind,
		     token_cipher = excluded.token_cipher`,
		instrument.InstrumentID, instrument.CustomerID, instrument.Brand, instrument.Last4,
		instrument.Expiry, instrument.TokenFamily, string(instrument.Kind), tokenCipher, instrument.CreatedAt,
	)
	if err != nil {
		log.Printf("save instrument %s: %v", instrument.InstrumentID, err)
	}
}

func (s *Store) ListInstruments(customerID string) []domain.PaymentInstrument {
	rows, err := s.db.Query(
		`select id, customer_id, brand, last4, expiry, token_family, kind, token_cipher, created_at
		 from payment_instruments
		 where customer_id = $1
		 order by created_at`,
		customerID,
	)
	if err != nil {
		log.Printf("list instruments for %s: %v", customerID, err)
		return []domain.PaymentInstrument{}
	}
	defer rows.Close()

	out := make([]domain.PaymentInstrument, 0, 8)
	for rows.Next() {
		instrument, err := s.scanInstrument(rows)
		if err != nil {
			log.Printf("scan instrument: %v", err)
			continue
		}
		out = append(out, instrument)
	}
	return out
}

func (s *Store) GetInstrument(instrumentID string) (domain.PaymentInstrument, error) {
	row := s.db.QueryRow(
		`select id, customer_id, brand, last4, expiry, token_family, kind, token_cipher, created_at
		 from payment_instruments
		 where id = $1`,
		instrumentID,
	)
	instrument, err := s.scanInstrument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PaymentInstrument{}, ErrNotFound
		}
		return domain.PaymentInstrument{}, err
	}
	return instrument, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanInstrument(row scannable) (domain.PaymentInstrument, error) {
	var instrument domain.PaymentInstrument
	var kind, tokenCipher string
	if err := row.Scan(
		&instrument.InstrumentID, &instrument.CustomerID, &instrument.Brand, &instrument.Last4,
		&instrument.Expiry, &instrument.TokenFamily, &kind, &tokenCipher, &instrument.CreatedAt,
	); err != nil {
		return domain.PaymentInstrument{}, err
	}
	instrument.Kind = domain.InstrumentKind(kind)
	if tokenCipher != "" {
		token, err := s.box.Decrypt(tokenCipher)
		if err != nil {
			return domain.PaymentInstrument{}, fmt.Errorf("decrypt token for %s: %w", instrument.InstrumentID, err)
		}
		instrument.Token = token
	}
	return instrument, nil
}

func (s *Store) AppendEvent(eventType domain.EventType, customerID string, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Type:       eventType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	_, err = s.db.Exec(
		`insert into portal_events(id, customer_id, event_type, payload, created_at)
		 values ($1, $2, $3, $4, $5)`,
		event.ID, event.CustomerID, string(event.Type), raw, event.CreatedAt,
	)
	if err != nil {
		log.Printf("append event %s: %v", eventType, err)
	}
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, customer_id, event_type, payload, created_at
		 from portal_events
		 order by created_at desc
		 limit $1`,
		limit,
	)
	if err != nil {
		log.Printf("list events: %v", err)
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var event domain.Event
		var eventType string
		var raw []byte
		if err := rows.Scan(&event.ID, &event.CustomerID, &eventType, &raw, &event.CreatedAt); err != nil {
			log.Printf("scan event: %v", err)
			continue
		}
		event.Type = domain.EventType(eventType)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &event.Payload)
		}
		out = append(out, event)
	}
	return out
}
