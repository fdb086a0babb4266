package amqp

import (
	"encoding/json"
	"time"

	"ricorrenti/internal/ledger"
)

// TransactionEvent is the wire form of a ledger write. Consumers fetch
// nothing back: every field needed to react to the write travels with it.
type TransactionEvent struct {
	Type           string    `json:"type"`
	TransactionID  string    `json:"transaction_id"`
	PaymentID      string    `json:"payment_id,omitempty"`
	OccurrenceDate string    `json:"occurrence_date,omitempty"`
	Date           string    `json:"date"`
	AmountCents    int64     `json:"amount_cents"`
	AccountID      string    `json:"account_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewTransactionEvent converts a ledger event to its wire form.
func NewTransactionEvent(ev ledger.Event) *TransactionEvent {
	msg := &TransactionEvent{
		Type:          string(ev.Type),
		TransactionID: ev.Transaction.ID,
		Date:          ev.Transaction.Date.Key(),
		AmountCents:   ev.Transaction.Amount.Cents,
		AccountID:     ev.Transaction.AccountID,
		Timestamp:     ev.At,
	}
	if src := ev.Transaction.Source; src != nil {
		msg.PaymentID = src.PaymentID
		msg.OccurrenceDate = src.OccurrenceDate.Key()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionEventFromJSON creates a message from JSON bytes
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var msg TransactionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
