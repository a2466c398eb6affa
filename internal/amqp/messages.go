package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names what happened to an expense.
type EventType string

const (
	EventCreated          EventType = "created"
	EventUpdated          EventType = "updated"
	EventDeleted          EventType = "deleted"
	EventConverted        EventType = "converted"
	EventCurrencySwitched EventType = "currency_switched"
)

// ExpenseEvent is a change notification for downstream consumers.
// Amount is a decimal string in Currency. ID is zero for currency_switched.
type ExpenseEvent struct {
	Type          EventType `json:"type"`
	ID            int64     `json:"id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewExpenseEvent(t EventType, id int64, amount, currency string) *ExpenseEvent {
	return &ExpenseEvent{
		Type:      t,
		ID:        id,
		Amount:    amount,
		Currency:  currency,
		Timestamp: time.Now().UTC(),
	}
}

// WithCorrelation tags the event with the run that produced it.
func (e *ExpenseEvent) WithCorrelation(id string) *ExpenseEvent {
	e.CorrelationID = id
	return e
}

func (e *ExpenseEvent) Validate() error {
	switch e.Type {
	case EventCreated, EventUpdated, EventDeleted, EventConverted:
		if e.ID <= 0 {
			return fmt.Errorf("%s event without expense id", e.Type)
		}
	case EventCurrencySwitched:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ExpenseEventFromJSON decodes and validates an event.
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var e ExpenseEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
