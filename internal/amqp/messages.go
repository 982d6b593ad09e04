package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType doubles as the routing key on the exchange.
type EventType string

const (
	ExpenseCreated EventType = "expense.created"
	ExpenseUpdated EventType = "expense.updated"
	ExpenseDeleted EventType = "expense.deleted"
	SessionLogin   EventType = "session.login"
	SessionLogout  EventType = "session.logout"
)

func (t EventType) Valid() bool {
	switch t {
	case ExpenseCreated, ExpenseUpdated, ExpenseDeleted, SessionLogin, SessionLogout:
		return true
	default:
		return false
	}
}

// Event notifies listeners that the client changed something. It carries
// ids only; consumers fetch the expense from the backend if they need it.
type Event struct {
	Type      EventType `json:"type"`
	ExpenseID int64     `json:"expense_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseEvent(t EventType, expenseID int64, username string) *Event {
	return &Event{Type: t, ExpenseID: expenseID, Username: username, Timestamp: time.Now().UTC()}
}

func NewSessionEvent(t EventType, username string) *Event {
	return &Event{Type: t, Username: username, Timestamp: time.Now().UTC()}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event and rejects unknown types.
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}
