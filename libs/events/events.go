// Package events defines the cross-service event catalogue. Each event type
// maps to exactly one Kafka topic; the topic string is the event type
// discriminator on the wire.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TopicUserRegistered      = "identity.user.registered.v1"
	TopicUserDeleted         = "identity.user.deleted.v1"
	TopicTicketCreated       = "ticketing.ticket.created.v1"
	TopicTicketAssigned      = "ticketing.ticket.assigned.v1"
	TopicTicketStatusChanged = "ticketing.ticket.status-changed.v1"
)

// Event is implemented by every catalogue payload. AggregateID keys the
// Kafka partition so events for one aggregate stay ordered.
type Event interface {
	EventType() string
	AggregateID() string
}

type UserRegistered struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Role       string    `json:"role"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (UserRegistered) EventType() string { return TopicUserRegistered }
func (e UserRegistered) AggregateID() string { return e.UserID }

type UserDeleted struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (UserDeleted) EventType() string { return TopicUserDeleted }
func (e UserDeleted) AggregateID() string { return e.UserID }

type TicketCreated struct {
	TicketID   string    `json:"ticket_id"`
	CustomerID string    `json:"customer_id"`
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (TicketCreated) EventType() string { return TopicTicketCreated }
func (e TicketCreated) AggregateID() string { return e.TicketID }

type TicketAssigned struct {
	TicketID   string    `json:"ticket_id"`
	AgentID    string    `json:"agent_id"`
	CustomerID string    `json:"customer_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (TicketAssigned) EventType() string { return TopicTicketAssigned }
func (e TicketAssigned) AggregateID() string { return e.TicketID }

type TicketStatusChanged struct {
	TicketID   string    `json:"ticket_id"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	CustomerID string    `json:"customer_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (TicketStatusChanged) EventType() string { return TopicTicketStatusChanged }
func (e TicketStatusChanged) AggregateID() string { return e.TicketID }

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode rebuilds the typed payload from the wire discriminator. Unknown
// types are an error so consumers never silently ack events they cannot
// interpret.
func Decode(eventType string, payload []byte) (Event, error) {
	switch eventType {
	case TopicUserRegistered:
		var e UserRegistered
		err := json.Unmarshal(payload, &e)
		return e, err
	case TopicUserDeleted:
		var e UserDeleted
		err := json.Unmarshal(payload, &e)
		return e, err
	case TopicTicketCreated:
		var e TicketCreated
		err := json.Unmarshal(payload, &e)
		return e, err
	case TopicTicketAssigned:
		var e TicketAssigned
		err := json.Unmarshal(payload, &e)
		return e, err
	case TopicTicketStatusChanged:
		var e TicketStatusChanged
		err := json.Unmarshal(payload, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}
