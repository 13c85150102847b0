package events

import (
	"strings"
	"testing"
	"time"
)

func TestRoundTrip_AllTypes(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

	cases := []Event{
		UserRegistered{UserID: "u-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Role: "customer", OccurredAt: at},
		UserDeleted{UserID: "u-2", Email: "gone@example.com", DeletedAt: at},
		TicketCreated{TicketID: "t-1", CustomerID: "u-1", Subject: "printer on fire", OccurredAt: at},
		TicketAssigned{TicketID: "t-1", AgentID: "a-9", CustomerID: "u-1", OccurredAt: at},
		TicketStatusChanged{TicketID: "t-1", OldStatus: "open", NewStatus: "resolved", CustomerID: "u-1", AgentID: "a-9", OccurredAt: at},
	}

	for _, evt := range cases {
		payload, err := Encode(evt)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", evt, err)
		}
		decoded, err := Decode(evt.EventType(), payload)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", evt.EventType(), err)
		}
		if decoded != evt {
			t.Fatalf("round trip changed %T:\n in  %+v\n out %+v", evt, evt, decoded)
		}
	}
}

func TestRoundTrip_TimestampPrecision(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	payload, err := Encode(UserDeleted{UserID: "u-1", Email: "x@example.com", DeletedAt: at})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(TopicUserDeleted, payload)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got := decoded.(UserDeleted).DeletedAt
	if !got.Equal(at) {
		t.Fatalf("timestamp changed: in %s out %s", at, got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", got.Location())
	}
}

func TestStatusChanged_AgentOptional(t *testing.T) {
	evt := TicketStatusChanged{TicketID: "t-1", OldStatus: "open", NewStatus: "closed", CustomerID: "u-1", OccurredAt: time.Now().UTC()}
	payload, err := Encode(evt)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if strings.Contains(string(payload), "agent_id") {
		t.Fatalf("empty agent_id should be omitted, got %s", payload)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode("identity.user.teleported.v1", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
