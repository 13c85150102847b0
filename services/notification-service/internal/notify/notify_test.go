package notify

import (
	"strings"
	"testing"
)

func TestTicketCreatedMessage(t *testing.T) {
	subject, body := ticketCreatedMessage("Ada", "t-1", "printer on fire")
	if !strings.Contains(subject, "printer on fire") {
		t.Errorf("subject %q missing ticket subject", subject)
	}
	if !strings.Contains(body, "Ada") || !strings.Contains(body, "t-1") {
		t.Errorf("body %q missing name or ticket id", body)
	}
}

func TestTicketStatusMessage(t *testing.T) {
	subject, body := ticketStatusMessage("Ada", "t-1", "open", "resolved")
	if !strings.Contains(subject, "resolved") {
		t.Errorf("subject %q missing new status", subject)
	}
	if !strings.Contains(body, "open") || !strings.Contains(body, "resolved") {
		t.Errorf("body %q missing status transition", body)
	}
}
