package handlers

import "testing"

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusOpen, StatusPending, StatusResolved, StatusClosed} {
		if !validStatus(s) {
			t.Fatalf("%q should be a valid status", s)
		}
	}
	for _, s := range []string{"", "OPEN", "archived", "deleted"} {
		if validStatus(s) {
			t.Fatalf("%q should be rejected", s)
		}
	}
}
