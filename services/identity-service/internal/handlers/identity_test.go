package handlers

import "testing"

func TestPasswordHashing(t *testing.T) {
	password := "correct-horse"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-horse"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestValidateRegister(t *testing.T) {
	req := registerRequest{Email: "ada@example.com", Password: "longenough", FirstName: "Ada", LastName: "Lovelace"}
	if msg := validateRegister(&req); msg != "" {
		t.Fatalf("valid request rejected: %s", msg)
	}
	if req.Role != "customer" {
		t.Fatalf("empty role should default to customer, got %q", req.Role)
	}

	bad := registerRequest{Email: "not-an-email", Password: "longenough"}
	if msg := validateRegister(&bad); msg == "" {
		t.Fatal("invalid email should be rejected")
	}

	short := registerRequest{Email: "a@b.c", Password: "short"}
	if msg := validateRegister(&short); msg == "" {
		t.Fatal("short password should be rejected")
	}

	weird := registerRequest{Email: "a@b.c", Password: "longenough", Role: "superuser"}
	if msg := validateRegister(&weird); msg == "" {
		t.Fatal("unknown role should be rejected")
	}
}
