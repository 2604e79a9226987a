package auth

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret")

	token, err := m.CreateToken("user-123")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	userID, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	m := NewManager("secret-a")
	token, err := m.CreateToken("user-123")
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	other := NewManager("secret-b")
	if _, err := other.VerifyToken(token); err == nil {
		t.Fatal("expected verification failure with wrong secret")
	}
}

func TestTokenGarbage(t *testing.T) {
	m := NewManager("secret")
	if _, err := m.VerifyToken("not-a-token"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "hunter2" {
		t.Fatal("hash must not equal plaintext")
	}
	if !CheckPassword(hash, "hunter2") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(hash, "hunter3") {
		t.Fatal("wrong password accepted")
	}
}
