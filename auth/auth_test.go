package auth

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewService(db, "test-secret")
	if err := s.EnsureSchema(); err != nil {
		t.Fatal(err)
	}
	return s
}

// TestRegisterAndLogin verifies the full credential round trip
func TestRegisterAndLogin(t *testing.T) {
	s := newTestService(t)

	if err := s.Register("operator", "hunter2"); err != nil {
		t.Fatalf("Register error = %v", err)
	}
	if err := s.Register("operator", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate Register error = %v; want ErrUserExists", err)
	}

	token, err := s.Login("operator", "hunter2")
	if err != nil {
		t.Fatalf("Login error = %v", err)
	}

	claims, err := s.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken error = %v", err)
	}
	if claims.Username != "operator" {
		t.Errorf("claims.Username = %q; want operator", claims.Username)
	}
}

// TestLoginRejectsBadPassword verifies invalid credentials fail uniformly
func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestService(t)
	if err := s.Register("operator", "hunter2"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Login("operator", "wrong"); !errors.Is(err, ErrInvalidCreds) {
		t.Errorf("Login(wrong password) error = %v; want ErrInvalidCreds", err)
	}
	if _, err := s.Login("nobody", "hunter2"); !errors.Is(err, ErrInvalidCreds) {
		t.Errorf("Login(unknown user) error = %v; want ErrInvalidCreds", err)
	}
}

// TestVerifyTokenRejectsForeignSecret verifies tokens are bound to the secret
func TestVerifyTokenRejectsForeignSecret(t *testing.T) {
	s := newTestService(t)
	if err := s.Register("operator", "hunter2"); err != nil {
		t.Fatal(err)
	}
	token, err := s.Login("operator", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	other := newTestService(t)
	other.secret = []byte("different-secret")
	if _, err := other.VerifyToken(token); err == nil {
		t.Error("VerifyToken accepted a token signed with another secret")
	}
}

// TestChangePassword verifies old credentials stop working
func TestChangePassword(t *testing.T) {
	s := newTestService(t)
	if err := s.Register("operator", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := s.ChangePassword("operator", "correcthorse"); err != nil {
		t.Fatalf("ChangePassword error = %v", err)
	}
	if _, err := s.Login("operator", "hunter2"); !errors.Is(err, ErrInvalidCreds) {
		t.Error("old password still accepted after change")
	}
	if _, err := s.Login("operator", "correcthorse"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if err := s.ChangePassword("ghost", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ChangePassword(unknown user) error = %v; want ErrUserNotFound", err)
	}
}

// TestDeleteLastUser verifies lockout protection
func TestDeleteLastUser(t *testing.T) {
	s := newTestService(t)
	if err := s.CreateDefaultUser(); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUser("admin"); err == nil {
		t.Error("DeleteUser removed the last remaining user")
	}

	if err := s.Register("operator", "hunter2"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteUser("admin"); err != nil {
		t.Errorf("DeleteUser error = %v", err)
	}
	users, err := s.ListUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "operator" {
		t.Errorf("remaining users = %v; want just operator", users)
	}
}
