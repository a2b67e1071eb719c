package session

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/lexguard/permission"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sess := New("client-42", permission.RoleClient, now, time.Hour)

	data, err := Encode(sess)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.UserID != sess.UserID || got.Role != sess.Role {
		t.Fatalf("decoded %+v, want %+v", got, sess)
	}
	if got.CreatedAt != now.Unix() || got.ExpiresAt != now.Add(time.Hour).Unix() {
		t.Fatalf("timestamps = %d/%d", got.CreatedAt, got.ExpiresAt)
	}
	if got.ID != "" {
		t.Fatalf("session ID must not be encoded, got %q", got.ID)
	}
}

func TestEncodeRejects(t *testing.T) {
	if _, err := Encode(&Session{UserID: "u", Role: permission.RoleUnknown}); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if _, err := Encode(&Session{UserID: strings.Repeat("u", 256), Role: permission.RoleAdmin}); err == nil {
		t.Fatal("expected error for long userID")
	}
}

func TestDecodeRejectsInvalidRole(t *testing.T) {
	data, err := Encode(&Session{UserID: "u", Role: permission.RoleAdmin})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	data[3] = 9
	if _, err := Decode(data); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sess := New("u", permission.RoleLawyer, now, time.Minute)

	if sess.Expired(now) {
		t.Fatal("fresh session reported expired")
	}
	if !sess.Expired(now.Add(time.Minute)) {
		t.Fatal("session should be expired at ExpiresAt")
	}
	if sess.Remaining(now.Add(2*time.Minute)) != 0 {
		t.Fatal("Remaining should clamp to zero")
	}
	if sess.ID == "" {
		t.Fatal("New should assign an ID")
	}
}
