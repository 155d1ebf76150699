package security

import (
	"strings"
	"testing"
	"time"
)

func TestJoinTokenRoundTrip(t *testing.T) {
	token, err := GenerateJoinToken(7, 3, "room-abc", time.Minute, "secret")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	claims, err := VerifyJoinToken(token, "secret")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.UserID != 7 || claims.SessionID != 3 || claims.RoomName != "room-abc" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJoinTokenRejections(t *testing.T) {
	if _, err := GenerateJoinToken(7, 3, "room", time.Minute, ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}

	token, err := GenerateJoinToken(7, 3, "room", time.Minute, "secret")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := VerifyJoinToken(token, "other-secret"); err == nil {
		t.Fatalf("expected error for wrong secret")
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := VerifyJoinToken(tampered, "secret"); err == nil {
		t.Fatalf("expected error for tampered token")
	}
	if _, err := VerifyJoinToken(strings.ReplaceAll(token, ".", ""), "secret"); err == nil {
		t.Fatalf("expected error for malformed token")
	}

	expired, err := GenerateJoinToken(7, 3, "room", -time.Minute, "secret")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := VerifyJoinToken(expired, "secret"); err == nil {
		t.Fatalf("expected error for expired token")
	}
}
