package handlers

import (
	"errors"
	"testing"
	"time"

	"jankenserver/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	want := models.Session{RoomID: "r1", PlayerID: "player_1_abcd", Name: "Alice"}

	token, err := tokens.Issue(want)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestTokenRejected(t *testing.T) {
	session := models.Session{RoomID: "r1", PlayerID: "player_1_abcd", Name: "Alice"}

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.Issue(session)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewTokens("other", time.Hour)
	foreignToken, err := other.Issue(session)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	incomplete, err := NewTokens("secret", time.Hour).Issue(models.Session{Name: "Alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tokens := NewTokens("secret", time.Hour)
	for name, token := range map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"expired":    expiredToken,
		"foreign":    foreignToken,
		"incomplete": incomplete,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := tokens.Parse(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
