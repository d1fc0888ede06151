package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestEvaluateRules(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	infra := errors.New("i/o timeout")

	cases := []struct {
		name       string
		marker     string
		markerErr  error
		revoked    string
		revokedErr error
		want       bool
	}{
		{"clean token", "", redis.Nil, "", redis.Nil, true},
		{"blacklisted token", "1", nil, "", redis.Nil, false},
		{"issued before revoke-all", "", redis.Nil, "1700000100", nil, false},
		{"issued after revoke-all", "", redis.Nil, "1600000000", nil, true},
		{"garbage revoke timestamp", "", redis.Nil, "not-a-number", nil, false},
		{"marker read error fails closed", "", infra, "", redis.Nil, false},
		{"revoke read error fails closed", "", redis.Nil, "", infra, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := evaluate(tc.marker, tc.markerErr, tc.revoked, tc.revokedErr, issued)
			if got != tc.want {
				t.Fatalf("evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidFailsClosedWhenStoreUnreachable(t *testing.T) {
	// Nothing listens on this port; the lookup must come back invalid,
	// not unknown, for a token that was never blacklisted.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	if bl.Valid(context.Background(), "token-never-blacklisted", 42, time.Now()) {
		t.Fatal("unreachable store must fail closed")
	}
}

func TestAddSkipsExpiredToken(t *testing.T) {
	// An expired token needs no marker, so no round trip happens and a
	// dead client address is never touched.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	bl := NewBlacklist(client, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour)
	if err := bl.Add(context.Background(), "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("expired token add should be a no-op, got %v", err)
	}
}
