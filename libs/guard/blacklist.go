package guard

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist revokes access tokens before their natural expiry: per-token
// markers plus a per-user revoke-all timestamp. Lookups are fail-closed:
// if the store cannot answer, the token is treated as invalid, never as
// unknown. That is the inverse of the subscriber's fail-open drop policy
// and it is deliberate.
type Blacklist struct {
	client *redis.Client
	logger *slog.Logger
	// revoke-all markers outlive the longest-lived token
	userMarkerTTL time.Duration
}

func NewBlacklist(client *redis.Client, logger *slog.Logger, maxTokenTTL time.Duration) *Blacklist {
	if maxTokenTTL <= 0 {
		maxTokenTTL = 24 * time.Hour
	}
	return &Blacklist{client: client, logger: logger, userMarkerTTL: maxTokenTTL}
}

func tokenKey(tokenID string) string { return "bl:token:" + tokenID }
func userKey(userID int64) string    { return "bl:user:" + strconv.FormatInt(userID, 10) }

// Add blacklists a single token for the remainder of its validity.
// Already-expired tokens need no marker.
func (b *Blacklist) Add(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, tokenKey(tokenID), "1", ttl).Err()
}

// RevokeAll invalidates every token the user was issued before t.
func (b *Blacklist) RevokeAll(ctx context.Context, userID int64, t time.Time) error {
	return b.client.Set(ctx, userKey(userID), strconv.FormatInt(t.Unix(), 10), b.userMarkerTTL).Err()
}

// Valid reports whether the token may still be used. Both the token
// marker and the user revoke-all timestamp are fetched in a single
// pipelined round trip.
func (b *Blacklist) Valid(ctx context.Context, tokenID string, userID int64, issuedAt time.Time) bool {
	pipe := b.client.Pipeline()
	tokenCmd := pipe.Get(ctx, tokenKey(tokenID))
	userCmd := pipe.Get(ctx, userKey(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		if b.logger != nil {
			b.logger.Warn("blacklist store unreachable, failing closed", "err", err)
		}
		return false
	}

	return evaluate(tokenCmd.Val(), tokenCmd.Err(), userCmd.Val(), userCmd.Err(), issuedAt)
}

// evaluate applies the revocation rules to the two fetched values. A
// non-nil error other than a missing key fails closed.
func evaluate(marker string, markerErr error, revokedRaw string, revokedErr error, issuedAt time.Time) bool {
	if markerErr != nil && !errors.Is(markerErr, redis.Nil) {
		return false
	}
	if revokedErr != nil && !errors.Is(revokedErr, redis.Nil) {
		return false
	}
	if marker != "" {
		return false
	}
	if revokedRaw != "" {
		revokedAt, err := strconv.ParseInt(revokedRaw, 10, 64)
		if err != nil {
			return false
		}
		if issuedAt.Unix() <= revokedAt {
			return false
		}
	}
	return true
}
