package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/core/port"
)

const defaultDeniedTokensKey = "tracker:denied_tokens"

// DeniedTokenRepository implements port.DeniedTokenStore on a single Redis sorted set.
// Members are token identifiers and scores are expiries in Unix milliseconds, so range
// queries by score select active or expired entries.
type DeniedTokenRepository struct {
	client red.Cmdable
	key    string
}

// NewDeniedTokenRepository wires a Redis client into a denied token store.
func NewDeniedTokenRepository(client red.Cmdable, key string) *DeniedTokenRepository {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		trimmed = defaultDeniedTokensKey
	}
	return &DeniedTokenRepository{client: client, key: trimmed}
}

// LoadActive returns members scored strictly after now.
func (r *DeniedTokenRepository) LoadActive(ctx context.Context, now time.Time) ([]domain.DeniedToken, error) {
	members, err := r.client.ZRangeByScoreWithScores(ctx, r.key, &red.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load denied tokens: %w", err)
	}

	tokens := make([]domain.DeniedToken, 0, len(members))
	for _, member := range members {
		jti, ok := member.Member.(string)
		if !ok || jti == "" {
			continue
		}
		tokens = append(tokens, domain.DeniedToken{
			JTI:       jti,
			ExpiresAt: time.UnixMilli(int64(member.Score)).UTC(),
		})
	}
	return tokens, nil
}

// Insert adds the jti. An existing member keeps the later of the two expiries.
func (r *DeniedTokenRepository) Insert(ctx context.Context, token domain.DeniedToken) error {
	err := r.client.ZAddArgs(ctx, r.key, red.ZAddArgs{
		GT: true,
		Members: []red.Z{{
			Score:  float64(token.ExpiresAt.UnixMilli()),
			Member: token.JTI,
		}},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis insert denied token: %w", err)
	}
	return nil
}

// DeleteExpired removes members scored at or before now.
func (r *DeniedTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	removed, err := r.client.ZRemRangeByScore(ctx, r.key, "-inf", strconv.FormatInt(now.UnixMilli(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete expired denied tokens: %w", err)
	}
	return removed, nil
}

var _ port.DeniedTokenStore = (*DeniedTokenRepository)(nil)
