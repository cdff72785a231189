package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/transit-tracker/internal/core/domain"
	"github.com/arklim/transit-tracker/internal/core/port"
)

const deniedTokensTable = "tracker.denied_tokens"

// DeniedTokenRepository implements port.DeniedTokenStore using PostgreSQL.
// Every call borrows a pooled connection for the duration of one statement.
type DeniedTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDeniedTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewDeniedTokenRepository(exec pgExecutor) *DeniedTokenRepository {
	return &DeniedTokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// LoadActive returns denied tokens that expire after now.
func (r *DeniedTokenRepository) LoadActive(ctx context.Context, now time.Time) ([]domain.DeniedToken, error) {
	stmt, args, err := r.builder.
		Select("jti", "expires_at").
		From(deniedTokensTable).
		Where(squirrel.Gt{"expires_at": now.UTC()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select denied tokens sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select denied tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.DeniedToken
	for rows.Next() {
		var token domain.DeniedToken
		if err := rows.Scan(&token.JTI, &token.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan denied token: %w", err)
		}
		token.ExpiresAt = token.ExpiresAt.UTC()
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate denied tokens: %w", err)
	}

	return tokens, nil
}

// Insert records a denied token. Re-inserting a known jti is a no-op.
func (r *DeniedTokenRepository) Insert(ctx context.Context, token domain.DeniedToken) error {
	stmt, args, err := r.builder.
		Insert(deniedTokensTable).
		Columns("jti", "expires_at").
		Values(token.JTI, token.ExpiresAt.UTC()).
		Suffix("ON CONFLICT (jti) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert denied token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert denied token: %w", err)
	}
	return nil
}

// DeleteExpired removes denied tokens whose expiry is at or before now and reports how many were removed.
func (r *DeniedTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	stmt, args, err := r.builder.
		Delete(deniedTokensTable).
		Where(squirrel.LtOrEq{"expires_at": now.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete denied tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired denied tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ port.DeniedTokenStore = (*DeniedTokenRepository)(nil)
