package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/transit-tracker/internal/core/domain"
)

func TestDeniedTokenRepository_LoadActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeniedTokenRepository(mock)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"jti", "expires_at"}).
		AddRow("jti-1", now.Add(time.Minute)).
		AddRow("jti-2", now.Add(time.Hour))

	mock.ExpectQuery(`SELECT jti, expires_at FROM tracker\.denied_tokens WHERE expires_at > \$1`).
		WithArgs(now).
		WillReturnRows(rows)

	tokens, err := repo.LoadActive(context.Background(), now)
	if err != nil {
		t.Fatalf("LoadActive returned error: %v", err)
	}
	if len(tokens) != 2 || tokens[0].JTI != "jti-1" || !tokens[1].ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeniedTokenRepository_InsertIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeniedTokenRepository(mock)
	token := domain.DeniedToken{JTI: "jti-1", ExpiresAt: time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC)}

	mock.ExpectExec(`INSERT INTO tracker\.denied_tokens \(jti,expires_at\) VALUES \(\$1,\$2\) ON CONFLICT \(jti\) DO NOTHING`).
		WithArgs(token.JTI, token.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO tracker\.denied_tokens`).
		WithArgs(token.JTI, token.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	for i := 0; i < 2; i++ {
		if err := repo.Insert(context.Background(), token); err != nil {
			t.Fatalf("Insert #%d returned error: %v", i+1, err)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeniedTokenRepository_InsertPropagatesErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeniedTokenRepository(mock)
	dbErr := errors.New("connection reset")

	mock.ExpectExec(`INSERT INTO tracker\.denied_tokens`).
		WithArgs("jti-1", pgxmock.AnyArg()).
		WillReturnError(dbErr)

	err = repo.Insert(context.Background(), domain.DeniedToken{JTI: "jti-1", ExpiresAt: time.Now()})
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestDeniedTokenRepository_DeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDeniedTokenRepository(mock)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM tracker\.denied_tokens WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := repo.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 rows removed, got %d", removed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
