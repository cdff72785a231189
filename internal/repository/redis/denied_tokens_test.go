package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/transit-tracker/internal/core/domain"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestDeniedTokenRepository_InsertAndLoadActive(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewDeniedTokenRepository(client, "test:denied")
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for _, token := range []domain.DeniedToken{
		{JTI: "expired", ExpiresAt: now.Add(-time.Minute)},
		{JTI: "boundary", ExpiresAt: now},
		{JTI: "active", ExpiresAt: now.Add(time.Hour)},
	} {
		if err := repo.Insert(ctx, token); err != nil {
			t.Fatalf("Insert(%s) returned error: %v", token.JTI, err)
		}
	}
	// Re-inserting with an earlier expiry must not shorten the entry.
	if err := repo.Insert(ctx, domain.DeniedToken{JTI: "active", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	members, err := server.ZMembers("test:denied")
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %v", members)
	}

	tokens, err := repo.LoadActive(ctx, now)
	if err != nil {
		t.Fatalf("LoadActive returned error: %v", err)
	}
	if len(tokens) != 1 || tokens[0].JTI != "active" {
		t.Fatalf("expected only the active token, got %+v", tokens)
	}
	if !tokens[0].ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry %s, got %s", now.Add(time.Hour), tokens[0].ExpiresAt)
	}
}

func TestDeniedTokenRepository_DeleteExpired(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewDeniedTokenRepository(client, "")
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for _, token := range []domain.DeniedToken{
		{JTI: "expired", ExpiresAt: now.Add(-time.Minute)},
		{JTI: "boundary", ExpiresAt: now},
		{JTI: "active", ExpiresAt: now.Add(time.Hour)},
	} {
		if err := repo.Insert(ctx, token); err != nil {
			t.Fatalf("Insert(%s) returned error: %v", token.JTI, err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	members, err := server.ZMembers(defaultDeniedTokensKey)
	if err != nil {
		t.Fatalf("ZMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "active" {
		t.Fatalf("unexpected remaining members %v", members)
	}
}

func TestDeniedTokenRepository_PropagatesErrors(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewDeniedTokenRepository(client, "test:denied")
	server.Close()

	if _, err := repo.LoadActive(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
	if err := repo.Insert(context.Background(), domain.DeniedToken{JTI: "x", ExpiresAt: time.Now()}); err == nil {
		t.Fatal("expected error from unreachable redis")
	}
}
