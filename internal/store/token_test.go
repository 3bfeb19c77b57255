package store

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteTokenStore_CreateThenGet(t *testing.T) {
	ts, err := NewSQLiteTokenStore(":memory:")
	if err != nil {
		t.Fatalf("open token store: %v", err)
	}
	defer func() { _ = ts.Close() }()

	now := time.Now()
	tok := Token{Value: "tok-1", Subject: "ci-runner", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := ts.Create(context.Background(), tok); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := ts.Get(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Subject != "ci-runner" {
		t.Fatalf("expected subject ci-runner, got %q", got.Subject)
	}
}

func TestSQLiteTokenStore_GetMissingReturnsErrTokenNotFound(t *testing.T) {
	ts, err := NewSQLiteTokenStore(":memory:")
	if err != nil {
		t.Fatalf("open token store: %v", err)
	}
	defer func() { _ = ts.Close() }()

	if _, err := ts.Get(context.Background(), "nope"); err != ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestSQLiteTokenStore_RevokeRemovesToken(t *testing.T) {
	ts, err := NewSQLiteTokenStore(":memory:")
	if err != nil {
		t.Fatalf("open token store: %v", err)
	}
	defer func() { _ = ts.Close() }()

	now := time.Now()
	tok := Token{Value: "tok-1", Subject: "ci-runner", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := ts.Create(context.Background(), tok); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ts.Revoke(context.Background(), "tok-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := ts.Get(context.Background(), "tok-1"); err != ErrTokenNotFound {
		t.Fatalf("expected revoked token to be gone, got %v", err)
	}
}

func TestSQLiteTokenStore_RevokeMissingReturnsErrTokenNotFound(t *testing.T) {
	ts, err := NewSQLiteTokenStore(":memory:")
	if err != nil {
		t.Fatalf("open token store: %v", err)
	}
	defer func() { _ = ts.Close() }()

	if err := ts.Revoke(context.Background(), "nope"); err != ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}
