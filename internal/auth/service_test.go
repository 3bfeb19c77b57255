package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bunctl/bunctl/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	tokens, err := store.NewSQLiteTokenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tokens.Close() })

	svc, err := New(tokens, Config{TokenTTL: time.Minute})
	require.NoError(t, err)
	return svc
}

func TestService_IssueThenValidate_ReturnsSubject(t *testing.T) {
	svc := newTestService(t)

	tok, err := svc.Issue(context.Background(), "ci-runner")
	require.NoError(t, err)
	require.NotEmpty(t, tok.Value)

	subject, err := svc.Validate(context.Background(), tok.Value)
	require.NoError(t, err)
	require.Equal(t, "ci-runner", subject)
}

func TestService_Validate_RejectsUnknownToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Validate(context.Background(), "not-a-real-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Validate_RejectsEmptyToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Validate(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Revoke_InvalidatesToken(t *testing.T) {
	svc := newTestService(t)

	tok, err := svc.Issue(context.Background(), "ci-runner")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), tok.Value))

	_, err = svc.Validate(context.Background(), tok.Value)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Validate_RejectsTokenFromDifferentSecret(t *testing.T) {
	tokens, err := store.NewSQLiteTokenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tokens.Close() })

	svcA, err := New(tokens, Config{JWTSecret: "secret-a", TokenTTL: time.Minute})
	require.NoError(t, err)
	svcB, err := New(tokens, Config{JWTSecret: "secret-b", TokenTTL: time.Minute})
	require.NoError(t, err)

	tok, err := svcA.Issue(context.Background(), "ci-runner")
	require.NoError(t, err)

	_, err = svcB.Validate(context.Background(), tok.Value)
	require.ErrorIs(t, err, ErrInvalidToken)
}
