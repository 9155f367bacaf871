package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keygate/internal/store"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", 4)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
	assert.False(t, CheckPassword("not-a-hash", "hunter2"))
}

func TestTokenRoundtrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour, nil)

	token, err := issuer.Issue(42, store.RoleAgent)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, store.RoleAgent, claims.Role)
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour, func() time.Time { return now })

	token, err := issuer.Issue(1, store.RoleAdmin)
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), time.Hour, nil)
	other := NewTokenIssuer([]byte("secret-b"), time.Hour, nil)

	token, err := issuer.Issue(1, store.RoleAdmin)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour, nil)
	_, err := issuer.Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
