package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	a, err := NewAuthenticator("secret", "dinematch")
	require.NoError(t, err)

	token, err := a.Issue("alice", time.Minute)
	require.NoError(t, err)

	userID, err := a.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	a, err := NewAuthenticator("secret", "dinematch")
	require.NoError(t, err)
	other, err := NewAuthenticator("other", "dinematch")
	require.NoError(t, err)

	_, err = a.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	forged, err := other.Issue("alice", time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := a.Issue("alice", -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	anonymous, err := a.Issue("", time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(anonymous)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=abc", nil)
	assert.Equal(t, "abc", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "Bearer xyz", TokenFromRequest(req))
}
