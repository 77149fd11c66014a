package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	payload := &Payload{
		UserID:      "u-alice",
		DisplayName: "Alice",
		GroupCode:   "ABC123",
	}

	token, err := GenerateToken(payload, "secret", GroupAccessExpiration)
	require.NoError(t, err)

	parsed, err := ParseToken(token, "secret")
	require.NoError(t, err)
	require.Equal(t, "u-alice", parsed.UserID)
	require.Equal(t, "Alice", parsed.DisplayName)
	require.Equal(t, "ABC123", parsed.GroupCode)
	require.Equal(t, TokenIssuer, parsed.Issuer)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken(&Payload{UserID: "u-alice"}, "secret", GroupAccessExpiration)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken(&Payload{UserID: "u-alice"}, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, "secret")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("not-a-token", "secret")
	require.ErrorIs(t, err, ErrTokenInvalid)
}
