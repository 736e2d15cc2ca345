package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"example.com/clubactivities/internal/auth"
)

var testConfig = auth.Config{Secret: "test-secret", Issuer: "clubactivities-test"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return token
}

func TestParseValidToken(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	token := signToken(t, jwt.MapClaims{
		"sub":         "runner-1",
		"iss":         testConfig.Issuer,
		"exp":         expires.Unix(),
		"scopes":      "activities:read activities:write",
		"admin_clubs": []string{"club-1"},
	})

	claims, err := auth.Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "runner-1", claims.Subject)
	require.Equal(t, []string{"club-1"}, claims.AdminClubs)
	require.True(t, claims.HasScope(auth.ScopeActivitiesRead))
	require.True(t, claims.HasScope(auth.ScopeActivitiesWrite))
	require.WithinDuration(t, expires, claims.ExpiresAt, time.Second)
}

func TestParseRejectsTokenWithoutExpiry(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "runner-1",
		"iss": testConfig.Issuer,
	})

	claims, err := auth.Parse(token, testConfig)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
	require.Nil(t, claims)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "runner-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := auth.Parse(token, testConfig)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestParseRejectsEmptyToken(t *testing.T) {
	_, err := auth.Parse("  ", testConfig)
	require.ErrorIs(t, err, auth.ErrMissingToken)
}
