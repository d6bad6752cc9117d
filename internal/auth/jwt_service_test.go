package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewWebhookTokenService(WebhookTokenConfig{Secret: "  "})
	require.EqualError(t, err, "webhook token: secret must be provided")
}

func TestIssueAndValidateWebhookToken(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewWebhookTokenService(WebhookTokenConfig{
		Secret: "hook-secret",
		Issuer: "meetrec",
		TTL:    time.Hour,
		Clock:  func() time.Time { return current },
	})
	require.NoError(t, err)

	token, err := svc.IssueToken("summary-service", "m1")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "summary-service", claims.Subject)
	require.Equal(t, "meetrec", claims.Issuer)
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
	require.True(t, claims.Allows("m1"))
	require.False(t, claims.Allows("m2"))

	unscoped, err := svc.IssueToken("summary-service", "")
	require.NoError(t, err)
	claims, err = svc.Validate(unscoped)
	require.NoError(t, err)
	require.True(t, claims.Allows("anything"))

	_, err = svc.IssueToken("", "m1")
	require.Error(t, err)
}

func TestValidateWebhookTokenRejections(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }

	svc, err := NewWebhookTokenService(WebhookTokenConfig{Secret: "hook-secret", Issuer: "meetrec", TTL: time.Minute, Clock: clock})
	require.NoError(t, err)
	other, err := NewWebhookTokenService(WebhookTokenConfig{Secret: "other-secret", Issuer: "meetrec", Clock: clock})
	require.NoError(t, err)
	foreign, err := NewWebhookTokenService(WebhookTokenConfig{Secret: "hook-secret", Issuer: "someone-else", Clock: clock})
	require.NoError(t, err)

	_, err = svc.Validate("")
	require.Error(t, err)

	forged, err := other.IssueToken("caller", "")
	require.NoError(t, err)
	_, err = svc.Validate(forged)
	require.Error(t, err)

	wrongIssuer, err := foreign.IssueToken("caller", "")
	require.NoError(t, err)
	_, err = svc.Validate(wrongIssuer)
	require.EqualError(t, err, "webhook token: invalid issuer")

	token, err := svc.IssueToken("caller", "")
	require.NoError(t, err)
	current = current.Add(2 * time.Minute)
	_, err = svc.Validate(token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateWebhookTokenRejectsOtherAlgorithms(t *testing.T) {
	svc, err := NewWebhookTokenService(WebhookTokenConfig{Secret: "hook-secret"})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "caller"})
	signed, err := token.SignedString([]byte("hook-secret"))
	require.NoError(t, err)

	_, err = svc.Validate(signed)
	require.Error(t, err)
}

func TestWebhookClaimsAllowsNil(t *testing.T) {
	var claims *WebhookClaims
	require.False(t, claims.Allows("m1"))
}
