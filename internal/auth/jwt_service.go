package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultWebhookTokenTTL is the validity of tokens issued by IssueToken.
const DefaultWebhookTokenTTL = time.Hour

// WebhookTokenConfig configures webhook bearer-token verification.
type WebhookTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// WebhookClaims are the claims carried by a webhook caller's token.
type WebhookClaims struct {
	// MeetingID optionally restricts the token to one meeting.
	MeetingID string `json:"mid,omitempty"`
	jwt.RegisteredClaims
}

// WebhookTokenService verifies HS256 tokens presented to the webhook receivers.
type WebhookTokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewWebhookTokenService(cfg WebhookTokenConfig) (*WebhookTokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("webhook token: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultWebhookTokenTTL
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &WebhookTokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// IssueToken signs a token for subject, optionally scoped to one meeting.
func (s *WebhookTokenService) IssueToken(subject, meetingID string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("webhook token: subject is required")
	}

	now := s.now()
	claims := &WebhookClaims{
		MeetingID: meetingID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("webhook token: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token string.
func (s *WebhookTokenService) Validate(tokenString string) (*WebhookClaims, error) {
	if tokenString == "" {
		return nil, errors.New("webhook token: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims WebhookClaims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("webhook token: parse token: %w", err)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("webhook token: invalid issuer")
	}
	return &claims, nil
}

// Allows reports whether the claims permit triggering meetingID.
func (c *WebhookClaims) Allows(meetingID string) bool {
	return c != nil && (c.MeetingID == "" || c.MeetingID == meetingID)
}
