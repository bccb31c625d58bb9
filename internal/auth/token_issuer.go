package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultMesarioTokenTTL = 12 * time.Hour
	mesarioAudience        = "finishline-mesario"
)

var (
	ErrMissingSigningSecret = errors.New("mesario tokens: signing secret must be provided")
	ErrMissingIssuer        = errors.New("mesario tokens: issuer must be provided")
	ErrMissingSessionClaim  = errors.New("mesario tokens: session and campaign claims must be provided")
	ErrInvalidMesarioToken  = errors.New("mesario tokens: invalid token")
)

// MesarioClaims binds a bearer token to one access-code session and its campaign.
type MesarioClaims struct {
	SessionID  string `json:"sid"`
	CampaignID string `json:"cid"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the mesário token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates mesário bearer tokens after an access-code login.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultMesarioTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue signs a token for the session. The token never outlives notAfter, the access code expiry.
func (i *TokenIssuer) Issue(sessionID, campaignID string, notAfter time.Time) (string, time.Time, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(campaignID) == "" {
		return "", time.Time{}, ErrMissingSessionClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	if !notAfter.IsZero() && notAfter.Before(expiresAt) {
		expiresAt = notAfter.UTC()
	}

	claims := MesarioClaims{
		SessionID:  sessionID,
		CampaignID: campaignID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			Issuer:    i.issuer,
			Audience:  []string{mesarioAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate checks signature, issuer, audience and expiry, and returns the session binding.
func (i *TokenIssuer) Validate(tokenString string) (MesarioClaims, error) {
	claims := &MesarioClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(mesarioAudience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return MesarioClaims{}, fmt.Errorf("%w: %v", ErrInvalidMesarioToken, err)
	}
	if claims.SessionID == "" || claims.CampaignID == "" {
		return MesarioClaims{}, ErrMissingSessionClaim
	}
	return *claims, nil
}
