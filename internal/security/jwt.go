package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeAccess = "access"

type Claims struct {
	TokenType    string   `json:"token_type"`
	Roles        []string `json:"roles,omitempty"`
	TokenVersion uint     `json:"tv"`
	// SessionID is the refresh family the token was minted for.
	SessionID    string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the numeric subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return uint(id), nil
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
	now          func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
		now:          time.Now,
	}
}

func (m *JWTManager) SignAccessToken(userID uint, roles []string, tokenVersion uint, ttl time.Duration) (string, error) {
	return m.SignSessionAccessToken(userID, roles, tokenVersion, ttl, "")
}

// SignSessionAccessToken binds the token to a refresh family through the sid
// claim. Every token gets its own jti.
func (m *JWTManager) SignSessionAccessToken(userID uint, roles []string, tokenVersion uint, ttl time.Duration, sessionID string) (string, error) {
	now := m.now()
	claims := Claims{
		TokenType:    tokenTypeAccess,
		Roles:        roles,
		TokenVersion: tokenVersion,
		SessionID:    sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

// ParseAccessToken checks signature, algorithm, issuer, audience, expiry and
// token type.
func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.accessSecret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
