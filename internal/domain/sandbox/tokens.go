package sandbox

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// TokenClaims are the claims carried by both token types.
type TokenClaims struct {
	Type  string `json:"typ"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // refresh token id to expiry
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
		revoked:    make(map[string]time.Time),
	}
}

// IssuePair creates a fresh access and refresh token for the user.
func (ti *TokenIssuer) IssuePair(userID, email string) (*TokenPair, error) {
	access, err := ti.sign(tokenTypeAccess, userID, email, ti.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := ti.sign(tokenTypeRefresh, userID, email, ti.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess creates an access token from a verified refresh token.
func (ti *TokenIssuer) IssueAccess(refresh *TokenClaims) (string, error) {
	return ti.sign(tokenTypeAccess, refresh.Subject, refresh.Email, ti.accessTTL)
}

func (ti *TokenIssuer) sign(typ, userID, email string, ttl time.Duration) (string, error) {
	now := ti.now()
	claims := TokenClaims{
		Type:  typ,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

// VerifyAccess validates an access token.
func (ti *TokenIssuer) VerifyAccess(token string) (*TokenClaims, error) {
	return ti.verify(token, tokenTypeAccess)
}

// VerifyRefresh validates a refresh token that has not been revoked.
func (ti *TokenIssuer) VerifyRefresh(token string) (*TokenClaims, error) {
	claims, err := ti.verify(token, tokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	ti.mu.Lock()
	_, revoked := ti.revoked[claims.ID]
	ti.mu.Unlock()
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates a refresh token until it would have expired anyway.
func (ti *TokenIssuer) Revoke(claims *TokenClaims) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	now := ti.now()
	for id, exp := range ti.revoked {
		if exp.Before(now) {
			delete(ti.revoked, id)
		}
	}
	ti.revoked[claims.ID] = claims.ExpiresAt.Time
}

func (ti *TokenIssuer) verify(tokenStr, typ string) (*TokenClaims, error) {
	var claims TokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return ti.secret, nil
	}, jwt.WithTimeFunc(ti.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Type != typ || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}
