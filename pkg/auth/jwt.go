package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "clipsync"

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// expiry, wrong kind and revocation all look the same to callers.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrRevocationUnavailable is returned when the revocation store cannot be consulted.
	ErrRevocationUnavailable = errors.New("revocation store unavailable")
)

// TokenKind distinguishes access tokens from refresh tokens
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// Claims represents JWT claims
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID string    `json:"device_id"`
	Username string    `json:"username"`
	Kind     TokenKind `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful login or refresh
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// JWTManager handles JWT token operations
type JWTManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	revoked       RevocationStore
	now           func() time.Time
}

// NewJWTManager creates a new JWT manager. A nil store falls back to an
// in-memory blacklist.
func NewJWTManager(secret string, accessExpiry, refreshExpiry time.Duration, store RevocationStore) *JWTManager {
	if store == nil {
		store = NewBlacklist()
	}
	return &JWTManager{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		revoked:       store,
		now:           time.Now,
	}
}

// WithClock replaces the time source, used by tests.
func (j *JWTManager) WithClock(now func() time.Time) *JWTManager {
	j.now = now
	return j
}

// IssueSession signs a fresh access/refresh token pair for a device
func (j *JWTManager) IssueSession(userID uuid.UUID, deviceID, username string) (*TokenPair, error) {
	access, err := j.sign(userID, deviceID, username, AccessToken, j.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := j.sign(userID, deviceID, username, RefreshToken, j.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(j.accessExpiry.Seconds()),
	}, nil
}

func (j *JWTManager) sign(userID uuid.UUID, deviceID, username string, kind TokenKind, ttl time.Duration) (string, error) {
	now := j.now()
	claims := &Claims{
		UserID:   userID,
		DeviceID: deviceID,
		Username: username,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify checks signature, expiry, kind and revocation status
func (j *JWTManager) Verify(ctx context.Context, tokenString string, kind TokenKind) (*Claims, error) {
	claims, err := j.parse(tokenString, true)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}

	revoked, err := j.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is revoked, and only the caller that revoked it gets a pair, so each
// refresh token works once even under concurrent use.
func (j *JWTManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := j.Verify(ctx, refreshToken, RefreshToken)
	if err != nil {
		return nil, err
	}
	first, err := j.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	if !first {
		return nil, ErrInvalidToken
	}
	return j.IssueSession(claims.UserID, claims.DeviceID, claims.Username)
}

// Revoke invalidates a token until its natural expiry. Revoking an already
// revoked or already expired token is a no-op.
func (j *JWTManager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := j.parse(tokenString, false)
	if err != nil {
		return ErrInvalidToken
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(j.now()) {
		return nil
	}
	if _, err := j.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return nil
}

// parse validates the signature. With validate=false the time based claims
// are not checked, so expired tokens can still be inspected.
func (j *JWTManager) parse(tokenString string, validate bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithIssuer(issuer),
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ID == "" || claims.UserID == uuid.Nil {
		return nil, errors.New("missing token identity")
	}
	return claims, nil
}
