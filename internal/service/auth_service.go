package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/quocanhngo/clipsync/internal/repository"
	"github.com/quocanhngo/clipsync/pkg/auth"
	"github.com/quocanhngo/clipsync/pkg/encryption"
	"golang.org/x/crypto/bcrypt"
)

const tokenType = "Bearer"

// UserStore is the user persistence AuthService needs
type UserStore interface {
	Create(user *model.User) error
	FindByID(id uuid.UUID) (*model.User, error)
	FindByUsername(username string) (*model.User, error)
	ExistsByUsername(username string) (bool, error)
}

// DeviceRegistry is the device persistence AuthService needs
type DeviceRegistry interface {
	Upsert(device *model.Device) error
	FindByID(id string) (*model.Device, error)
}

// SessionKeys holds the per-user symmetric keys negotiated by key exchange
type SessionKeys interface {
	PublicKeyPEM() string
	ExchangeSessionKey(userID uuid.UUID, encryptedKey string) error
	RemoveSessionKey(userID uuid.UUID)
}

// PresenceMarker clears a device's online marker
type PresenceMarker interface {
	MarkOffline(ctx context.Context, userID uuid.UUID, deviceID string) error
}

// AuthService handles authentication business logic
type AuthService struct {
	users      UserStore
	devices    DeviceRegistry
	jwtManager *auth.JWTManager
	keys       SessionKeys
	presence   PresenceMarker
	now        func() time.Time
}

func NewAuthService(
	users UserStore,
	devices DeviceRegistry,
	jwtManager *auth.JWTManager,
	keys SessionKeys,
	presence PresenceMarker,
) *AuthService {
	return &AuthService{
		users:      users,
		devices:    devices,
		jwtManager: jwtManager,
		keys:       keys,
		presence:   presence,
		now:        time.Now,
	}
}

// ==================== Register ====================

// Register creates an active account
func (s *AuthService) Register(req model.RegisterRequest) (*model.UserResponse, error) {
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 50 || len(req.Password) < 6 {
		return nil, model.ErrInvalidInput
	}

	exists, err := s.users.ExistsByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, model.ErrUsernameTaken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		Username:     username,
		PasswordHash: string(hashedPassword),
		IsActive:     true,
	}
	if err := s.users.Create(user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Printf("👤 Registered user %s", user.Username)
	resp := user.ToResponse()
	return &resp, nil
}

// ==================== Login ====================

// Login verifies the password, records the device and issues a session.
// An unknown username and a wrong password produce the same error.
func (s *AuthService) Login(req model.LoginRequest, clientIP string) (*model.LoginResponse, error) {
	user, err := s.users.FindByUsername(strings.TrimSpace(req.Username))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, model.ErrAccountDisabled
	}

	info := req.DeviceInfo
	if info.DeviceID == "" {
		return nil, model.ErrInvalidInput
	}
	existing, err := s.devices.FindByID(info.DeviceID)
	switch {
	case err == nil && existing.UserID != user.ID:
		return nil, model.ErrForbidden
	case err != nil && !repository.IsNotFound(err):
		return nil, fmt.Errorf("find device: %w", err)
	}

	label := info.Label
	if label == "" {
		label = info.DeviceID
		if len(label) > 50 {
			label = label[:50]
		}
	}
	device := &model.Device{
		ID:        info.DeviceID,
		UserID:    user.ID,
		Label:     label,
		OSInfo:    info.OSInfo,
		IPAddress: clientIP,
		PushToken: info.PushToken,
		LastSeen:  s.now().UTC(),
	}
	if err := s.devices.Upsert(device); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}

	pair, err := s.jwtManager.IssueSession(user.ID, device.ID, user.Username)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	log.Printf("🔑 Login: user=%s device=%s ip=%s", user.Username, device.ID, clientIP)
	return &model.LoginResponse{
		AccessToken:       pair.AccessToken,
		RefreshToken:      pair.RefreshToken,
		TokenType:         tokenType,
		ExpiresIn:         pair.ExpiresIn,
		User:              user.ToResponse(),
		DeviceID:          device.ID,
		ServerPublicKey:   s.keys.PublicKeyPEM(),
		EncryptionEnabled: true,
	}, nil
}

// ==================== Tokens ====================

// Refresh rotates a refresh token into a new pair
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	pair, err := s.jwtManager.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, tokenErr(err)
	}
	return &model.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// VerifyAccess validates an access token and checks the account is still active
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.jwtManager.Verify(ctx, token, auth.AccessToken)
	if err != nil {
		return nil, tokenErr(err)
	}

	user, err := s.users.FindByID(claims.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, model.ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if !user.IsActive {
		return nil, model.ErrAccountDisabled
	}
	return claims, nil
}

// Logout revokes the presented tokens, forgets the session key and clears
// the device presence. The refresh token is optional.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims, accessToken, refreshToken string) error {
	if err := s.jwtManager.Revoke(ctx, accessToken); err != nil {
		return tokenErr(err)
	}
	if refreshToken != "" {
		if err := s.jwtManager.Revoke(ctx, refreshToken); err != nil && !errors.Is(err, auth.ErrInvalidToken) {
			return tokenErr(err)
		}
	}

	s.keys.RemoveSessionKey(claims.UserID)
	if s.presence != nil {
		if err := s.presence.MarkOffline(ctx, claims.UserID, claims.DeviceID); err != nil {
			log.Printf("⚠️  Failed to clear presence for %s: %v", claims.DeviceID, err)
		}
	}
	log.Printf("👋 Logout: user=%s device=%s", claims.Username, claims.DeviceID)
	return nil
}

// tokenErr maps token package errors onto the shared sentinels
func tokenErr(err error) error {
	switch {
	case errors.Is(err, auth.ErrRevocationUnavailable):
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	case errors.Is(err, auth.ErrInvalidToken):
		return model.ErrInvalidToken
	}
	return err
}

// ==================== Encryption ====================

// PublicKey returns the server key clients wrap their session key with
func (s *AuthService) PublicKey() *model.PublicKeyResponse {
	return &model.PublicKeyResponse{
		PublicKey: s.keys.PublicKeyPEM(),
		Algorithm: "RSA-OAEP-SHA256",
		Cipher:    encryption.Method,
	}
}

// ExchangeSessionKey installs the session key the client wrapped with the public key
func (s *AuthService) ExchangeSessionKey(userID uuid.UUID, encryptedKey string) error {
	if err := s.keys.ExchangeSessionKey(userID, encryptedKey); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidInput, err)
	}
	log.Printf("🔐 Session key installed for user %s", userID)
	return nil
}

// ==================== Profile ====================

// Profile returns the current user's profile
func (s *AuthService) Profile(userID uuid.UUID) (*model.UserResponse, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	resp := user.ToResponse()
	return &resp, nil
}
