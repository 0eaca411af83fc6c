package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Method is the only payload cipher the server speaks
const Method = "AES-256-CBC"

const sessionKeySize = 32

var (
	ErrNoSessionKey   = errors.New("no session key established")
	ErrDecryption     = errors.New("payload decryption failed")
	ErrIntegrity      = errors.New("payload integrity check failed")
	ErrInvalidKey     = errors.New("invalid session key")
	ErrUnknownMethod  = errors.New("unsupported encryption method")
	ErrMalformedInput = errors.New("malformed encrypted payload")
)

// Payload is an encrypted clipboard body as it travels over the wire
type Payload struct {
	EncryptedContent string    `json:"encrypted_content" binding:"required"`
	ContentHash      string    `json:"content_hash" binding:"required"`
	Method           string    `json:"encryption_method"`
	Timestamp        time.Time `json:"timestamp"`
}

// Manager owns the server keypair and the per-user session keys
type Manager struct {
	private   *rsa.PrivateKey
	publicPEM string

	mu   sync.RWMutex
	keys map[uuid.UUID][]byte
}

// NewManager generates a fresh RSA keypair of the given size
func NewManager(bits int) (*Manager, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return newManager(key)
}

// NewManagerFromPEM loads a PKCS#1 or PKCS#8 encoded RSA private key
func NewManagerFromPEM(data []byte) (*Manager, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return newManager(key)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return newManager(key)
}

// LoadOrGenerate reads the key at path when it is set, otherwise generates one
func LoadOrGenerate(path string, bits int) (*Manager, error) {
	if path == "" {
		return NewManager(bits)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rsa key: %w", err)
	}
	return NewManagerFromPEM(data)
}

func newManager(key *rsa.PrivateKey) (*Manager, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &Manager{
		private:   key,
		publicPEM: string(pub),
		keys:      make(map[uuid.UUID][]byte),
	}, nil
}

// PublicKeyPEM returns the server public key clients wrap their session key with
func (m *Manager) PublicKeyPEM() string {
	return m.publicPEM
}

// ExchangeSessionKey unwraps a base64 RSA-OAEP(SHA-256) encrypted AES key and
// installs it for the user, replacing any previous key.
func (m *Manager) ExchangeSessionKey(userID uuid.UUID, encryptedKey string) error {
	wrapped, err := base64.StdEncoding.DecodeString(encryptedKey)
	if err != nil {
		return ErrInvalidKey
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, m.private, wrapped, nil)
	if err != nil {
		return ErrInvalidKey
	}
	return m.SetSessionKey(userID, key)
}

// SetSessionKey installs a raw 32-byte key for the user
func (m *Manager) SetSessionKey(userID uuid.UUID, key []byte) error {
	if len(key) != sessionKeySize {
		return ErrInvalidKey
	}
	stored := make([]byte, sessionKeySize)
	copy(stored, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.keys[userID]; ok {
		wipe(old)
	}
	m.keys[userID] = stored
	return nil
}

// HasSessionKey reports whether the user completed a key exchange
func (m *Manager) HasSessionKey(userID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[userID]
	return ok
}

// RemoveSessionKey destroys the user's key
func (m *Manager) RemoveSessionKey(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.keys[userID]; ok {
		wipe(key)
		delete(m.keys, userID)
	}
}

func (m *Manager) sessionKey(userID uuid.UUID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[userID]
	if !ok {
		return nil, ErrNoSessionKey
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// Encrypt seals plaintext with the user's session key
func (m *Manager) Encrypt(userID uuid.UUID, plaintext string) (*Payload, error) {
	key, err := m.sessionKey(userID)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	sealed, err := EncryptCBC(key, []byte(plaintext))
	if err != nil {
		return nil, err
	}
	return &Payload{
		EncryptedContent: base64.StdEncoding.EncodeToString(sealed),
		ContentHash:      Hash(plaintext),
		Method:           Method,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// Decrypt opens a payload with the user's session key and checks its content hash
func (m *Manager) Decrypt(userID uuid.UUID, p *Payload) (string, error) {
	if p == nil {
		return "", ErrMalformedInput
	}
	if p.Method != "" && p.Method != Method {
		return "", ErrUnknownMethod
	}
	key, err := m.sessionKey(userID)
	if err != nil {
		return "", err
	}
	defer wipe(key)

	sealed, err := base64.StdEncoding.DecodeString(p.EncryptedContent)
	if err != nil {
		return "", ErrMalformedInput
	}
	plain, err := DecryptCBC(key, sealed)
	if err != nil {
		return "", err
	}
	if Hash(string(plain)) != p.ContentHash {
		return "", ErrIntegrity
	}
	return string(plain), nil
}

// EncryptCBC returns IV || AES-CBC(PKCS#7(plaintext))
func EncryptCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// DecryptCBC reverses EncryptCBC
func DecryptCBC(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(sealed) < 2*aes.BlockSize || len(sealed)%aes.BlockSize != 0 {
		return nil, ErrDecryption
	}

	iv, body := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return unpad(plain, aes.BlockSize)
}

// Hash is the hex SHA-256 checksum used for clipboard integrity
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrDecryption
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, ErrDecryption
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrDecryption
		}
	}
	return data[:len(data)-n], nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
