package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EnvelopePrefix marks a sealed secret value.
const EnvelopePrefix = "connectors.secret.v1:"

type Option func(*AppKeySealer)

// AppKeySealer seals secret values with AES-GCM under a single application
// key. Sealed values are self-describing so rotation can reject values
// issued under another key id or version.
type AppKeySealer struct {
	key     []byte
	keyID   string
	version int
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func WithKeyID(id string) Option {
	return func(s *AppKeySealer) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			s.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(s *AppKeySealer) {
		if version > 0 {
			s.version = version
		}
	}
}

func NewAppKeySealer(keyMaterial []byte, opts ...Option) (*AppKeySealer, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	sealer := &AppKeySealer{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sealer)
		}
	}
	return sealer, nil
}

// Seal encrypts plaintext and returns the prefixed envelope.
func (s *AppKeySealer) Seal(_ context.Context, plaintext string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: sealer is nil")
	}
	if plaintext == "" {
		return "", fmt.Errorf("security: plaintext is required")
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	data, err := json.Marshal(envelope{
		KeyID:      s.keyID,
		Version:    s.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(plaintext), nil)),
	})
	if err != nil {
		return "", fmt.Errorf("security: encode envelope: %w", err)
	}
	return EnvelopePrefix + string(data), nil
}

// Open decrypts a value produced by Seal.
func (s *AppKeySealer) Open(_ context.Context, sealed string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: sealer is nil")
	}
	payload, ok := strings.CutPrefix(strings.TrimSpace(sealed), EnvelopePrefix)
	if !ok {
		return "", fmt.Errorf("security: value is not a sealed secret")
	}
	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return "", fmt.Errorf("security: decode envelope: %w", err)
	}
	if parsed.KeyID != "" && parsed.KeyID != s.keyID {
		return "", fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, s.keyID)
	}
	if parsed.Version > 0 && parsed.Version != s.version {
		return "", fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, s.version)
	}
	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return "", fmt.Errorf("security: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("security: decode ciphertext: %w", err)
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("security: decrypt payload: %w", err)
	}
	return string(plaintext), nil
}

func (s *AppKeySealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

func (s *AppKeySealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		return append([]byte(nil), value...)
	}
	sum := sha256.Sum256(value)
	return sum[:]
}
