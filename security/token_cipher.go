package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goliatone/go-adconnect/core"
	"golang.org/x/crypto/hkdf"
)

const (
	minKeyMaterialBytes = 32
	encryptionKeyInfo   = "adconnect/token/encryption"
	defaultKeyID        = "app-key"
)

type Option func(*TokenCipher) error

type keyVersion struct {
	id      string
	version int
	key     []byte
	window  KeyRotationWindow
}

// TokenCipher seals OAuth tokens in an AES-256-GCM envelope. The primary key
// encrypts; retired keys still decrypt inside their rotation window.
type TokenCipher struct {
	primary keyVersion
	retired map[string]keyVersion
	now     func() time.Time
	random  io.Reader
}

func WithKeyID(id string) Option {
	return func(c *TokenCipher) error {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			c.primary.id = trimmed
		}
		return nil
	}
}

func WithVersion(version int) Option {
	return func(c *TokenCipher) error {
		if version > 0 {
			c.primary.version = version
		}
		return nil
	}
}

// WithRetiredKey keeps an earlier key available for decryption.
func WithRetiredKey(id string, version int, material []byte, window KeyRotationWindow) Option {
	return func(c *TokenCipher) error {
		key, err := deriveEncryptionKey(material)
		if err != nil {
			return err
		}
		entry := keyVersion{id: strings.TrimSpace(id), version: version, key: key, window: window}
		if entry.id == "" || entry.version <= 0 {
			return fmt.Errorf("security: retired key requires id and version")
		}
		c.retired[keyRef(entry.id, entry.version)] = entry
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *TokenCipher) error {
		if now != nil {
			c.now = now
		}
		return nil
	}
}

func NewTokenCipher(material []byte, opts ...Option) (*TokenCipher, error) {
	key, err := deriveEncryptionKey(material)
	if err != nil {
		return nil, err
	}
	c := &TokenCipher{
		primary: keyVersion{id: defaultKeyID, version: 1, key: key},
		retired: map[string]keyVersion{},
		now:     time.Now,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if _, clash := c.retired[keyRef(c.primary.id, c.primary.version)]; clash {
		return nil, fmt.Errorf("security: retired key %s collides with the primary key", keyRef(c.primary.id, c.primary.version))
	}
	return c, nil
}

// NewTokenCipherFromSource reads ADCONNECT_ENCRYPTION_KEY from source.
func NewTokenCipherFromSource(source core.SecretSource, opts ...Option) (*TokenCipher, error) {
	if source == nil {
		return nil, fmt.Errorf("security: secret source is required")
	}
	material, ok := source.Lookup(core.EncryptionKeySecretName)
	if !ok {
		return nil, core.NewFailure(
			core.ReasonConfigurationError,
			"missing required setting "+core.EncryptionKeySecretName,
			map[string]any{"missing_setting": core.EncryptionKeySecretName},
		)
	}
	return NewTokenCipher([]byte(material), opts...)
}

func (c *TokenCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: token cipher is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	if !c.primary.window.Allows(c.now()) {
		return nil, fmt.Errorf("security: key %s is outside its rotation window", keyRef(c.primary.id, c.primary.version))
	}
	gcm, err := newGCM(c.primary.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	return encodeEnvelope(envelope{
		KeyID:      c.primary.id,
		Version:    c.primary.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      encodeBytes(nonce),
		Ciphertext: encodeBytes(gcm.Seal(nil, nonce, plaintext, nil)),
	})
}

func (c *TokenCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("security: token cipher is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	entry, err := c.keyFor(env.KeyID, env.Version)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeBytes("nonce", env.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeBytes("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(entry.key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce length")
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// NeedsRotation reports whether a stored value was sealed by a key other
// than the primary one.
func (c *TokenCipher) NeedsRotation(ciphertext []byte) bool {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return true
	}
	return meta.KeyID != c.primary.id || meta.Version != c.primary.version
}

func (c *TokenCipher) KeyID() string {
	if c == nil {
		return ""
	}
	return c.primary.id
}

func (c *TokenCipher) Version() int {
	if c == nil {
		return 0
	}
	return c.primary.version
}

func (c *TokenCipher) keyFor(id string, version int) (keyVersion, error) {
	if id == c.primary.id && version == c.primary.version {
		return c.primary, nil
	}
	entry, ok := c.retired[keyRef(id, version)]
	if !ok {
		return keyVersion{}, fmt.Errorf("security: unknown key %s", keyRef(id, version))
	}
	if !entry.window.Allows(c.now()) {
		return keyVersion{}, fmt.Errorf("security: key %s is outside its rotation window", keyRef(id, version))
	}
	return entry, nil
}

func deriveEncryptionKey(material []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(material)
	if len(trimmed) < minKeyMaterialBytes {
		return nil, fmt.Errorf("security: key material must be at least %d bytes", minKeyMaterialBytes)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, trimmed, nil, []byte(encryptionKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("security: derive encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func keyRef(id string, version int) string {
	return fmt.Sprintf("%s@v%d", id, version)
}

var _ core.SecretProvider = (*TokenCipher)(nil)
