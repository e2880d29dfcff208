package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-adconnect/core"
)

const (
	testKeyMaterial    = "0123456789abcdef0123456789abcdef-primary"
	testRetiredKeyText = "0123456789abcdef0123456789abcdef-retired"
)

func TestTokenCipher_EncryptDecryptRoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher([]byte(testKeyMaterial), WithKeyID("tokens"), WithVersion(3))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	plaintext := []byte("ya29.access-token")
	encrypted, err := cipher.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(encrypted, plaintext) {
		t.Fatalf("ciphertext must not contain the plaintext")
	}
	if !IsEnvelope(encrypted) {
		t.Fatalf("expected envelope prefix")
	}
	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "tokens" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	decrypted, err := cipher.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
}

func TestTokenCipher_NoncesDiffer(t *testing.T) {
	cipher, err := NewTokenCipher([]byte(testKeyMaterial))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	first, _ := cipher.Encrypt(context.Background(), []byte("same"))
	second, _ := cipher.Encrypt(context.Background(), []byte("same"))
	if bytes.Equal(first, second) {
		t.Fatalf("expected distinct ciphertexts for the same plaintext")
	}
}

func TestTokenCipher_RejectsShortKeyAndForeignKey(t *testing.T) {
	if _, err := NewTokenCipher([]byte("short")); err == nil {
		t.Fatalf("expected short key material to be rejected")
	}

	issuer, _ := NewTokenCipher([]byte(testKeyMaterial), WithKeyID("tokens"), WithVersion(1))
	receiver, _ := NewTokenCipher([]byte(testKeyMaterial), WithKeyID("tokens"), WithVersion(2))
	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), encrypted); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if _, err := receiver.Decrypt(context.Background(), []byte("plain-token")); err == nil {
		t.Fatalf("expected missing envelope error")
	}
}

func TestTokenCipher_TamperedCiphertextFails(t *testing.T) {
	cipher, _ := NewTokenCipher([]byte(testKeyMaterial))
	encrypted, err := cipher.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := []byte(strings.Replace(string(encrypted), `"ciphertext":"`, `"ciphertext":"AA`, 1))
	if _, err := cipher.Decrypt(context.Background(), tampered); err == nil {
		t.Fatalf("expected tampered payload to fail")
	}
}

func TestTokenCipher_RetiredKeyDecryptsWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old, err := NewTokenCipher([]byte(testRetiredKeyText), WithKeyID("tokens"), WithVersion(1))
	if err != nil {
		t.Fatalf("old cipher: %v", err)
	}
	sealed, err := old.Encrypt(context.Background(), []byte("legacy-token"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	clock := now
	rotated, err := NewTokenCipher([]byte(testKeyMaterial),
		WithKeyID("tokens"),
		WithVersion(2),
		WithRetiredKey("tokens", 1, []byte(testRetiredKeyText), KeyRotationWindow{NotAfter: now.Add(24 * time.Hour)}),
		WithClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("rotated cipher: %v", err)
	}
	if !rotated.NeedsRotation(sealed) {
		t.Fatalf("expected legacy value to need rotation")
	}
	plaintext, err := rotated.Decrypt(context.Background(), sealed)
	if err != nil || string(plaintext) != "legacy-token" {
		t.Fatalf("expected retired key to decrypt, got %q err=%v", plaintext, err)
	}

	clock = now.Add(48 * time.Hour)
	if _, err := rotated.Decrypt(context.Background(), sealed); err == nil {
		t.Fatalf("expected retired key outside its window to fail")
	}
}

func TestNewTokenCipherFromSource_MissingKeyIsConfigurationError(t *testing.T) {
	_, err := NewTokenCipherFromSource(core.MapSecretSource{})
	if !core.IsReason(err, core.ReasonConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	cipher, err := NewTokenCipherFromSource(core.MapSecretSource{core.EncryptionKeySecretName: testKeyMaterial})
	if err != nil || cipher.KeyID() != defaultKeyID {
		t.Fatalf("expected cipher from source, err=%v", err)
	}
}
