package core

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	stateTokenSeparator = "."
	stateTokenParts     = 5
	stateNonceBytes     = 32
	stateOwnerHashBytes = 16
	stateClockSkew      = time.Minute
	minStateSecretBytes = 32
)

var (
	errStateMalformed = errors.New("core: oauth state is malformed")
	errStateSignature = errors.New("core: oauth state signature mismatch")
	errStateOwner     = errors.New("core: oauth state owner mismatch")
	errStateExpired   = errors.New("core: oauth state expired")
)

// StateCodec issues and verifies self-verifying state tokens of the form
// <platform>.<issued_at_unix>.<nonce>.<owner_hash>.<signature>.
type StateCodec struct {
	signingKey []byte
	ownerKey   []byte
	ttl        time.Duration
	now        func() time.Time
	random     io.Reader
}

// NewStateCodec derives the signing and owner-binding keys from secret.
func NewStateCodec(secret []byte, ttl time.Duration) (*StateCodec, error) {
	if len(secret) < minStateSecretBytes {
		return nil, fmt.Errorf("core: state secret must be at least %d bytes", minStateSecretBytes)
	}
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	signingKey, err := deriveKey(secret, "adconnect/state/signing")
	if err != nil {
		return nil, err
	}
	ownerKey, err := deriveKey(secret, "adconnect/state/owner")
	if err != nil {
		return nil, err
	}
	return &StateCodec{
		signingKey: signingKey,
		ownerKey:   ownerKey,
		ttl:        ttl,
		now:        func() time.Time { return time.Now().UTC() },
		random:     rand.Reader,
	}, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("core: derive %s key: %w", info, err)
	}
	return key, nil
}

func (c *StateCodec) TTL() time.Duration {
	if c == nil {
		return defaultOAuthStateTTL
	}
	return c.ttl
}

// Issue mints a new state for userID on platform.
func (c *StateCodec) Issue(platform string, userID string) (OAuthState, error) {
	if c == nil {
		return OAuthState{}, fmt.Errorf("core: state codec is not configured")
	}
	platform = strings.TrimSpace(platform)
	if platform == "" || strings.Contains(platform, stateTokenSeparator) {
		return OAuthState{}, fmt.Errorf("core: invalid platform for state %q", platform)
	}
	nonceRaw := make([]byte, stateNonceBytes)
	if _, err := io.ReadFull(c.random, nonceRaw); err != nil {
		return OAuthState{}, fmt.Errorf("core: generate oauth state nonce: %w", err)
	}
	issuedAt := c.now().UTC().Truncate(time.Second)
	nonce := base64.RawURLEncoding.EncodeToString(nonceRaw)
	ownerHash := c.ownerHash(userID)
	payload := strings.Join([]string{
		platform,
		strconv.FormatInt(issuedAt.Unix(), 10),
		nonce,
		ownerHash,
	}, stateTokenSeparator)

	return OAuthState{
		Value:     payload + stateTokenSeparator + c.sign(payload),
		Platform:  platform,
		UserID:    userID,
		Nonce:     nonce,
		OwnerHash: ownerHash,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(c.ttl),
	}, nil
}

// Verify checks signature, owner binding and age of token for userID.
func (c *StateCodec) Verify(token string, userID string) (OAuthState, error) {
	if c == nil {
		return OAuthState{}, fmt.Errorf("core: state codec is not configured")
	}
	parts := strings.Split(strings.TrimSpace(token), stateTokenSeparator)
	if len(parts) != stateTokenParts {
		return OAuthState{}, errStateMalformed
	}
	payload := strings.Join(parts[:4], stateTokenSeparator)
	if !hmac.Equal([]byte(parts[4]), []byte(c.sign(payload))) {
		return OAuthState{}, errStateSignature
	}
	issuedUnix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return OAuthState{}, errStateMalformed
	}
	if subtle.ConstantTimeCompare([]byte(parts[3]), []byte(c.ownerHash(userID))) != 1 {
		return OAuthState{}, errStateOwner
	}

	issuedAt := time.Unix(issuedUnix, 0).UTC()
	now := c.now().UTC()
	if issuedAt.After(now.Add(stateClockSkew)) {
		return OAuthState{}, errStateMalformed
	}
	state := OAuthState{
		Value:     strings.TrimSpace(token),
		Platform:  parts[0],
		UserID:    userID,
		Nonce:     parts[2],
		OwnerHash: parts[3],
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(c.ttl),
	}
	if state.Expired(now) {
		return OAuthState{}, errStateExpired
	}
	return state, nil
}

func (c *StateCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *StateCodec) ownerHash(userID string) string {
	mac := hmac.New(sha256.New, c.ownerKey)
	mac.Write([]byte(strings.TrimSpace(userID)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:stateOwnerHashBytes])
}

// PlatformFromState extracts the platform segment without verifying the token.
func PlatformFromState(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errStateMalformed
	}
	platform, _, ok := strings.Cut(token, stateTokenSeparator)
	if !ok || strings.TrimSpace(platform) == "" {
		return "", errStateMalformed
	}
	return platform, nil
}

func statesEqual(a string, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
