package core

import (
	"os"
	"strings"
)

// ClientSecretName is the secret name holding the OAuth client secret of a
// platform, e.g. GOOGLE_ADS_CLIENT_SECRET.
func ClientSecretName(platform string) string {
	return SecretName(platform, "CLIENT_SECRET")
}

func SecretName(platform string, suffix string) string {
	return strings.ToUpper(strings.TrimSpace(platform)) + "_" + strings.ToUpper(strings.TrimSpace(suffix))
}

// EnvSecretSource reads secrets from the process environment. Blank values
// count as missing.
type EnvSecretSource struct {
	Prefix string
}

func (s EnvSecretSource) Lookup(name string) (string, bool) {
	value, ok := os.LookupEnv(s.Prefix + name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

type MapSecretSource map[string]string

func (s MapSecretSource) Lookup(name string) (string, bool) {
	value, ok := s[name]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// ChainSecretSource returns the first hit among its sources.
type ChainSecretSource []SecretSource

func (c ChainSecretSource) Lookup(name string) (string, bool) {
	for _, source := range c {
		if source == nil {
			continue
		}
		if value, ok := source.Lookup(name); ok {
			return value, true
		}
	}
	return "", false
}

// MissingSecretError reports a configuration defect. The message names the
// setting, never its value.
func MissingSecretError(platform string, name string) error {
	return NewFailure(
		ReasonConfigurationError,
		"platform "+platform+" is missing required setting "+name,
		map[string]any{"platform": platform, "missing_setting": name},
	)
}

// Process-level secret names.
const (
	StateSecretName         = "ADCONNECT_STATE_SECRET"
	EncryptionKeySecretName = "ADCONNECT_ENCRYPTION_KEY"
	SessionSecretName       = "ADCONNECT_SESSION_SECRET"
)
