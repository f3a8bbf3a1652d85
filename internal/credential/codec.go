package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"stagepass/pkg/platform/faults"
)

const (
	PrefixLive = "live-"
	PrefixTest = "test-"

	secretBytes   = 32
	displayLength = 8
	// hashPrefixLength is how much of a digest may appear in audit records.
	hashPrefixLength = 8
)

// Token is a freshly generated credential. Plaintext must be handed to the
// caller once and then dropped.
type Token struct {
	Plaintext   string
	Hashed      string
	Prefix      string
	Environment Environment
}

func prefixFor(env Environment) string {
	if env == EnvironmentLive {
		return PrefixLive
	}
	return PrefixTest
}

// Generate creates a token from 32 random bytes under the environment's
// prefix.
func Generate(env Environment) (Token, error) {
	if !env.IsValid() {
		return Token{}, faults.Internal(nil, "generate token for unknown environment "+string(env))
	}
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, faults.Internal(err, "read random bytes for token")
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	prefix := prefixFor(env)
	plaintext := prefix + secret
	return Token{
		Plaintext:   plaintext,
		Hashed:      Hash(plaintext),
		Prefix:      prefix + secret[:displayLength],
		Environment: env,
	}, nil
}

// Hash is the one digest function used at both issuance and validation:
// hex-encoded SHA-256 of the full token including its prefix.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// EnvironmentOf returns the environment encoded in a token's prefix.
func EnvironmentOf(token string) (Environment, bool) {
	switch {
	case strings.HasPrefix(token, PrefixLive) && len(token) > len(PrefixLive):
		return EnvironmentLive, true
	case strings.HasPrefix(token, PrefixTest) && len(token) > len(PrefixTest):
		return EnvironmentTest, true
	}
	return "", false
}

// HashPrefix is the part of a digest that may be recorded for correlation.
func HashPrefix(digest string) string {
	if len(digest) <= hashPrefixLength {
		return digest
	}
	return digest[:hashPrefixLength]
}
