package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenByteLength gives 256 bits of entropy, 64 hex characters.
const tokenByteLength = 32

// GenerateSecureToken returns a random hex token suitable as an API key.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// APIKey is one generated bearer key and the configuration it maps to.
type APIKey struct {
	// Name is the SSM key under /{env}/dinerbell/security/.
	Name string
	// EnvVar is the configuration variable that holds the hash.
	EnvVar    string
	Plaintext string
	Hash      string
}

// keySpecs lists the keys the API authenticates.
var keySpecs = []struct {
	name   string
	envVar string
}{
	{"service_api_key_hash", "SERVICE_API_KEY_HASH"},
	{"cron_api_key_hash", "CRON_API_KEY_HASH"},
}

// GenerateAPIKeys creates a fresh service key and cron key and hashes both
// with hash.
func GenerateAPIKeys(hash func(string) (string, error)) ([]APIKey, error) {
	keys := make([]APIKey, 0, len(keySpecs))
	for _, spec := range keySpecs {
		plain, err := GenerateSecureToken()
		if err != nil {
			return nil, fmt.Errorf("generating %s: %w", spec.name, err)
		}
		h, err := hash(plain)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", spec.name, err)
		}
		keys = append(keys, APIKey{Name: spec.name, EnvVar: spec.envVar, Plaintext: plain, Hash: h})
	}
	return keys, nil
}
