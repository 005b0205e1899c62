package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds credentials loaded from configuration (gateway access
// tokens, database URLs, API key hashes). fmt and encoding/json see only a
// placeholder; Unmask returns the raw value for the client that needs it.
type SecretString string

// String returns the placeholder.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
