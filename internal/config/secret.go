package config

import "log/slog"

// Secret is a sensitive configuration value that remembers whether it was
// set at all, so an unset key and an intentionally blank one can be told
// apart. String never reveals the value.
type Secret struct {
	value string
	set   bool
}

// NewSecret returns a secret that is set to value
func NewSecret(value string) Secret {
	return Secret{value: value, set: true}
}

// Value returns the raw secret
func (s Secret) Value() string {
	return s.value
}

// IsSet reports whether the key was present in the environment
func (s Secret) IsSet() bool {
	return s.set
}

// IsEmpty reports whether the secret is unset or blank
func (s Secret) IsEmpty() bool {
	return s.value == ""
}

// String masks the value for logs and CLI output
func (s Secret) String() string {
	switch {
	case !s.set:
		return "(not set)"
	case s.value == "":
		return "(empty)"
	default:
		return Mask(s.value)
	}
}

// LogValue keeps secrets out of structured logs
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Mask shows the first and last four characters of long values
func Mask(value string) string {
	if len(value) <= 12 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
