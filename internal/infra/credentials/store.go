package credentials

import (
	"fmt"
	"os"
	"strings"
)

// Credential is a read-only secret injected into remote clients. Its String
// form is redacted so it can be passed through loggers safely.
type Credential struct {
	value string
}

// New wraps a raw secret, trimming surrounding whitespace.
func New(value string) Credential {
	return Credential{value: strings.TrimSpace(value)}
}

// Reveal returns the raw secret for use in an outbound request header.
func (c Credential) Reveal() string {
	return c.value
}

// Empty reports whether no secret was configured.
func (c Credential) Empty() bool {
	return c.value == ""
}

func (c Credential) String() string {
	if c.value == "" {
		return ""
	}
	return "[redacted]"
}

// FromEnv resolves the first non-empty credential among keys. For every key
// a KEY_FILE variant is also honoured, pointing at a file holding the secret
// (as mounted by container secret stores). An empty result is not an error;
// callers decide whether the credential is mandatory.
func FromEnv(keys ...string) (Credential, error) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return New(v), nil
		}
		path := strings.TrimSpace(os.Getenv(key + "_FILE"))
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return Credential{}, fmt.Errorf("read %s_FILE: %w", key, err)
		}
		if v := strings.TrimSpace(string(raw)); v != "" {
			return New(v), nil
		}
	}
	return Credential{}, nil
}
