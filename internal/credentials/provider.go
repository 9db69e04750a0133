// Package credentials defines the credential provider contract nodes use to
// reach API keys at run time. Storage and encryption of credentials live
// outside the engine; the executor only needs presence checks for its
// pre-flight validation.
package credentials

import (
	"os"
	"strings"
)

// Provider resolves credential keys (e.g. "OPENAI_KEY") at runtime.
type Provider interface {
	// Has reports whether a credential is available under the given key.
	Has(key string) bool
	// Get returns the credential value, or false when absent.
	Get(key string) (string, bool)
}

// StaticProvider serves credentials from an in-memory map. Used by tests and
// by hosts that resolve credentials ahead of time.
type StaticProvider map[string]string

func (p StaticProvider) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p StaticProvider) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// EnvProvider resolves credentials from environment variables, optionally
// under a prefix (e.g. prefix "SIGNALFLOW_" maps key "OPENAI_KEY" to the
// variable "SIGNALFLOW_OPENAI_KEY").
type EnvProvider struct {
	Prefix string
}

func (p EnvProvider) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

func (p EnvProvider) Get(key string) (string, bool) {
	v, ok := os.LookupEnv(p.Prefix + strings.ToUpper(key))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
