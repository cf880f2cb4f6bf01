// Package secrets reads API keys and other secret values by key name.
package secrets

import "os"

// Store resolves secret values by key name. Absent keys are simply
// omitted from the result, never an error.
type Store interface {
	Resolve(keys []string) map[string]string
}

// EnvStore resolves secrets from the process environment.
type EnvStore struct{}

// Resolve returns the environment values for whichever keys are set.
func (EnvStore) Resolve(keys []string) map[string]string {
	found := make(map[string]string)
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			found[key] = value
		}
	}
	return found
}

// MapStore is a fixed in-memory store, used in tests.
type MapStore map[string]string

// Resolve returns the stored values for whichever keys are present.
func (m MapStore) Resolve(keys []string) map[string]string {
	found := make(map[string]string)
	for _, key := range keys {
		if value, ok := m[key]; ok {
			found[key] = value
		}
	}
	return found
}
