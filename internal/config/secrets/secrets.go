// Package secrets resolves PROVIDER#KEY references in configuration
// values against a pluggable registry of providers. CLEAR and ENV are
// built in; a driver wires in additional providers (a vault client, a
// cloud secret manager) by calling Register before resolving any value.
package secrets

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Provider resolves a single key to its secret value.
type Provider interface {
	Resolve(key string) (string, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(key string) (string, error)

func (f ProviderFunc) Resolve(key string) (string, error) { return f(key) }

var (
	mu        sync.RWMutex
	providers = map[string]Provider{
		"CLEAR": ProviderFunc(func(key string) (string, error) { return key, nil }),
		"ENV": ProviderFunc(func(key string) (string, error) {
			val, ok := os.LookupEnv(key)
			if !ok {
				return "", fmt.Errorf("secrets: environment variable %q is not set", key)
			}
			return val, nil
		}),
	}
)

// Register adds or replaces the provider for id. Built-in providers
// (CLEAR, ENV) can be overridden by a driver that wants different
// semantics for them.
func Register(id string, p Provider) {
	mu.Lock()
	defer mu.Unlock()
	providers[id] = p
}

// Reset restores the registry to just the built-in providers; used by
// tests that register fakes and must not leak them across cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	providers = map[string]Provider{
		"CLEAR": ProviderFunc(func(key string) (string, error) { return key, nil }),
		"ENV": ProviderFunc(func(key string) (string, error) {
			val, ok := os.LookupEnv(key)
			if !ok {
				return "", fmt.Errorf("secrets: environment variable %q is not set", key)
			}
			return val, nil
		}),
	}
}

// Resolve resolves a PROVIDER#KEY reference. A value with no "#" is
// returned unchanged, so plain literals never need a CLEAR# prefix.
func Resolve(ref string) (string, error) {
	providerID, key, found := strings.Cut(ref, "#")
	if !found {
		return ref, nil
	}

	mu.RLock()
	p, ok := providers[providerID]
	mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("secrets: unknown provider %q", providerID)
	}
	return p.Resolve(key)
}
