package fluid

import (
	"sort"
	"strings"
	"sync"
)

// =====================================
// Provider Interfaces
// =====================================

// Provider owns the connection behind one or more stores. Adapter packages
// implement it next to their Store type.
type Provider interface {
	// Health checks if the backing store is reachable and responsive.
	// Useful for health check endpoints and monitoring.
	Health() error

	// Close shuts down the provider and releases its connections.
	// Should be called during application shutdown.
	Close() error

	// SupportedFeatures returns the features this provider supports.
	SupportedFeatures() []Feature

	// ProviderInfo returns the provider name, version and database type.
	ProviderInfo() ProviderInfo
}

// =====================================
// Provider Factory and Registry
// =====================================

// ProviderFactory opens providers for one adapter
type ProviderFactory interface {
	// Create connects using the given configuration
	Create(config Config) (Provider, error)

	// SupportedDrivers lists the Config.Driver values the factory accepts
	SupportedDrivers() []string
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ProviderFactory)
)

// RegisterProviderFactory makes an adapter available to OpenProvider. Adapter
// packages call it from init.
func RegisterProviderFactory(name string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(name)] = factory
}

// OpenProvider creates a provider with the factory registered under name.
//
// Example:
//
//	provider, err := fluid.OpenProvider("gorm", fluid.Config{Driver: "sqlite", Database: ":memory:"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
func OpenProvider(name string, config Config) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[strings.ToLower(name)]
	factoriesMu.RUnlock()

	if !ok {
		return nil, configError("no provider factory registered for %q (have %s)",
			name, strings.Join(ProviderFactories(), ", "))
	}
	return factory.Create(config)
}

// ProviderFactories returns the registered factory names, sorted
func ProviderFactories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasFeature reports whether a provider lists a feature
func HasFeature(p Provider, feature Feature) bool {
	for _, f := range p.SupportedFeatures() {
		if f == feature {
			return true
		}
	}
	return false
}
