package fluid

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// =====================================
// Repository Registry
// =====================================

// Registry maps collection aliases to repositories. It is populated during
// startup and read-only afterwards; Seal enforces that.
type Registry struct {
	mutex     sync.RWMutex
	opts      options
	hooks     *Hooks
	entries   map[string]*registryEntry
	order     []string
	providers map[string]Provider
	sealed    bool
}

type registryEntry struct {
	collection *Collection
	repository interface{} // Repository[T]
	untyped    EntityRepository
}

// NewRegistry creates an empty registry. Every repository it builds shares
// the registry's hooks, logger and observer.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.hooks == nil {
		o.hooks = NewHooks()
	}
	return &Registry{
		opts:      o,
		hooks:     o.hooks,
		entries:   make(map[string]*registryEntry),
		providers: make(map[string]Provider),
	}
}

// Hooks returns the hook pipeline shared by all collections
func (r *Registry) Hooks() *Hooks {
	return r.hooks
}

// Logger returns the registry logger
func (r *Registry) Logger() *zap.Logger {
	return r.opts.logger
}

// Register registers the default repository over store for a descriptor and
// returns it.
func Register[T any](r *Registry, desc *Descriptor[T], store Store[T]) (Repository[T], error) {
	if desc == nil {
		return nil, configError("repository needs a descriptor")
	}
	if store == nil {
		return nil, configError("collection %q: store must not be nil", desc.Alias())
	}
	repo := NewRepository(desc, store,
		WithLogger(r.opts.logger),
		WithObserver(r.opts.observer),
		WithHooks(r.hooks),
	)
	if err := r.add(desc.Collection, repo, Untyped[T](repo)); err != nil {
		return nil, err
	}
	return repo, nil
}

// MustRegister is Register that panics on error
func MustRegister[T any](r *Registry, desc *Descriptor[T], store Store[T]) Repository[T] {
	repo, err := Register(r, desc, store)
	if err != nil {
		panic(err)
	}
	return repo
}

// RegisterCustom registers a caller-supplied repository for a descriptor
func RegisterCustom[T any](r *Registry, desc *Descriptor[T], repo Repository[T]) error {
	if desc == nil {
		return configError("custom repository needs a descriptor")
	}
	if repo == nil {
		return configError("collection %q: repository must not be nil", desc.Alias())
	}
	return r.add(desc.Collection, repo, Untyped(repo))
}

func (r *Registry) add(c *Collection, repo interface{}, untyped EntityRepository) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.sealed {
		return configError("collection %q: registry is sealed", c.Alias())
	}
	if _, exists := r.entries[c.Alias()]; exists {
		return configError("collection %q is already registered", c.Alias())
	}
	r.entries[c.Alias()] = &registryEntry{collection: c, repository: repo, untyped: untyped}
	r.order = append(r.order, c.Alias())

	r.opts.logger.Debug("collection registered",
		zap.String("collection", c.Alias()),
		zap.String("entity", c.Info().Name),
		zap.String("repository", fmt.Sprintf("%T", repo)),
	)
	return nil
}

// RepositoryOf resolves the typed repository of a collection
func RepositoryOf[T any](r *Registry, alias string) (Repository[T], error) {
	entry, err := r.entry(alias)
	if err != nil {
		return nil, err
	}
	repo, ok := entry.repository.(Repository[T])
	if !ok {
		var zero T
		return nil, configError("collection %q stores %s, not %T", alias, entry.collection.Info().Name, zero)
	}
	return repo, nil
}

// MustRepositoryOf is RepositoryOf that panics on error
func MustRepositoryOf[T any](r *Registry, alias string) Repository[T] {
	repo, err := RepositoryOf[T](r, alias)
	if err != nil {
		panic(err)
	}
	return repo
}

// Resolve returns the untyped repository of a collection
func (r *Registry) Resolve(alias string) (EntityRepository, error) {
	entry, err := r.entry(alias)
	if err != nil {
		return nil, err
	}
	return entry.untyped, nil
}

// Collection returns the metadata of a registered collection
func (r *Registry) Collection(alias string) (*Collection, error) {
	entry, err := r.entry(alias)
	if err != nil {
		return nil, err
	}
	return entry.collection, nil
}

// Collections returns the registered collections in registration order
func (r *Registry) Collections() []*Collection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	collections := make([]*Collection, 0, len(r.order))
	for _, alias := range r.order {
		collections = append(collections, r.entries[alias].collection)
	}
	return collections
}

// Seal stops further registration
func (r *Registry) Seal() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sealed = true
}

func (r *Registry) entry(alias string) (*registryEntry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entry, exists := r.entries[alias]
	if !exists {
		return nil, configError("collection %q is not registered", alias)
	}
	return entry, nil
}

// =====================================
// Providers
// =====================================

// RegisterProvider keeps a provider so the registry can report on and close it
func (r *Registry) RegisterProvider(name string, provider Provider) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.providers[name]; exists {
		return configError("provider %q is already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Provider retrieves a provider by name
func (r *Registry) Provider(name string) (Provider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, configError("provider %q is not registered", name)
	}
	return provider, nil
}

// Health checks every provider and joins the failures
func (r *Registry) Health() error {
	var errs []error
	for _, name := range r.providerNames() {
		provider, _ := r.Provider(name)
		if err := provider.Health(); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every provider and forgets them
func (r *Registry) Close() error {
	r.mutex.Lock()
	providers := r.providers
	r.providers = make(map[string]Provider)
	r.mutex.Unlock()

	var errs []error
	for name, provider := range providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing provider %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) providerNames() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
