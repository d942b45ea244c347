package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Factory constructs a backend instance. Returning an error (for example a
// missing credential) leaves the registry cache untouched.
type Factory func(ctx context.Context) (Provider, error)

// KeyedFactory constructs a backend instance with an explicit API key. It
// serves requests whose credential comes from a per-request override.
type KeyedFactory func(ctx context.Context, apiKey string) (Provider, error)

type registryEntry struct {
	caps    Capabilities
	factory Factory
	keyed   KeyedFactory
}

// Registry is a thread-safe registry mapping backend ids to lazily built
// Provider instances. Successful instances are cached for the life of the
// process; concurrent first resolutions of one id share a single build.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]registryEntry
	instances map[string]Provider
	group     singleflight.Group
	logger    *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries:   make(map[string]registryEntry),
		instances: make(map[string]Provider),
		logger:    logger.With(zap.String("component", "registry")),
	}
}

// Register adds a backend under id. Re-registering an id replaces the
// factory and drops any cached instance.
func (r *Registry) Register(id string, caps Capabilities, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = registryEntry{caps: caps, factory: factory}
	delete(r.instances, id)
}

// RegisterWithOverride is Register plus a keyed factory used when the
// process-wide build fails with MISSING_CREDENTIAL but the request carries
// an override for id. Such instances live only for that request.
func (r *Registry) RegisterWithOverride(id string, caps Capabilities, factory Factory, keyed KeyedFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = registryEntry{caps: caps, factory: factory, keyed: keyed}
	delete(r.instances, id)
}

// RegisterInstance registers an already constructed backend.
func (r *Registry) RegisterInstance(id string, caps Capabilities, p Provider) {
	r.Register(id, caps, func(context.Context) (Provider, error) { return p, nil })
}

// Capabilities returns the static capability declaration of id.
func (r *Registry) Capabilities(id string) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.caps, ok
}

// Resolve returns the cached instance for id, building it on first use.
// When the shared build is missing its credential and ctx carries an
// override for id (see WithCredentialOverrides), an uncached instance keyed
// with that override is returned instead.
func (r *Registry) Resolve(ctx context.Context, id string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.instances[id]
	entry, known := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if !known {
		return nil, types.NewError(types.ErrProviderUnavailable, fmt.Sprintf("backend %q is not registered", id)).
			WithProvider(id)
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.instances[id]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		built, err := entry.factory(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.instances[id] = built
		r.mu.Unlock()
		r.logger.Debug("后端实例已创建", zap.String("backend", id))
		return built, nil
	})
	if err != nil {
		if o, ok := CredentialOverrideFor(ctx, id); ok && entry.keyed != nil && types.IsMissingCredential(err) {
			r.logger.Debug("使用请求级凭据创建临时实例", zap.String("backend", id))
			return entry.keyed(ctx, o.APIKey)
		}
		r.logger.Debug("后端实例创建失败", zap.String("backend", id), zap.Error(err))
		return nil, err
	}
	return v.(Provider), nil
}

// IDs returns the sorted ids of all registered backends.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset drops every cached instance; registrations are kept.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]Provider)
}
