// Package registry ensures that artifact kinds and attribute types exist in
// the case store, creating them on first use and caching the resolved
// handles for the rest of the run.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"

	gocache "github.com/patrickmn/go-cache"

	"amcache/internal/casestore"
)

// ensurer implements create-then-lookup registration for one definition
// type. On return the definition exists, whoever created it.
type ensurer[T any] struct {
	what  string
	cache *gocache.Cache
}

func newEnsurer[T any](what string) ensurer[T] {
	return ensurer[T]{what: what, cache: gocache.New(gocache.NoExpiration, 0)}
}

func (e ensurer[T]) ensure(
	ctx context.Context,
	name string,
	create func(context.Context) (T, error),
	lookup func(context.Context) (T, error),
) (T, error) {
	if v, ok := e.cache.Get(name); ok {
		return v.(T), nil
	}

	if _, err := create(ctx); err != nil && !errors.Is(err, casestore.ErrAlreadyExists) {
		log.Printf("registry: create %s name=%s: %v", e.what, name, err)
	}

	v, err := lookup(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("registry: resolve %s %q: %w", e.what, name, err)
	}
	// Add keeps the first handle if another caller got here first.
	if err := e.cache.Add(name, v, gocache.NoExpiration); err != nil {
		if cached, ok := e.cache.Get(name); ok {
			return cached.(T), nil
		}
	}
	return v, nil
}

func (e ensurer[T]) len() int { return e.cache.ItemCount() }

// Registry resolves artifact kinds and attribute types against a store.
// One Registry lives for one run.
type Registry struct {
	store casestore.Store
	kinds ensurer[casestore.ArtifactKind]
	attrs ensurer[casestore.AttributeType]
}

// New returns a Registry backed by store.
func New(store casestore.Store) *Registry {
	return &Registry{
		store: store,
		kinds: newEnsurer[casestore.ArtifactKind]("artifact kind"),
		attrs: newEnsurer[casestore.AttributeType]("attribute type"),
	}
}

// EnsureArtifactKind returns the artifact kind called name, creating it with
// description if needed.
func (r *Registry) EnsureArtifactKind(ctx context.Context, name, description string) (casestore.ArtifactKind, error) {
	return r.kinds.ensure(ctx, name,
		func(ctx context.Context) (casestore.ArtifactKind, error) {
			return r.store.CreateArtifactKind(ctx, name, description)
		},
		func(ctx context.Context) (casestore.ArtifactKind, error) {
			return r.store.ArtifactKindByName(ctx, name)
		},
	)
}

// EnsureAttributeType returns the attribute type called name, creating it
// if needed. When the type already exists its stored value kind wins over
// kind.
func (r *Registry) EnsureAttributeType(ctx context.Context, name string, kind casestore.ValueKind, label string) (casestore.AttributeType, error) {
	t, err := r.attrs.ensure(ctx, name,
		func(ctx context.Context) (casestore.AttributeType, error) {
			return r.store.CreateAttributeType(ctx, name, kind, label)
		},
		func(ctx context.Context) (casestore.AttributeType, error) {
			return r.store.AttributeTypeByName(ctx, name)
		},
	)
	if err == nil && t.ValueKind != kind {
		log.Printf("registry: attribute type %s registered as %s, requested %s; keeping %s", name, t.ValueKind, kind, t.ValueKind)
	}
	return t, err
}

// Cached reports how many kinds and attribute types are cached.
func (r *Registry) Cached() (kinds, attrs int) {
	return r.kinds.len(), r.attrs.len()
}
