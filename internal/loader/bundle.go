package loader

import (
	"context"
	"strings"
	"sync"

	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/resolver"
	"github.com/conneroisu/staticpack/internal/sandbox"
	"github.com/conneroisu/staticpack/pkg/modrt"
)

// table is the artifact table of a loaded bundle with its lookup indices.
type table struct {
	mutex      sync.RWMutex
	entries    map[string]*Entry
	byPublicID map[string]string
	byCacheKey map[string]string
}

func newTable() *table {
	return &table{
		entries:    make(map[string]*Entry),
		byPublicID: make(map[string]string),
		byCacheKey: make(map[string]string),
	}
}

func (t *table) put(id string, entry *Entry) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.entries[id] = entry
}

func (t *table) get(id string) (*Entry, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// merge copies src entries missing from t.
func (t *table) merge(src *table) {
	src.mutex.RLock()
	defer src.mutex.RUnlock()
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for id, entry := range src.entries {
		if _, ok := t.entries[id]; !ok {
			t.entries[id] = entry
		}
	}
	for k, v := range src.byPublicID {
		if _, ok := t.byPublicID[k]; !ok {
			t.byPublicID[k] = v
		}
	}
	for k, v := range src.byCacheKey {
		if _, ok := t.byCacheKey[k]; !ok {
			t.byCacheKey[k] = v
		}
	}
}

// index rebuilds the public id and cache key indices. A pseudo-artifact
// claims its main entry's path over the entry itself.
func (t *table) index(g graph.BundleGraph) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for id, entry := range t.entries {
		key := cacheKey(entry.Asset)
		if owner, ok := t.byCacheKey[key]; !ok || !t.entries[owner].Inline {
			t.byCacheKey[key] = id
		}
		publicID := entry.Asset.PublicID
		if !entry.Inline {
			publicID = g.AssetPublicID(entry.Asset)
		}
		if publicID != "" {
			t.byPublicID[publicID] = id
		}
	}
}

func (t *table) lookupPublicID(publicID string) (string, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	id, ok := t.byPublicID[publicID]
	return id, ok
}

func (t *table) lookupCacheKey(key string) (string, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	id, ok := t.byCacheKey[key]
	return id, ok
}

func cacheKey(asset *graph.Asset) string {
	return sandbox.CacheKey(asset.FilePath, asset.Env.Context)
}

// executionKey is the module cache key an entry runs under. Pseudo-artifacts
// share their main entry's path, so they execute in a namespace of their own.
func executionKey(entry *Entry) string {
	if entry.Inline {
		return sandbox.CacheKey("inline:"+entry.Asset.ID, entry.Asset.Env.Context)
	}
	return cacheKey(entry.Asset)
}

// Bundle is a loaded bundle: its artifact table and the operations that
// execute artifacts from it.
type Bundle struct {
	session *Session
	bundle  *graph.Bundle
	table   *table
}

// Source returns the graph bundle this handle was loaded from.
func (b *Bundle) Source() *graph.Bundle {
	return b.bundle
}

// Assets returns a snapshot of the artifact table keyed by artifact id.
func (b *Bundle) Assets() map[string]*Entry {
	b.table.mutex.RLock()
	defer b.table.mutex.RUnlock()
	out := make(map[string]*Entry, len(b.table.entries))
	for id, e := range b.table.entries {
		out[id] = e
	}
	return out
}

// Load executes the artifact with table id id and returns its exports.
func (b *Bundle) Load(ctx context.Context, id string) (modrt.Exports, error) {
	entry, ok := b.table.get(id)
	if !ok {
		return nil, perrors.NewLoadError(perrors.ErrCodeAssetNotFound, "asset not found in bundle: "+id, nil)
	}

	asset := entry.Asset
	var deps map[string]DepResolution
	if !entry.Inline {
		deps = DependencyMap(b.session.Graph(), b.bundle, asset)
	}

	require := func(ctx context.Context, specifier string) (modrt.Exports, error) {
		res, ok := deps[specifier]
		if ok {
			switch res.Kind {
			case DepSkip:
				return modrt.Empty(), nil
			case DepDirectID:
				return b.Load(ctx, res.ID)
			case DepRaw:
				specifier = res.Specifier
			}
		}

		if strings.HasPrefix(specifier, ".") {
			// Another bundle. Should already be loaded.
			return modrt.Empty(), nil
		}
		return b.LoadModule(ctx, specifier, asset.FilePath, asset.Env.Context)
	}

	return b.session.executor.Run(ctx, entry.Code, asset.FilePath, executionKey(entry), require, b.bundleRequire)
}

// LoadModule resolves specifier from the file from in env and returns the
// module's exports. Files that belong to the table run as artifacts; other
// files are read and executed directly.
func (b *Bundle) LoadModule(ctx context.Context, specifier, from, env string) (modrt.Exports, error) {
	s := b.session
	res, err := s.resolvers.Resolve(specifier, from, env)
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case resolver.Builtin:
		return s.builtins.Load(ctx, res.Value, env)
	case resolver.Empty:
		return modrt.Empty(), nil
	case resolver.Path:
		s.recordInvalidations(res.Invalidations)
		key := sandbox.CacheKey(res.Value, env)
		if id, ok := b.table.lookupCacheKey(key); ok {
			return b.Load(ctx, id)
		}
		if exports, ok := s.modules.Get(key); ok {
			return exports, nil
		}

		filePath := res.Value
		code, err := s.readFile(ctx, filePath)
		if err != nil {
			return nil, err
		}
		require := func(ctx context.Context, specifier string) (modrt.Exports, error) {
			return b.LoadModule(ctx, specifier, filePath, env)
		}
		return s.executor.Run(ctx, code, filePath, key, require, b.bundleRequire)
	}

	return nil, perrors.NewLoadError(perrors.ErrCodeUnknownResolution, "Unknown resolution", nil)
}

// Require loads an artifact by public id.
func (b *Bundle) Require(ctx context.Context, publicID string) (modrt.Exports, error) {
	id, ok := b.table.lookupPublicID(publicID)
	if !ok {
		return nil, perrors.NewLoadError(perrors.ErrCodeAssetNotFound, "no artifact with public id "+publicID, nil)
	}
	return b.Load(ctx, id)
}

// LoadBundle loads the bundle with the given public id or name and merges
// its artifacts into this table.
func (b *Bundle) LoadBundle(ctx context.Context, name string) error {
	target, err := b.session.Graph().FindBundle(name)
	if err != nil {
		return err
	}
	sub, err := b.session.LoadBundle(ctx, target)
	if err != nil {
		return err
	}
	b.table.merge(sub.table)
	return nil
}

// ResolveBundle returns the public URL of the bundle with the given public
// id or name.
func (b *Bundle) ResolveBundle(name string) (string, error) {
	target, err := b.session.Graph().FindBundle(name)
	if err != nil {
		return "", err
	}
	return graph.BundleURL(target), nil
}

// Meta returns the output location of the bundle.
func (b *Bundle) Meta() modrt.Meta {
	return modrt.Meta{DistDir: b.bundle.Target.DistDir, PublicURL: b.bundle.Target.PublicURL}
}

func (b *Bundle) bundleRequire(ctx context.Context) *modrt.BundleRequire {
	return modrt.NewBundleRequire(
		func(publicID string) (modrt.Exports, error) { return b.Require(ctx, publicID) },
		func(name string) error { return b.LoadBundle(ctx, name) },
		b.ResolveBundle,
		b.Meta(),
	)
}
