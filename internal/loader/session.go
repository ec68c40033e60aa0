// Package loader assembles the artifacts a bundle needs and executes them on
// demand.
//
// A Session owns every per-build cache: executed modules, loaded bundle
// tables, packaged inline bundles, resolver memos and builtin exports.
// Reset must be called at the start of every build so no state leaks
// between builds.
package loader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/staticpack/internal/cache"
	"github.com/conneroisu/staticpack/internal/config"
	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/logging"
	"github.com/conneroisu/staticpack/internal/resolver"
	"github.com/conneroisu/staticpack/internal/sandbox"
)

// FetchFunc returns the code of an asset.
type FetchFunc func(ctx context.Context, asset *graph.Asset) (string, error)

// Options configures a Session. Graph is required.
type Options struct {
	Graph           graph.BundleGraph
	Fs              afero.Fs
	ProjectRoot     string
	Resolver        config.ResolverConfig
	Concurrency     int
	AllowedPackages []string
	Builtins        *Builtins
	// Inline packages inline bundles; nil uses the bundle's prebuilt
	// contents or its concatenated asset code.
	Inline InlineFunc
	// Fetch overrides how asset code is read; nil reads through the graph.
	Fetch  FetchFunc
	Logger logging.Logger
}

// Entry is one artifact in a bundle table.
type Entry struct {
	Asset *graph.Asset
	Code  string
	// Inline marks the pseudo-artifact of a packaged inline bundle.
	Inline bool
}

// Session is the state of one build.
type Session struct {
	mutex sync.RWMutex
	id    string
	graph graph.BundleGraph

	fs        afero.Fs
	root      string
	resolvers *resolver.Context
	executor  *sandbox.Executor
	modules   *cache.ModuleCache
	bundles   *cache.Memo[*Bundle]
	packaging *cache.Memo[string]
	builtins  *Builtins
	inline    InlineFunc
	fetchFn   FetchFunc
	sem       *semaphore.Weighted
	logger    logging.Logger

	// files consulted by runtime resolutions of the current build
	invalidations map[string]struct{}
}

// NewSession creates a session over opts.Graph.
func NewSession(opts Options) (*Session, error) {
	if opts.Graph == nil {
		return nil, perrors.NewConfigError(perrors.ErrCodeConfigInvalid, "loader session requires a bundle graph")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = config.DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if len(opts.Resolver.Extensions) == 0 {
		opts.Resolver = config.Default().Resolver
	}
	if opts.Builtins == nil {
		opts.Builtins = DefaultBuiltins(opts.ProjectRoot)
	}

	modules := cache.NewModuleCache()
	s := &Session{
		id:        uuid.NewString(),
		graph:     opts.Graph,
		fs:        opts.Fs,
		root:      opts.ProjectRoot,
		resolvers: resolver.NewContext(opts.Fs, opts.ProjectRoot, opts.Resolver),
		executor:  sandbox.NewExecutor(modules, opts.AllowedPackages, opts.Logger),
		modules:   modules,
		bundles:   cache.NewMemo[*Bundle](),
		packaging: cache.NewMemo[string](),
		builtins:  opts.Builtins,
		inline:    opts.Inline,
		fetchFn:   opts.Fetch,
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		logger:    opts.Logger.WithComponent("loader"),

		invalidations: make(map[string]struct{}),
	}
	if s.inline == nil {
		s.inline = s.DefaultInline
	}
	return s, nil
}

// ID identifies the current build.
func (s *Session) ID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.id
}

// Graph returns the bundle graph of the current build.
func (s *Session) Graph() graph.BundleGraph {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.graph
}

// Resolvers returns the session's resolution context.
func (s *Session) Resolvers() *resolver.Context {
	return s.resolvers
}

// Modules returns the module cache.
func (s *Session) Modules() *cache.ModuleCache {
	return s.modules
}

// SetInline replaces the inline bundle packager.
func (s *Session) SetInline(fn InlineFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.inline = fn
}

func (s *Session) inlineFunc() InlineFunc {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.inline
}

// Reset starts a new build: every cache is cleared and a fresh id is
// assigned.
func (s *Session) Reset() {
	s.mutex.Lock()
	s.id = uuid.NewString()
	s.invalidations = make(map[string]struct{})
	s.mutex.Unlock()

	s.modules.Reset()
	s.bundles.Reset()
	s.packaging.Reset()
	s.resolvers.Reset()
	s.builtins.Reset()
}

// Invalidations lists, sorted, the files whose change or creation can alter
// a module resolution made during the current build.
func (s *Session) Invalidations() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	files := make([]string, 0, len(s.invalidations))
	for f := range s.invalidations {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (s *Session) recordInvalidations(inv resolver.Invalidations) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, f := range inv.OnChange {
		s.invalidations[f] = struct{}{}
	}
	for _, f := range inv.OnCreate {
		s.invalidations[f] = struct{}{}
	}
}

// Rebuild swaps in a new graph and resets.
func (s *Session) Rebuild(g graph.BundleGraph) {
	s.mutex.Lock()
	s.graph = g
	s.mutex.Unlock()
	s.Reset()
}

// LoadBundle returns the artifact table of bundle, loading it on first use.
// Any failure aborts the whole load and nothing is memoized.
func (s *Session) LoadBundle(ctx context.Context, bundle *graph.Bundle) (*Bundle, error) {
	loaded, _, err := s.bundles.DoContext(ctx, bundle.ID, func(ctx context.Context) (*Bundle, error) {
		return s.loadBundleUncached(ctx, bundle)
	})
	if err != nil {
		return nil, err
	}
	return loaded, nil
}

func (s *Session) loadBundleUncached(ctx context.Context, bundle *graph.Bundle) (*Bundle, error) {
	perf := logging.StartOperation(s.logger.With("session", s.ID(), "bundle", bundle.Name), "load_bundle")
	g := s.Graph()

	group, gctx := errgroup.WithContext(ctx)
	table := newTable()

	err := g.Traverse(bundle, func(node graph.Node) error {
		switch node.Kind {
		case graph.NodeDependency:
			ref, ok := g.ReferencedBundle(node.Dependency, bundle)
			if !ok {
				return nil
			}
			if ref.IsInline() {
				group.Go(func() error {
					entry, err := s.inlineEntry(gctx, ref)
					if err != nil {
						return err
					}
					table.put(ref.ID, entry)
					return nil
				})
				return nil
			}
			group.Go(func() error {
				sub, err := s.LoadBundle(gctx, ref)
				if err != nil {
					return err
				}
				table.merge(sub.table)
				return nil
			})
		case graph.NodeAsset:
			asset := node.Asset
			group.Go(func() error {
				code, err := s.fetch(gctx, asset)
				if err != nil {
					return err
				}
				table.put(asset.ID, &Entry{Asset: asset, Code: code})
				return nil
			})
		}
		return nil
	})
	if waitErr := group.Wait(); err == nil {
		err = waitErr
	}
	if err != nil {
		perf.EndWithError(ctx, err)
		if perrors.IsBundleNotFound(err) {
			return nil, err
		}
		return nil, perrors.NewLoadError(perrors.ErrCodeLoadFailed,
			fmt.Sprintf("loading bundle %s", bundle.Name), err)
	}

	table.index(g)
	perf.End(ctx)
	return &Bundle{session: s, bundle: bundle, table: table}, nil
}

// fetch reads asset code under the session's concurrency bound.
func (s *Session) fetch(ctx context.Context, asset *graph.Asset) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	var (
		code string
		err  error
	)
	if s.fetchFn != nil {
		code, err = s.fetchFn(ctx, asset)
	} else {
		code, err = s.Graph().AssetCode(ctx, asset)
	}
	if err != nil {
		return "", perrors.NewLoadError(perrors.ErrCodeFetchFailed,
			fmt.Sprintf("fetching asset %s", asset.ID), err).WithFile(asset.FilePath)
	}
	return code, nil
}

// readFile reads a file outside the graph under the concurrency bound.
func (s *Session) readFile(ctx context.Context, path string) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", perrors.NewIOError(perrors.ErrCodeFileNotFound, "reading module", err).WithFile(path)
	}
	return string(data), nil
}
