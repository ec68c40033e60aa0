package loader

import (
	"context"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/staticpack/internal/cache"
	"github.com/conneroisu/staticpack/pkg/modrt"
)

// BuiltinProvider builds the exports of a platform builtin for env.
type BuiltinProvider func(ctx context.Context, env string) (modrt.Exports, error)

// Builtins is the registry of platform modules artifacts can require on the
// server. Exports are built once per name and environment until Reset.
type Builtins struct {
	mutex     sync.RWMutex
	providers map[string]BuiltinProvider
	loaded    *cache.Memo[modrt.Exports]
}

// NewBuiltins creates an empty registry.
func NewBuiltins() *Builtins {
	return &Builtins{
		providers: make(map[string]BuiltinProvider),
		loaded:    cache.NewMemo[modrt.Exports](),
	}
}

// DefaultBuiltins provides "path" and "process".
func DefaultBuiltins(projectRoot string) *Builtins {
	b := NewBuiltins()
	b.Register("path", pathBuiltin)
	b.Register("process", processBuiltin(projectRoot))
	return b
}

// Register adds or replaces a provider.
func (b *Builtins) Register(name string, provider BuiltinProvider) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.providers[name] = provider
}

// Names lists the registered builtins.
func (b *Builtins) Names() []string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	names := make([]string, 0, len(b.providers))
	for name := range b.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the exports of builtin name. Unknown builtins yield empty
// exports.
func (b *Builtins) Load(ctx context.Context, name, env string) (modrt.Exports, error) {
	name = strings.TrimPrefix(name, "node:")

	b.mutex.RLock()
	provider, ok := b.providers[name]
	b.mutex.RUnlock()
	if !ok {
		return modrt.Empty(), nil
	}

	exports, _, err := b.loaded.Do(name+"#"+env, func() (modrt.Exports, error) {
		return provider(ctx, env)
	})
	return exports, err
}

// Reset drops built exports.
func (b *Builtins) Reset() {
	b.loaded.Reset()
}

func pathBuiltin(ctx context.Context, env string) (modrt.Exports, error) {
	return modrt.Exports{
		"join":    path.Join,
		"dirname": path.Dir,
		"extname": path.Ext,
		"basename": func(p string, ext ...string) string {
			base := path.Base(p)
			if len(ext) > 0 {
				base = strings.TrimSuffix(base, ext[0])
			}
			return base
		},
		"sep": "/",
	}, nil
}

func processBuiltin(projectRoot string) BuiltinProvider {
	return func(ctx context.Context, env string) (modrt.Exports, error) {
		return modrt.Exports{
			"env":      os.Getenv,
			"cwd":      func() string { return projectRoot },
			"platform": runtime.GOOS,
		}, nil
	}
}
