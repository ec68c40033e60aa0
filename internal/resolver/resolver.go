// Package resolver maps import specifiers to files or platform builtins
// under an environment-specific set of package export conditions.
package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	perrors "github.com/conneroisu/staticpack/internal/errors"
)

// Causes wrapped by resolution errors.
var (
	ErrFileNotFound           = errors.New("file not found")
	ErrModuleNotFound         = errors.New("module not found")
	ErrPackagePathNotExported = errors.New("package path not exported")
	ErrInvalidSpecifier       = errors.New("invalid specifier")
)

// Kind tags a resolution.
type Kind int

const (
	// Builtin names a platform module provided by the host.
	Builtin Kind = iota
	// Path is a file on disk.
	Path
	// Empty is a module with no exports.
	Empty
)

func (k Kind) String() string {
	switch k {
	case Builtin:
		return "Builtin"
	case Path:
		return "Path"
	case Empty:
		return "Empty"
	default:
		return "Unknown"
	}
}

// Resolution is the result of resolving one specifier.
type Resolution struct {
	Kind  Kind
	Value string
	// Invalidations lists the files whose change or creation can alter
	// this resolution.
	Invalidations Invalidations
}

// Invalidations tracks the files consulted during a resolution.
type Invalidations struct {
	OnChange []string
	OnCreate []string
}

func (inv *Invalidations) change(path string) {
	if !slices.Contains(inv.OnChange, path) {
		inv.OnChange = append(inv.OnChange, path)
	}
}

func (inv *Invalidations) create(path string) {
	if !slices.Contains(inv.OnCreate, path) {
		inv.OnCreate = append(inv.OnCreate, path)
	}
}

// BuiltinMode controls how builtins resolve.
type BuiltinMode int

const (
	// BuiltinsNative resolves builtins to Builtin(name).
	BuiltinsNative BuiltinMode = iota
	// BuiltinsEmpty resolves builtins to the empty module.
	BuiltinsEmpty
)

// Options configures a Resolver.
type Options struct {
	Root        string
	Fs          afero.Fs
	Conditions  []string
	Extensions  []string
	MainFields  []string
	BuiltinMode BuiltinMode
}

// Resolver resolves specifiers for one environment. It is safe for
// concurrent use.
type Resolver struct {
	root        string
	fs          afero.Fs
	conditions  map[string]bool
	extensions  []string
	mainFields  []string
	builtinMode BuiltinMode

	mutex    sync.RWMutex
	memo     map[string]memoEntry
	packages map[string]*packageJSON
}

type memoEntry struct {
	res Resolution
	err error
}

// New creates a resolver.
func New(opts Options) *Resolver {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".go", ".json"}
	}
	if len(opts.MainFields) == 0 {
		opts.MainFields = []string{"main"}
	}

	conditions := make(map[string]bool, len(opts.Conditions))
	for _, c := range opts.Conditions {
		conditions[c] = true
	}

	return &Resolver{
		root:        opts.Root,
		fs:          opts.Fs,
		conditions:  conditions,
		extensions:  opts.Extensions,
		mainFields:  opts.MainFields,
		builtinMode: opts.BuiltinMode,
		memo:        make(map[string]memoEntry),
		packages:    make(map[string]*packageJSON),
	}
}

// Resolve maps specifier, imported from the file from, to a resolution.
// Failures are resolution errors naming both.
func (r *Resolver) Resolve(specifier, from string) (Resolution, error) {
	key := from + "\x00" + specifier

	r.mutex.RLock()
	entry, ok := r.memo[key]
	r.mutex.RUnlock()
	if ok {
		return entry.res, entry.err
	}

	res, err := r.resolve(specifier, from)
	if err != nil {
		err = perrors.NewResolutionError(specifier, from, err)
	}

	r.mutex.Lock()
	r.memo[key] = memoEntry{res: res, err: err}
	r.mutex.Unlock()

	return res, err
}

// Reset clears memoized resolutions and package.json contents.
func (r *Resolver) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.memo = make(map[string]memoEntry)
	r.packages = make(map[string]*packageJSON)
}

func (r *Resolver) resolve(specifier, from string) (Resolution, error) {
	if specifier == "" || strings.ContainsRune(specifier, 0) {
		return Resolution{}, ErrInvalidSpecifier
	}

	if strings.HasPrefix(specifier, "node:") || IsBuiltin(specifier) {
		if !IsBuiltin(specifier) {
			return Resolution{}, ErrModuleNotFound
		}
		if r.builtinMode == BuiltinsEmpty {
			return Resolution{Kind: Empty, Value: EmptyModule}, nil
		}
		return Resolution{Kind: Builtin, Value: BuiltinName(specifier)}, nil
	}

	var inv Invalidations

	if isPathSpecifier(specifier) {
		base := specifier
		if !filepath.IsAbs(base) {
			base = filepath.Join(r.fromDir(from), filepath.FromSlash(specifier))
		}
		path, err := r.resolvePath(base, &inv)
		if err != nil {
			return Resolution{}, err
		}
		inv.change(path)
		return Resolution{Kind: Path, Value: path, Invalidations: inv}, nil
	}

	name, subpath, err := splitPackage(specifier)
	if err != nil {
		return Resolution{}, err
	}
	path, err := r.resolvePackage(name, subpath, r.fromDir(from), &inv)
	if err != nil {
		return Resolution{}, err
	}
	inv.change(path)
	return Resolution{Kind: Path, Value: path, Invalidations: inv}, nil
}

func (r *Resolver) fromDir(from string) string {
	if from == "" {
		return r.root
	}
	if info, err := r.fs.Stat(from); err == nil && info.IsDir() {
		return from
	}
	return filepath.Dir(from)
}

func isPathSpecifier(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "/")
}

// splitPackage splits "pkg/sub" or "@scope/pkg/sub" into the package name
// and a "./"-prefixed subpath ("." for the package root).
func splitPackage(specifier string) (name, subpath string, err error) {
	parts := strings.Split(specifier, "/")
	n := 1
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return "", "", ErrInvalidSpecifier
		}
		n = 2
	}
	for _, p := range parts[:n] {
		if p == "" || p == "." || p == ".." {
			return "", "", ErrInvalidSpecifier
		}
	}

	name = strings.Join(parts[:n], "/")
	subpath = "."
	if len(parts) > n {
		subpath = "./" + strings.Join(parts[n:], "/")
	}
	return name, subpath, nil
}

// resolvePath tries base as a file, with each extension, then as a
// directory.
func (r *Resolver) resolvePath(base string, inv *Invalidations) (string, error) {
	if path, ok := r.resolveFile(base, inv); ok {
		return path, nil
	}
	if path, ok := r.resolveDirectory(base, inv); ok {
		return path, nil
	}
	return "", ErrFileNotFound
}

func (r *Resolver) resolveFile(base string, inv *Invalidations) (string, bool) {
	if r.isFile(base) {
		return base, true
	}
	inv.create(base)
	for _, ext := range r.extensions {
		candidate := base + ext
		if r.isFile(candidate) {
			return candidate, true
		}
		inv.create(candidate)
	}
	return "", false
}

func (r *Resolver) resolveDirectory(dir string, inv *Invalidations) (string, bool) {
	if !r.isDir(dir) {
		return "", false
	}

	if pkg, err := r.readPackage(dir, inv); err == nil && pkg != nil {
		for _, field := range r.mainFields {
			if main, ok := pkg.field(field); ok {
				if path, ok := r.resolveFile(filepath.Join(dir, filepath.FromSlash(main)), inv); ok {
					return path, true
				}
			}
		}
	}

	return r.resolveFile(filepath.Join(dir, "index"), inv)
}

// resolvePackage walks node_modules directories upward from dir.
func (r *Resolver) resolvePackage(name, subpath, dir string, inv *Invalidations) (string, error) {
	for current := dir; ; current = filepath.Dir(current) {
		pkgDir := filepath.Join(current, "node_modules", filepath.FromSlash(name))
		if r.isDir(pkgDir) {
			return r.resolveInPackage(pkgDir, subpath, inv)
		}
		inv.create(pkgDir)

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
	}
	return "", ErrModuleNotFound
}

func (r *Resolver) resolveInPackage(pkgDir, subpath string, inv *Invalidations) (string, error) {
	pkg, err := r.readPackage(pkgDir, inv)
	if err != nil {
		return "", err
	}

	if pkg != nil && pkg.hasExp {
		target, err := resolveExports(pkg.exports, subpath, r.conditions)
		if err != nil {
			return "", ErrPackagePathNotExported
		}
		path := filepath.Join(pkgDir, filepath.FromSlash(strings.TrimPrefix(target, "./")))
		if !r.isFile(path) {
			inv.create(path)
			return "", ErrFileNotFound
		}
		return path, nil
	}

	if subpath == "." {
		if path, ok := r.resolveDirectory(pkgDir, inv); ok {
			return path, nil
		}
		return "", ErrModuleNotFound
	}

	path, err := r.resolvePath(filepath.Join(pkgDir, filepath.FromSlash(strings.TrimPrefix(subpath, "./"))), inv)
	if err != nil {
		return "", ErrModuleNotFound
	}
	return path, nil
}

// readPackage returns the parsed package.json in dir, or nil when there is
// none.
func (r *Resolver) readPackage(dir string, inv *Invalidations) (*packageJSON, error) {
	path := filepath.Join(dir, "package.json")

	r.mutex.RLock()
	pkg, ok := r.packages[path]
	r.mutex.RUnlock()
	if ok {
		if pkg != nil {
			inv.change(path)
		} else {
			inv.create(path)
		}
		return pkg, nil
	}

	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		inv.create(path)
	} else {
		inv.change(path)
		pkg, err = parsePackageJSON(path, dir, data)
		if err != nil {
			return nil, err
		}
	}

	r.mutex.Lock()
	r.packages[path] = pkg
	r.mutex.Unlock()
	return pkg, nil
}

func (r *Resolver) isFile(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && !info.IsDir()
}

func (r *Resolver) isDir(path string) bool {
	info, err := r.fs.Stat(path)
	return err == nil && info.IsDir()
}
