// Package sandbox executes artifact code in an isolated Go interpreter.
//
// An artifact is a Go source file in any package that declares
//
//	func Init(module *modrt.Module) error
//
// Each execution gets a fresh yaegi interpreter that can see only the
// allowlisted stdlib packages and the modrt runtime. Executions are
// memoized in a cache.ModuleCache keyed by file path and environment, so a
// module body runs at most once per build session.
package sandbox

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"reflect"
	"strconv"

	"github.com/traefik/yaegi/interp"

	"github.com/conneroisu/staticpack/internal/cache"
	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/logging"
	"github.com/conneroisu/staticpack/pkg/modrt"
)

// InitFunc is the entry point an artifact declares.
const InitFunc = "Init"

// RequireFunc resolves a specifier for the module being executed. ctx
// carries the load chain of the executing module.
type RequireFunc func(ctx context.Context, specifier string) (modrt.Exports, error)

// BundleFunc builds the cross-artifact loader handle for an execution.
type BundleFunc func(ctx context.Context) *modrt.BundleRequire

// CacheKey identifies a module instance: one per file and environment.
func CacheKey(filePath, env string) string {
	return filePath + "#" + env
}

// Executor runs artifact code.
type Executor struct {
	cache   *cache.ModuleCache
	allowed map[string]bool
	symbols map[string]map[string]reflect.Value
	logger  logging.Logger
}

// NewExecutor creates an executor memoizing into moduleCache. An empty
// allowlist selects DefaultAllowedPackages.
func NewExecutor(moduleCache *cache.ModuleCache, allowedPackages []string, logger logging.Logger) *Executor {
	if len(allowedPackages) == 0 {
		allowedPackages = DefaultAllowedPackages
	}
	if logger == nil {
		logger = logging.Discard()
	}

	allowed := make(map[string]bool, len(allowedPackages))
	for _, pkg := range allowedPackages {
		allowed[pkg] = true
	}

	return &Executor{
		cache:   moduleCache,
		allowed: allowed,
		symbols: symbolTable(allowed),
		logger:  logger.WithComponent("sandbox"),
	}
}

// Cache returns the module cache the executor memoizes into.
func (e *Executor) Cache() *cache.ModuleCache {
	return e.cache
}

// Run returns the exports of the module identified by cacheKey, executing
// code on the first request. Compile and runtime failures, including
// panics, are returned as execution errors; a failed module is not
// executed again unless it failed because ctx was cancelled.
func (e *Executor) Run(
	ctx context.Context,
	code, filename, cacheKey string,
	require RequireFunc,
	bundle BundleFunc,
) (modrt.Exports, error) {
	return e.cache.GetOrLoad(ctx, cacheKey, func(ctx context.Context, exports modrt.Exports) (modrt.Exports, error) {
		module := &modrt.Module{
			ID:       cacheKey,
			Path:     filepath.Dir(filename),
			Filename: filename,
			Exports:  exports,
			Require: func(specifier string) (modrt.Exports, error) {
				if require == nil {
					return nil, fmt.Errorf("require %q: no resolver", specifier)
				}
				return require(ctx, specifier)
			},
		}
		if bundle != nil {
			module.Bundle = bundle(ctx)
		}

		e.logger.Debug(ctx, "executing module", "file", filename, "key", cacheKey)
		if err := e.execute(ctx, code, filename, module); err != nil {
			e.logger.Warn(ctx, err, "module execution failed", "file", filename)
			return nil, perrors.NewExecutionError(filename, err)
		}
		return module.Exports, nil
	})
}

func (e *Executor) execute(ctx context.Context, code, filename string, module *modrt.Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	pkgName, err := e.validate(code, filename)
	if err != nil {
		return err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(e.symbols); err != nil {
		return fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(modrt.Symbols); err != nil {
		return fmt.Errorf("failed to load runtime: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := i.Eval(pkgName + "." + InitFunc)
	if err != nil {
		return fmt.Errorf("%s function not found: %w", InitFunc, err)
	}
	initFn, ok := v.Interface().(func(*modrt.Module) error)
	if !ok {
		return fmt.Errorf("%s has incorrect signature (expected: func(*modrt.Module) error)", InitFunc)
	}

	return initFn(module)
}

// validate parses the package clause and imports, rejecting imports
// outside the allowlist.
func (e *Executor) validate(code, filename string) (string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, code, parser.ImportsOnly)
	if err != nil {
		return "", err
	}

	var forbidden []string
	for _, spec := range file.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return "", err
		}
		if path != modrt.ImportPath && !e.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return "", fmt.Errorf("forbidden imports detected: %v (allowed: %v)",
			forbidden, allowedImports(e.allowed))
	}

	return file.Name.Name, nil
}
