// Package modrt is the runtime surface visible to interpreted artifacts.
//
// Every artifact is a Go source file declaring
//
//	func Init(module *modrt.Module) error
//
// Init populates module.Exports, pulls dependencies in through
// module.Require and reaches other build outputs through module.Bundle.
package modrt

import "fmt"

// Exports is the exports object of a loaded module. The same map is handed
// to every caller that loads the module.
type Exports map[string]any

// Default returns the "default" export, or nil when absent.
func (e Exports) Default() any {
	return e["default"]
}

// Empty returns a fresh exports object with no members.
func Empty() Exports {
	return Exports{}
}

// RequireFunc loads the module an import specifier maps to.
type RequireFunc func(specifier string) (Exports, error)

// Module describes the artifact being initialized.
type Module struct {
	ID       string
	Path     string
	Filename string
	Exports  Exports
	Require  RequireFunc
	Bundle   *BundleRequire
}

// Meta is the output location of the bundle an artifact belongs to.
type Meta struct {
	DistDir   string
	PublicURL string
}

// BundleRequire is the cross-artifact loader handle.
type BundleRequire struct {
	load       func(publicID string) (Exports, error)
	loadBundle func(name string) error
	resolve    func(name string) (string, error)
	meta       Meta
}

// NewBundleRequire wires a handle to its loader callbacks.
func NewBundleRequire(
	load func(publicID string) (Exports, error),
	loadBundle func(name string) error,
	resolve func(name string) (string, error),
	meta Meta,
) *BundleRequire {
	return &BundleRequire{load: load, loadBundle: loadBundle, resolve: resolve, meta: meta}
}

// Load returns the exports of the artifact with the given public id.
func (b *BundleRequire) Load(publicID string) (Exports, error) {
	if b == nil || b.load == nil {
		return nil, fmt.Errorf("no bundle loader for %q", publicID)
	}
	return b.load(publicID)
}

// LoadBundle makes the artifacts of the named bundle loadable by public id.
func (b *BundleRequire) LoadBundle(name string) error {
	if b == nil || b.loadBundle == nil {
		return fmt.Errorf("no bundle loader for %q", name)
	}
	return b.loadBundle(name)
}

// Resolve returns the public URL of the named bundle.
func (b *BundleRequire) Resolve(name string) (string, error) {
	if b == nil || b.resolve == nil {
		return "", fmt.Errorf("no bundle resolver for %q", name)
	}
	return b.resolve(name)
}

// Meta returns the bundle's output location.
func (b *BundleRequire) Meta() Meta {
	if b == nil {
		return Meta{}
	}
	return b.meta
}
