// Package graph holds the read-only bundle graph produced by the build:
// bundles, the assets they own, and the dependency edges between assets and
// bundles. The packager never mutates it; a rebuild replaces it wholesale.
package graph

import (
	"context"
	"slices"
)

// Execution contexts an asset can be compiled for.
const (
	ContextServer  = "react-server"
	ContextClient  = "react-client"
	ContextBrowser = "browser"
)

// Asset and bundle types the packager cares about.
const (
	TypeGo   = "go"
	TypeJS   = "js"
	TypeCSS  = "css"
	TypeHTML = "html"
)

// BehaviorInline marks a bundle whose contents are embedded into the bundle
// that references it instead of being emitted on its own.
const BehaviorInline = "inline"

// DirectiveClientEntry marks the asset that boots the client runtime.
const DirectiveClientEntry = "use client-entry"

// Environment describes where an asset or bundle executes.
type Environment struct {
	Context          string `yaml:"context" json:"context"`
	ShouldScopeHoist bool   `yaml:"scope_hoist" json:"scope_hoist"`
}

// IsBrowser reports whether code in this environment runs in a browser.
func (e Environment) IsBrowser() bool {
	return e.Context == ContextBrowser
}

// IsServer reports whether the server condition set applies.
func (e Environment) IsServer() bool {
	return e.Context == ContextServer
}

// Target is the output location of a bundle.
type Target struct {
	DistDir   string `yaml:"dist_dir" json:"dist_dir"`
	PublicURL string `yaml:"public_url" json:"public_url"`
}

// Meta is the metadata the transformer attached to an asset.
type Meta struct {
	Directives []string       `yaml:"directives" json:"directives,omitempty"`
	SSGMeta    map[string]any `yaml:"ssg_meta" json:"ssg_meta,omitempty"`
}

// HasDirective reports whether the asset declares directive d.
func (m Meta) HasDirective(d string) bool {
	return slices.Contains(m.Directives, d)
}

// Dependency is an import edge declared by an asset.
type Dependency struct {
	ID          string `yaml:"id" json:"id"`
	Specifier   string `yaml:"specifier" json:"specifier"`
	Placeholder string `yaml:"placeholder" json:"placeholder,omitempty"`
	Skipped     bool   `yaml:"skipped" json:"skipped,omitempty"`
	// Resolved is the id of the asset the specifier resolved to, if any.
	Resolved string `yaml:"resolved" json:"resolved,omitempty"`
	// Bundle is the id of the bundle this edge references, if any.
	Bundle string `yaml:"bundle" json:"bundle,omitempty"`
}

// Key is the specifier the importing code uses for this edge. Placeholders
// replace the raw specifier when the transformer rewrote the import.
func (d *Dependency) Key() string {
	if d.Placeholder != "" {
		return d.Placeholder
	}
	return d.Specifier
}

// Asset is one compiled source file.
type Asset struct {
	ID           string        `yaml:"id" json:"id"`
	PublicID     string        `yaml:"public_id" json:"public_id,omitempty"`
	FilePath     string        `yaml:"file_path" json:"file_path"`
	Type         string        `yaml:"type" json:"type"`
	Env          Environment   `yaml:"env" json:"env"`
	Meta         Meta          `yaml:"meta" json:"meta"`
	Code         string        `yaml:"code" json:"code,omitempty"`
	CodePath     string        `yaml:"code_path" json:"code_path,omitempty"`
	Dependencies []*Dependency `yaml:"dependencies" json:"dependencies,omitempty"`
}

// Bundle is a packaged group of assets targeting one environment.
type Bundle struct {
	ID              string      `yaml:"id" json:"id"`
	PublicID        string      `yaml:"public_id" json:"public_id"`
	Name            string      `yaml:"name" json:"name"`
	Type            string      `yaml:"type" json:"type"`
	Behavior        string      `yaml:"behavior" json:"behavior,omitempty"`
	Env             Environment `yaml:"env" json:"env"`
	Target          Target      `yaml:"target" json:"target"`
	MainEntry       string      `yaml:"main_entry" json:"main_entry,omitempty"`
	Assets          []string    `yaml:"assets" json:"assets"`
	NeedsStableName bool        `yaml:"needs_stable_name" json:"needs_stable_name,omitempty"`
	IsEntry         bool        `yaml:"entry" json:"entry,omitempty"`
	// Contents is the packaged output of an inline bundle, when the build
	// already produced it.
	Contents string `yaml:"contents" json:"contents,omitempty"`
}

// IsInline reports whether the bundle is embedded into its referrers.
func (b *Bundle) IsInline() bool {
	return b.Behavior == BehaviorInline
}

// NodeKind distinguishes traversal nodes.
type NodeKind int

const (
	NodeAsset NodeKind = iota
	NodeDependency
)

// Node is visited by Traverse. Exactly one of Asset and Dependency is set.
type Node struct {
	Kind       NodeKind
	Asset      *Asset
	Dependency *Dependency
}

// BundleGraph is the read-only view of the build output consumed by the
// loader and packager.
type BundleGraph interface {
	Bundles() []*Bundle
	EntryBundles() []*Bundle
	Bundle(id string) (*Bundle, bool)
	// FindBundle looks a bundle up by public id or name.
	FindBundle(publicIDOrName string) (*Bundle, error)
	Asset(id string) (*Asset, bool)
	MainEntry(bundle *Bundle) (*Asset, bool)

	Traverse(bundle *Bundle, visit func(Node) error) error
	TraverseAssets(bundle *Bundle, visit func(*Asset) (stop bool))

	Dependencies(asset *Asset) []*Dependency
	IsDependencySkipped(dep *Dependency) bool
	ReferencedBundle(dep *Dependency, bundle *Bundle) (*Bundle, bool)
	ResolvedAsset(dep *Dependency, bundle *Bundle) (*Asset, bool)
	ReferencedBundles(bundle *Bundle, includeInline bool) []*Bundle

	AssetPublicID(asset *Asset) string
	AssetCode(ctx context.Context, asset *Asset) (string, error)
	EntryRoot() string
}
