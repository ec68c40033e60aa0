package graph

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	graphlib "github.com/dominikbraun/graph"
	"github.com/spf13/afero"
	"lukechampine.com/blake3"

	perrors "github.com/conneroisu/staticpack/internal/errors"
)

// minPublicIDLength is the shortest generated public id.
const minPublicIDLength = 5

// Manifest is the on-disk form of a bundle graph.
type Manifest struct {
	EntryRoot string    `yaml:"entry_root" json:"entry_root"`
	Bundles   []*Bundle `yaml:"bundles" json:"bundles"`
	Assets    []*Asset  `yaml:"assets" json:"assets"`
}

// Graph is the manifest-backed BundleGraph. Bundles form a DAG; a manifest
// whose bundle references cycle is rejected at construction.
type Graph struct {
	fs        afero.Fs
	baseDir   string
	entryRoot string

	bundles map[string]*Bundle
	assets  map[string]*Asset
	order   []string            // topological bundle order

	dag graphlib.Graph[string, *Bundle]
}

var _ BundleGraph = (*Graph)(nil)

// New builds a Graph from m. Relative code paths are read from fs under
// baseDir.
func New(m *Manifest, fs afero.Fs, baseDir string) (*Graph, error) {
	g := &Graph{
		fs:        fs,
		baseDir:   baseDir,
		entryRoot: m.EntryRoot,
		bundles:   make(map[string]*Bundle, len(m.Bundles)),
		assets:    make(map[string]*Asset, len(m.Assets)),
		dag: graphlib.New(func(b *Bundle) string { return b.ID },
			graphlib.Directed(), graphlib.PreventCycles()),
	}

	for _, a := range m.Assets {
		if a.ID == "" {
			return nil, perrors.NewValidationError(perrors.ErrCodeValidationFailed, "asset without id")
		}
		if _, dup := g.assets[a.ID]; dup {
			return nil, perrors.NewValidationError(perrors.ErrCodeValidationFailed, "duplicate asset id "+a.ID)
		}
		g.assets[a.ID] = a
	}
	assignPublicIDs(m.Assets)

	for _, b := range m.Bundles {
		if _, dup := g.bundles[b.ID]; dup {
			return nil, perrors.NewValidationError(perrors.ErrCodeValidationFailed, "duplicate bundle id "+b.ID)
		}
		g.bundles[b.ID] = b
		if err := g.dag.AddVertex(b); err != nil {
			return nil, fmt.Errorf("adding bundle %s: %w", b.ID, err)
		}
		for _, id := range b.Assets {
			if _, ok := g.assets[id]; !ok {
				return nil, perrors.NewValidationError(perrors.ErrCodeAssetNotFound,
					fmt.Sprintf("bundle %s lists unknown asset %s", b.ID, id))
			}
		}
	}

	for _, b := range m.Bundles {
		for _, ref := range g.referencedIDs(b) {
			if _, ok := g.bundles[ref]; !ok {
				return nil, perrors.NewBundleNotFoundError(ref)
			}
			err := g.dag.AddEdge(b.ID, ref)
			if err != nil && !errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
				return nil, fmt.Errorf("bundle %s -> %s: %w", b.ID, ref, err)
			}
		}
	}

	order, err := graphlib.StableTopologicalSort(g.dag, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("ordering bundles: %w", err)
	}
	g.order = order

	return g, nil
}

// assignPublicIDs gives every asset without a public id the shortest unique
// prefix (at least minPublicIDLength) of the hex blake3 hash of its id.
func assignPublicIDs(assets []*Asset) {
	taken := make(map[string]bool, len(assets))
	for _, a := range assets {
		if a.PublicID != "" {
			taken[a.PublicID] = true
		}
	}

	missing := make([]*Asset, 0)
	for _, a := range assets {
		if a.PublicID == "" {
			missing = append(missing, a)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].ID < missing[j].ID })

	for _, a := range missing {
		full := HashString(a.ID)
		n := minPublicIDLength
		for n < len(full) && taken[full[:n]] {
			n++
		}
		a.PublicID = full[:n]
		taken[a.PublicID] = true
	}
}

// HashString returns the hex blake3 digest of s.
func HashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (g *Graph) referencedIDs(b *Bundle) []string {
	seen := make(map[string]bool)
	var refs []string
	for _, id := range b.Assets {
		for _, dep := range g.assets[id].Dependencies {
			if dep.Bundle != "" && dep.Bundle != b.ID && !seen[dep.Bundle] {
				seen[dep.Bundle] = true
				refs = append(refs, dep.Bundle)
			}
		}
	}
	return refs
}

// Bundles returns every bundle, referrers before the bundles they reference.
func (g *Graph) Bundles() []*Bundle {
	out := make([]*Bundle, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.bundles[id])
	}
	return out
}

// EntryBundles returns the bundles built from entry points.
func (g *Graph) EntryBundles() []*Bundle {
	var out []*Bundle
	for _, b := range g.Bundles() {
		if b.IsEntry {
			out = append(out, b)
		}
	}
	return out
}

// Bundle looks a bundle up by id.
func (g *Graph) Bundle(id string) (*Bundle, bool) {
	b, ok := g.bundles[id]
	return b, ok
}

// FindBundle looks a bundle up by public id or name.
func (g *Graph) FindBundle(publicIDOrName string) (*Bundle, error) {
	for _, b := range g.Bundles() {
		if b.PublicID == publicIDOrName || b.Name == publicIDOrName {
			return b, nil
		}
	}
	return nil, perrors.NewBundleNotFoundError(publicIDOrName)
}

// Asset looks an asset up by id.
func (g *Graph) Asset(id string) (*Asset, bool) {
	a, ok := g.assets[id]
	return a, ok
}

// MainEntry returns the bundle's main entry asset.
func (g *Graph) MainEntry(bundle *Bundle) (*Asset, bool) {
	if bundle.MainEntry == "" {
		return nil, false
	}
	return g.Asset(bundle.MainEntry)
}

// Traverse visits every asset owned by bundle followed by its dependency
// edges. A visit error stops the walk and is returned.
func (g *Graph) Traverse(bundle *Bundle, visit func(Node) error) error {
	for _, id := range bundle.Assets {
		asset := g.assets[id]
		if err := visit(Node{Kind: NodeAsset, Asset: asset}); err != nil {
			return err
		}
		for _, dep := range asset.Dependencies {
			if err := visit(Node{Kind: NodeDependency, Dependency: dep}); err != nil {
				return err
			}
		}
	}
	return nil
}

// TraverseAssets visits the bundle's assets until visit returns true.
func (g *Graph) TraverseAssets(bundle *Bundle, visit func(*Asset) bool) {
	for _, id := range bundle.Assets {
		if visit(g.assets[id]) {
			return
		}
	}
}

// Dependencies returns the import edges of asset.
func (g *Graph) Dependencies(asset *Asset) []*Dependency {
	return asset.Dependencies
}

// IsDependencySkipped reports whether the edge has no runtime representation.
func (g *Graph) IsDependencySkipped(dep *Dependency) bool {
	return dep.Skipped
}

// ReferencedBundle returns the bundle the edge points at, other than bundle
// itself.
func (g *Graph) ReferencedBundle(dep *Dependency, bundle *Bundle) (*Bundle, bool) {
	if dep.Bundle == "" || (bundle != nil && dep.Bundle == bundle.ID) {
		return nil, false
	}
	return g.Bundle(dep.Bundle)
}

// ResolvedAsset returns the asset the edge resolved to.
func (g *Graph) ResolvedAsset(dep *Dependency, bundle *Bundle) (*Asset, bool) {
	if dep.Resolved == "" {
		return nil, false
	}
	return g.Asset(dep.Resolved)
}

// ReferencedBundles returns the bundles bundle references directly, in
// declaration order.
func (g *Graph) ReferencedBundles(bundle *Bundle, includeInline bool) []*Bundle {
	var out []*Bundle
	for _, id := range g.referencedIDs(bundle) {
		b := g.bundles[id]
		if !includeInline && b.IsInline() {
			continue
		}
		out = append(out, b)
	}
	return out
}

// AssetPublicID returns the build-stable id of asset.
func (g *Graph) AssetPublicID(asset *Asset) string {
	return asset.PublicID
}

// AssetCode returns the compiled source of asset, reading CodePath when the
// manifest does not inline the code.
func (g *Graph) AssetCode(ctx context.Context, asset *Asset) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if asset.Code != "" || asset.CodePath == "" {
		return asset.Code, nil
	}

	path := asset.CodePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.baseDir, path)
	}
	data, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return "", perrors.NewIOError(perrors.ErrCodeFileNotFound, "reading asset "+asset.ID, err).WithFile(path)
	}
	return string(data), nil
}

// EntryRoot is the directory page names are computed relative to.
func (g *Graph) EntryRoot() string {
	return g.entryRoot
}

// DAG exposes the bundle DAG for rendering.
func (g *Graph) DAG() graphlib.Graph[string, *Bundle] {
	return g.dag
}

// BundleURL joins the bundle's public URL and name.
func BundleURL(b *Bundle) string {
	base := b.Target.PublicURL
	if base == "" {
		base = "/"
	}
	joined, err := url.JoinPath(base, b.Name)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(b.Name, "/")
	}
	return joined
}
