package graph

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/conneroisu/staticpack/internal/errors"
)

const testManifest = `
entry_root: /src
bundles:
  - id: page
    public_id: pg
    name: index.html
    type: go
    env: {context: react-server}
    target: {dist_dir: dist, public_url: /}
    main_entry: index
    assets: [index, nav]
    needs_stable_name: true
    entry: true
  - id: client
    public_id: cl
    name: client.js
    type: js
    env: {context: browser}
    target: {dist_dir: dist, public_url: /}
    assets: [boot]
  - id: styles
    public_id: st
    name: styles.css
    type: css
    target: {dist_dir: dist, public_url: /}
    assets: []
  - id: svg
    name: icon
    type: html
    behavior: inline
    assets: []
assets:
  - id: index
    file_path: /src/pages/index.go
    type: go
    env: {context: react-server}
    code_path: code/index.go
    dependencies:
      - specifier: ./nav
        resolved: nav
      - specifier: ./client
        bundle: client
      - specifier: ./styles.css
        bundle: styles
      - specifier: ./icon.svg
        bundle: svg
  - id: nav
    public_id: navid
    file_path: /src/nav.go
    type: go
    env: {context: react-server}
    code: "package nav"
  - id: boot
    file_path: /src/boot.js
    type: js
    env: {context: browser}
    meta: {directives: ["use client-entry"]}
`

func loadTestGraph(t *testing.T) *Graph {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/.staticpack/graph.yml", []byte(testManifest), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/proj/.staticpack/code/index.go", []byte("package index"), 0o644))

	g, err := Load(fs, "/proj/.staticpack/graph.yml")
	require.NoError(t, err)
	return g
}

func TestLoad(t *testing.T) {
	g := loadTestGraph(t)

	assert.Len(t, g.Bundles(), 4)
	assert.Equal(t, "/src", g.EntryRoot())

	entries := g.EntryBundles()
	require.Len(t, entries, 1)
	assert.Equal(t, "page", entries[0].ID)

	main, ok := g.MainEntry(entries[0])
	require.True(t, ok)
	assert.Equal(t, "index", main.ID)
}

func TestBundlesTopologicalOrder(t *testing.T) {
	g := loadTestGraph(t)

	position := map[string]int{}
	for i, b := range g.Bundles() {
		position[b.ID] = i
	}
	assert.Less(t, position["page"], position["client"])
	assert.Less(t, position["page"], position["styles"])
	assert.Less(t, position["page"], position["svg"])
}

func TestFindBundle(t *testing.T) {
	g := loadTestGraph(t)

	b, err := g.FindBundle("cl")
	require.NoError(t, err)
	assert.Equal(t, "client", b.ID)

	b, err = g.FindBundle("styles.css")
	require.NoError(t, err)
	assert.Equal(t, "styles", b.ID)

	_, err = g.FindBundle("missing")
	assert.True(t, perrors.IsBundleNotFound(err))
}

func TestReferencedBundles(t *testing.T) {
	g := loadTestGraph(t)
	page, _ := g.Bundle("page")

	var withInline, withoutInline []string
	for _, b := range g.ReferencedBundles(page, true) {
		withInline = append(withInline, b.ID)
	}
	for _, b := range g.ReferencedBundles(page, false) {
		withoutInline = append(withoutInline, b.ID)
	}

	assert.Equal(t, []string{"client", "styles", "svg"}, withInline)
	assert.Equal(t, []string{"client", "styles"}, withoutInline)
}

func TestTraverse(t *testing.T) {
	g := loadTestGraph(t)
	page, _ := g.Bundle("page")

	var assets, deps int
	require.NoError(t, g.Traverse(page, func(n Node) error {
		switch n.Kind {
		case NodeAsset:
			assets++
		case NodeDependency:
			deps++
		}
		return nil
	}))
	assert.Equal(t, 2, assets)
	assert.Equal(t, 4, deps)
}

func TestTraverseAssetsStops(t *testing.T) {
	g := loadTestGraph(t)
	client, _ := g.Bundle("client")

	var found *Asset
	g.TraverseAssets(client, func(a *Asset) bool {
		if a.Meta.HasDirective(DirectiveClientEntry) {
			found = a
			return true
		}
		return false
	})
	require.NotNil(t, found)
	assert.Equal(t, "boot", found.ID)
}

func TestAssetCode(t *testing.T) {
	g := loadTestGraph(t)
	ctx := context.Background()

	index, _ := g.Asset("index")
	code, err := g.AssetCode(ctx, index)
	require.NoError(t, err)
	assert.Equal(t, "package index", code)

	nav, _ := g.Asset("nav")
	code, err = g.AssetCode(ctx, nav)
	require.NoError(t, err)
	assert.Equal(t, "package nav", code)

	missing := &Asset{ID: "gone", CodePath: "nope.go"}
	_, err = g.AssetCode(ctx, missing)
	assert.Error(t, err)
}

func TestPublicIDs(t *testing.T) {
	g := loadTestGraph(t)

	nav, _ := g.Asset("nav")
	assert.Equal(t, "navid", g.AssetPublicID(nav))

	index, _ := g.Asset("index")
	id := g.AssetPublicID(index)
	assert.Len(t, id, minPublicIDLength)
	assert.Equal(t, HashString("index")[:minPublicIDLength], id)
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		manifest *Manifest
	}{
		{
			name: "cycle",
			manifest: &Manifest{
				Bundles: []*Bundle{
					{ID: "a", Assets: []string{"x"}},
					{ID: "b", Assets: []string{"y"}},
				},
				Assets: []*Asset{
					{ID: "x", Dependencies: []*Dependency{{Specifier: "./y", Bundle: "b"}}},
					{ID: "y", Dependencies: []*Dependency{{Specifier: "./x", Bundle: "a"}}},
				},
			},
		},
		{
			name: "unknown asset",
			manifest: &Manifest{
				Bundles: []*Bundle{{ID: "a", Assets: []string{"ghost"}}},
			},
		},
		{
			name: "unknown bundle reference",
			manifest: &Manifest{
				Bundles: []*Bundle{{ID: "a", Assets: []string{"x"}}},
				Assets:  []*Asset{{ID: "x", Dependencies: []*Dependency{{Bundle: "ghost"}}}},
			},
		},
		{
			name: "duplicate asset",
			manifest: &Manifest{
				Assets: []*Asset{{ID: "x"}, {ID: "x"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.manifest, afero.NewMemMapFs(), "/")
			assert.Error(t, err)
		})
	}
}

func TestDependencyKey(t *testing.T) {
	assert.Equal(t, "./a", (&Dependency{Specifier: "./a"}).Key())
	assert.Equal(t, "abc123", (&Dependency{Specifier: "./a", Placeholder: "abc123"}).Key())
}

func TestWriteDOT(t *testing.T) {
	g := loadTestGraph(t)

	var buf bytes.Buffer
	require.NoError(t, g.WriteDOT(&buf))
	assert.Contains(t, buf.String(), "digraph")
	assert.Contains(t, buf.String(), "page")
}

func TestBundleURL(t *testing.T) {
	tests := []struct {
		publicURL string
		name      string
		want      string
	}{
		{"/", "index.html", "/index.html"},
		{"", "client.js", "/client.js"},
		{"/assets/", "pages/about.html", "/assets/pages/about.html"},
		{"https://cdn.example.com/", "styles.css", "https://cdn.example.com/styles.css"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b := &Bundle{Name: tt.name, Target: Target{PublicURL: tt.publicURL}}
			assert.Equal(t, tt.want, BundleURL(b))
		})
	}
}
