package packager

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/staticpack/internal/config"
	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/graph"
)

func writeManifest(t *testing.T, fs afero.Fs, path string, m *graph.Manifest) {
	t.Helper()
	data, err := yaml.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
}

func renderIndex(t *testing.T, p *Packager) string {
	t.Helper()
	page, err := p.Session().Graph().FindBundle("index.html")
	require.NoError(t, err)

	outputs, err := p.Package(context.Background(), page)
	require.NoError(t, err)
	defer CloseOutputs(outputs)
	return readOutput(t, outputs, OutputHTML)
}

func TestOpenAndReload(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default()
	cfg.Build.ProjectRoot = "/proj"

	writeManifest(t, fs, cfg.GraphPath(), testManifest())
	require.NoError(t, afero.WriteFile(fs, "/proj/package.json", []byte(`{"name":"demo"}`), 0o644))

	p, err := Open(cfg, fs, nil)
	require.NoError(t, err)

	doc := renderIndex(t, p)
	assert.Contains(t, doc, "<h1>Welcome</h1>")
	assert.Contains(t, doc, RequireName("demo")+`("boot1")`)

	updated := testManifest()
	updated.Assets[0].Code = strings.Replace(pageCode, `"Welcome"`, `"Updated"`, 1)
	writeManifest(t, fs, cfg.GraphPath(), updated)

	before := p.Session().ID()
	require.NoError(t, p.Reload(fs, cfg.GraphPath()))
	assert.NotEqual(t, before, p.Session().ID())
	assert.Contains(t, renderIndex(t, p), "<h1>Updated</h1>")
}

func TestOpen_MissingGraph(t *testing.T) {
	cfg := config.Default()
	cfg.Build.ProjectRoot = "/nowhere"

	_, err := Open(cfg, afero.NewMemMapFs(), nil)
	require.Error(t, err)
	assert.Equal(t, perrors.ErrorTypeIO, perrors.TypeOf(err))
}
