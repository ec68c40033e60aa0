package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifest = `entry_root: /site/src
bundles:
  - id: index
    name: index.html
    type: go
    env: {context: server}
    target: {public_url: /}
    main_entry: index
    assets: [index]
    needs_stable_name: true
    entry: true
  - id: styles
    name: styles.css
    type: css
    target: {public_url: /}
    assets: [css]
assets:
  - id: index
    file_path: /site/src/index.go
    type: go
    env: {context: server}
    meta:
      ssg_meta: {title: Home}
    dependencies:
      - specifier: ./styles.css
        bundle: styles
    code: |
      package index

      import "github.com/conneroisu/staticpack/pkg/modrt"

      func Init(m *modrt.Module) error {
      	m.Exports["default"] = modrt.Component(func(props modrt.Props) (any, error) {
      		return modrt.Text("h1", "Hello"), nil
      	})
      	return nil
      }
  - id: css
    file_path: /site/src/styles.css
    type: css
    code: "h1{color:red}"
`

func withTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/site/.staticpack/graph.yml", []byte(manifest), 0o644))

	old := appFs
	appFs = fs
	t.Cleanup(func() { appFs = old })
	return fs
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildCommand(t *testing.T) {
	fs := withTestFs(t)

	out, err := execute(t, "--root", "/site", "--log-level", "error", "build", "--dist", "/out")
	require.NoError(t, err)
	assert.Contains(t, out, "index.html")
	assert.Contains(t, out, "index.rsc")
	assert.Contains(t, out, "Built 1 pages into /out")

	doc, err := afero.ReadFile(fs, "/out/index.html")
	require.NoError(t, err)
	assert.Contains(t, string(doc), `<link href="/styles.css" rel="stylesheet"/>`)
	assert.Contains(t, string(doc), "<h1>Hello</h1>")

	rsc, err := afero.ReadFile(fs, "/out/index.rsc")
	require.NoError(t, err)
	assert.Contains(t, string(rsc), `0:["$1","$2"]`)
}

func TestBuildCommand_MissingGraph(t *testing.T) {
	withTestFs(t)

	_, err := execute(t, "--root", "/elsewhere", "--log-level", "error", "build", "--dist", "/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading bundle graph")
}

func TestGraphCommand(t *testing.T) {
	withTestFs(t)

	out, err := execute(t, "--root", "/site", "graph", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "BUNDLE")
	assert.Regexp(t, `index\.html\s+go\s+server\s+1\s+page`, out)
	assert.Regexp(t, `styles\.css\s+css\s+\s*1\s+-`, out)

	dot, err := execute(t, "--root", "/site", "graph", "--format", "dot")
	require.NoError(t, err)
	assert.Contains(t, dot, "digraph")

	_, err = execute(t, "--root", "/site", "graph", "--format", "svg")
	assert.ErrorContains(t, err, "unsupported format: svg")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--format", "text", "--short=false")
	require.NoError(t, err)
	assert.Contains(t, out, "staticpack ")

	out, err = execute(t, "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "platform")
}

func TestLogLevelValidation(t *testing.T) {
	withTestFs(t)

	_, err := execute(t, "--root", "/site", "--log-level", "loud", "build", "--dist", "/out")
	assert.Error(t, err)
}
