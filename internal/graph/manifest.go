package graph

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dominikbraun/graph/draw"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	perrors "github.com/conneroisu/staticpack/internal/errors"
)

// Load reads a YAML (or JSON) manifest from path and builds the graph.
// Asset code paths are resolved relative to the manifest's directory.
func Load(fs afero.Fs, path string) (*Graph, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, perrors.NewIOError(perrors.ErrCodeFileNotFound, "reading bundle graph", err).WithFile(path)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return New(m, fs, filepath.Dir(path))
}

// ParseManifest decodes manifest bytes. JSON is accepted as YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, perrors.NewValidationError(perrors.ErrCodeValidationFailed, err.Error())
	}
	return &m, nil
}

// WriteDOT renders the bundle DAG in Graphviz format.
func (g *Graph) WriteDOT(w io.Writer) error {
	return draw.DOT(g.dag, w)
}
