package packager

import (
	"github.com/spf13/afero"

	"github.com/conneroisu/staticpack/internal/config"
	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/loader"
	"github.com/conneroisu/staticpack/internal/logging"
)

// Open loads the bundle graph named by cfg and returns a Packager over a
// new session configured from cfg.
func Open(cfg *config.Config, fs afero.Fs, logger logging.Logger) (*Packager, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	g, err := graph.Load(fs, cfg.GraphPath())
	if err != nil {
		return nil, err
	}

	session, err := loader.NewSession(loader.Options{
		Graph:           g,
		Fs:              fs,
		ProjectRoot:     cfg.Build.ProjectRoot,
		Resolver:        cfg.Resolver,
		Concurrency:     cfg.Build.Concurrency,
		AllowedPackages: cfg.Sandbox.AllowedPackages,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	return New(session, Options{PackageName: cfg.PackageName(fs), Logger: logger}), nil
}

// Reload rereads the bundle graph from path and starts a new build over it.
func (p *Packager) Reload(fs afero.Fs, path string) error {
	g, err := graph.Load(fs, path)
	if err != nil {
		return err
	}
	p.session.Rebuild(g)
	return nil
}
