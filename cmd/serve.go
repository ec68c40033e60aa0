package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/staticpack/internal/config"
	"github.com/conneroisu/staticpack/internal/logging"
	"github.com/conneroisu/staticpack/internal/packager"
	"github.com/conneroisu/staticpack/internal/server"
	"github.com/conneroisu/staticpack/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the development server with live reload",
	Long: `Serve page bundles on demand. Browsers get the HTML document; clients
sending "Accept: text/x-component" get the payload. With hot reload enabled the
project is watched and connected browsers reload after every rebuild.

Examples:
  staticpack serve
  staticpack serve --port 3000 --host 0.0.0.0`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 1234, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")

	bindFlags(serveCmd.Flags(), map[string]string{
		"port": "server.port",
		"host": "server.host",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	p, err := packager.Open(cfg, appFs, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := server.Options{Config: cfg, Packager: p, Fs: appFs, Logger: logger}

	var fw *watcher.FileWatcher
	if cfg.Development.HotReload {
		fw, err = newProjectWatcher(cfg, logger)
		if err != nil {
			return err
		}
		defer fw.Stop()

		opts.Watch = func(files []string) {
			if err := fw.WatchFiles(files); err != nil {
				logger.Warn(ctx, err, "watching resolved files")
			}
		}
	}

	srv, err := server.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if fw != nil {
		fw.AddHandler(func(events []watcher.ChangeEvent) error {
			logger.Info(ctx, "changes detected", "files", len(events), "first", events[0].Path)
			return srv.Reload(ctx)
		})
		fw.Start(ctx)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d pages at http://%s\n", len(packager.Pages(p.Session().Graph())), cfg.Addr())
	return srv.Start(ctx)
}

// newProjectWatcher watches the project tree for files matching the build
// watch globs.
func newProjectWatcher(cfg *config.Config, logger logging.Logger) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(cfg.Development.Debounce, logger)
	if err != nil {
		return nil, err
	}

	globs := watcher.Globs{
		Root:    cfg.Build.ProjectRoot,
		Include: cfg.Build.Watch,
		Ignore:  cfg.Build.Ignore,
	}
	fw.AddFilter(globs.Match)
	fw.SetSkipDir(globs.SkipDir)

	if err := fw.AddRecursive(cfg.Build.ProjectRoot); err != nil {
		_ = fw.Stop()
		return nil, fmt.Errorf("watching %s: %w", cfg.Build.ProjectRoot, err)
	}
	return fw, nil
}
