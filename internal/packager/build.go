package packager

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/logging"
)

// BuildResult lists the files a build wrote, relative to the dist dir.
type BuildResult struct {
	Pages []string
	Files []string
}

// Build resets the session, packages every page bundle and writes
// "<name>" and "<name without extension>.rsc" under dist. A failing page
// does not stop the others; all failures are returned joined.
func (p *Packager) Build(ctx context.Context, fs afero.Fs, dist string) (*BuildResult, error) {
	p.session.Reset()
	g := p.session.Graph()

	perf := logging.StartOperation(p.logger.With("session", p.session.ID(), "dist", dist), "build")

	if err := fs.MkdirAll(dist, 0o755); err != nil {
		err = perrors.NewIOError(perrors.ErrCodeFileNotFound, "creating output directory", err).WithFile(dist)
		perf.EndWithError(ctx, err)
		return nil, err
	}

	var pages []*graph.Bundle
	for _, b := range g.EntryBundles() {
		if IsPage(b) {
			pages = append(pages, b)
		}
	}

	collector := perrors.NewErrorCollector()
	result := &BuildResult{}
	files := make([][]string, len(pages))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for i, bundle := range pages {
		group.Go(func() error {
			written, err := p.writePage(gctx, fs, dist, bundle)
			if err != nil {
				collector.Add(bundle.Name, err)
				return nil
			}
			files[i] = written
			return nil
		})
	}
	_ = group.Wait()

	for i, bundle := range pages {
		if files[i] != nil {
			result.Pages = append(result.Pages, bundle.Name)
			result.Files = append(result.Files, files[i]...)
		}
	}
	sort.Strings(result.Pages)
	sort.Strings(result.Files)

	if err := collector.Err(); err != nil {
		perf.EndWithError(ctx, err)
		return result, err
	}
	perf.End(ctx)
	p.logger.Info(ctx, "build complete", "pages", len(result.Pages), "files", len(result.Files))
	return result, nil
}

func (p *Packager) writePage(ctx context.Context, fs afero.Fs, dist string, bundle *graph.Bundle) ([]string, error) {
	outputs, err := p.Package(ctx, bundle)
	if err != nil {
		return nil, err
	}
	defer CloseOutputs(outputs)

	base := strings.TrimSuffix(bundle.Name, filepath.Ext(bundle.Name))
	names := map[string]string{
		OutputHTML: bundle.Name,
		OutputRSC:  base + ".rsc",
	}

	var written []string
	for _, out := range outputs {
		name, ok := names[out.Type]
		if !ok {
			continue
		}
		if err := writeFile(fs, filepath.Join(dist, name), out.Contents); err != nil {
			return nil, err
		}
		written = append(written, filepath.ToSlash(name))
	}
	return written, nil
}

// writeFile streams r into a temporary file next to path and renames it
// into place, so a failing stream never leaves a partial file at path.
func writeFile(fs afero.Fs, path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return perrors.NewIOError(perrors.ErrCodeFileNotFound, "creating directory", err).WithFile(path)
	}
	f, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return perrors.NewIOError(perrors.ErrCodeFileNotFound, "creating file", err).WithFile(path)
	}
	tmp := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := fs.Chmod(tmp, 0o644); err != nil {
		_ = fs.Remove(tmp)
		return perrors.NewIOError(perrors.ErrCodeFileNotFound, "setting file mode", err).WithFile(path)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return perrors.NewIOError(perrors.ErrCodeFileNotFound, "renaming file", err).WithFile(path)
	}
	return nil
}
