// Package packager renders page bundles to static HTML documents and flight
// payloads.
//
// For each page bundle the packager loads the bundle's artifacts, takes the
// default export of its main entry as the page component, and renders the
// component together with the page's stylesheet and script resources. The
// render produces two outputs: the HTML document with the payload injected
// and the payload itself.
package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/loader"
	"github.com/conneroisu/staticpack/internal/logging"
	"github.com/conneroisu/staticpack/internal/render"
	"github.com/conneroisu/staticpack/pkg/modrt"
)

// Output types.
const (
	OutputHTML = "html"
	OutputRSC  = "rsc"
)

// Output is one packaged stream of a bundle.
type Output struct {
	Type     string
	Contents io.ReadCloser
}

// CloseOutputs closes the contents of every output.
func CloseOutputs(outputs []Output) {
	for _, o := range outputs {
		if o.Contents != nil {
			_ = o.Contents.Close()
		}
	}
}

// Options configures a Packager.
type Options struct {
	// PackageName seeds the client runtime's require function name.
	PackageName string
	Lang        string
	Logger      logging.Logger
}

// Packager packages page bundles of one session.
type Packager struct {
	session     *loader.Session
	assembler   *render.Assembler
	requireName string
	lang        string
	logger      logging.Logger
}

// New creates a Packager over session and installs it as the session's
// inline bundle packager.
func New(session *loader.Session, opts Options) *Packager {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	p := &Packager{
		session:     session,
		assembler:   render.NewAssembler(render.NewDocumentRenderer()),
		requireName: RequireName(opts.PackageName),
		lang:        opts.Lang,
		logger:      opts.Logger.WithComponent("packager"),
	}
	session.SetInline(p.packageInline)
	return p
}

// RequireName is the global the client runtime registers its module
// require function under: "parcelRequire" plus the last four hex digits of
// the package name's hash.
func RequireName(packageName string) string {
	h := graph.HashString(packageName)
	return "parcelRequire" + h[len(h)-4:]
}

// Session returns the packager's loader session.
func (p *Packager) Session() *loader.Session {
	return p.session
}

// Package renders bundle and returns its html and rsc outputs. The caller
// owns and must close both streams.
func (p *Packager) Package(ctx context.Context, bundle *graph.Bundle) ([]Output, error) {
	if bundle.Env.ShouldScopeHoist {
		return nil, perrors.NewValidationError(perrors.ErrCodeScopeHoisting,
			"scope hoisting is not supported with static rendering")
	}

	logger := p.logger.With("session", p.session.ID(), "bundle", bundle.Name)
	perf := logging.StartOperation(logger, "package")

	outputs, err := p.pack(ctx, bundle)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	perf.End(ctx)
	return outputs, nil
}

func (p *Packager) pack(ctx context.Context, bundle *graph.Bundle) ([]Output, error) {
	g := p.session.Graph()

	main, ok := g.MainEntry(bundle)
	if !ok {
		return nil, perrors.NewValidationError(perrors.ErrCodeValidationFailed,
			"bundle "+bundle.Name+" has no main entry")
	}

	loaded, err := p.session.LoadBundle(ctx, bundle)
	if err != nil {
		return nil, err
	}
	exports, err := loaded.Load(ctx, main.ID)
	if err != nil {
		return nil, err
	}
	component, err := asComponent(exports.Default())
	if err != nil {
		return nil, perrors.NewExecutionError(main.FilePath, err)
	}

	props := modrt.Props{
		"pages":       pagesProps(Pages(g)),
		"currentPage": pageFor(bundle, main).AsProps(),
	}

	resources, bootstrapModules, entry := p.resources(g, bundle)

	var bootstrap string
	if entry != nil {
		bootstrap = BootstrapScript(bootstrapModules, p.requireName, g.AssetPublicID(entry))
	}

	root := append(resources, modrt.C(component, props))
	document, payload, err := p.assembler.Assemble(ctx, root, render.DocumentOptions{
		BootstrapScriptContent: bootstrap,
		Lang:                   p.lang,
	})
	if err != nil {
		return nil, err
	}

	return []Output{
		{Type: OutputHTML, Contents: document},
		{Type: OutputRSC, Contents: payload},
	}, nil
}

func asComponent(v any) (modrt.Component, error) {
	switch c := v.(type) {
	case modrt.Component:
		return c, nil
	case func(modrt.Props) (any, error):
		return c, nil
	case nil:
		return nil, fmt.Errorf("main entry has no default export")
	}
	return nil, fmt.Errorf("default export of type %T is not a component", v)
}

// resources returns the stylesheet and script elements of the bundles
// bundle references, the URLs of its browser modules, and the first client
// entry asset found in them.
func (p *Packager) resources(g graph.BundleGraph, bundle *graph.Bundle) ([]any, []string, *graph.Asset) {
	var (
		resources []any
		modules   []string
		entry     *graph.Asset
	)

	for _, b := range g.ReferencedBundles(bundle, false) {
		url := graph.BundleURL(b)
		switch {
		case b.Type == graph.TypeCSS:
			resources = append(resources, modrt.H("link", modrt.Props{
				"rel":  "stylesheet",
				"href": url,
			}))
		case b.Type == graph.TypeJS && b.Env.IsBrowser():
			modules = append(modules, url)
			resources = append(resources, modrt.H("script", modrt.Props{
				"type":  "module",
				"async": true,
				"src":   url,
			}))
			if entry == nil {
				g.TraverseAssets(b, func(a *graph.Asset) bool {
					if a.Meta.HasDirective(graph.DirectiveClientEntry) {
						entry = a
						return true
					}
					return false
				})
			}
		}
	}
	return resources, modules, entry
}

// BootstrapScript imports every module and then requires the client entry.
func BootstrapScript(modules []string, requireName, entryPublicID string) string {
	imports := make([]string, len(modules))
	for i, m := range modules {
		imports[i] = fmt.Sprintf("import(%q)", m)
	}
	id, _ := json.Marshal(entryPublicID)
	return fmt.Sprintf("Promise.all([%s]).then(()=>%s(%s))", strings.Join(imports, ","), requireName, id)
}

// Pages lists every statically rendered page of g.
func Pages(g graph.BundleGraph) []modrt.Page {
	var pages []modrt.Page
	for _, b := range g.EntryBundles() {
		main, ok := g.MainEntry(b)
		if ok && IsPage(b) {
			pages = append(pages, pageFor(b, main))
		}
	}
	return pages
}

// IsPage reports whether bundle renders to its own document.
func IsPage(bundle *graph.Bundle) bool {
	return bundle.IsEntry && bundle.Type == graph.TypeGo && bundle.NeedsStableName
}

func pageFor(b *graph.Bundle, main *graph.Asset) modrt.Page {
	return modrt.Page{
		URL:  graph.BundleURL(b),
		Name: b.Name,
		Meta: PageMeta(main.Meta, b.Name),
	}
}

func pagesProps(pages []modrt.Page) []any {
	out := make([]any, len(pages))
	for i, page := range pages {
		out[i] = page.AsProps()
	}
	return out
}

// PageMeta returns a copy of the asset's static metadata with a title
// derived from the page name when none is set.
func PageMeta(meta graph.Meta, name string) map[string]any {
	out := make(map[string]any, len(meta.SSGMeta)+1)
	for k, v := range meta.SSGMeta {
		out[k] = v
	}
	if _, ok := out["title"]; !ok {
		out["title"] = Title(name)
	}
	return out
}

// Title turns a page name such as "blog/my-first_post.html" into
// "My First Post".
func Title(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return cases.Title(language.English).String(base)
}

// PageName is the output name of an entry bundle: the main entry's path
// relative to entryRoot with an .html extension. Each leading ".." segment
// becomes "up_".
func PageName(mainFilePath, entryRoot string) string {
	base := filepath.Base(mainFilePath)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ".html"

	rel, err := filepath.Rel(entryRoot, filepath.Dir(mainFilePath))
	if err != nil {
		rel = ""
	}
	joined := filepath.ToSlash(filepath.Join(rel, name))
	return strings.ReplaceAll(joined, "../", "up_/")
}

// packageInline packages an inline bundle. Page-like bundles with a main
// entry are rendered to HTML; anything else uses the session default.
func (p *Packager) packageInline(ctx context.Context, bundle *graph.Bundle) (string, error) {
	if bundle.Type != graph.TypeGo {
		return p.session.DefaultInline(ctx, bundle)
	}
	if _, ok := p.session.Graph().MainEntry(bundle); !ok {
		return p.session.DefaultInline(ctx, bundle)
	}

	outputs, err := p.Package(ctx, bundle)
	if err != nil {
		return "", err
	}
	defer CloseOutputs(outputs)

	data, err := io.ReadAll(outputs[0].Contents)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
