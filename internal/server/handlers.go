package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/spf13/afero"

	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/internal/graph"
	"github.com/conneroisu/staticpack/internal/packager"
	"github.com/conneroisu/staticpack/internal/render"
	"github.com/conneroisu/staticpack/internal/version"
)

// route is the page a request path names.
type route struct {
	name string
	// payload forces the payload regardless of Accept.
	payload bool
}

// pageRoute maps a request path to a page bundle name: "/" and paths
// ending in "/" name an index.html, an extensionless path gains ".html",
// and "<page>.rsc" asks for that page's payload. Other paths are static
// files.
func pageRoute(urlPath string) (route, bool) {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || strings.HasSuffix(urlPath, "/") {
		return route{name: path.Join(name, "index.html")}, true
	}

	switch path.Ext(name) {
	case "":
		return route{name: name + ".html"}, true
	case ".html":
		return route{name: name}, true
	case ".rsc":
		return route{name: strings.TrimSuffix(name, ".rsc") + ".html", payload: true}, true
	}
	return route{}, false
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	rt, ok := pageRoute(r.URL.Path)
	if !ok {
		s.static.ServeHTTP(w, r)
		return
	}

	bundle, err := s.packager.Session().Graph().FindBundle(rt.name)
	if err != nil || !packager.IsPage(bundle) {
		if s.distHas(rt.name) {
			s.static.ServeHTTP(w, r)
			return
		}
		s.writeError(w, r, perrors.NewBundleNotFoundError(rt.name))
		return
	}

	format := render.Negotiate(r.Header.Get("Accept"))
	if rt.payload {
		format = render.FormatPayload
	}

	body, err := s.renderPage(r, bundle, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.watch != nil {
		s.watch(s.packager.Session().Invalidations())
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Vary", "Accept")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// renderPage packages the page and reads the output matching format.
func (s *Server) renderPage(r *http.Request, bundle *graph.Bundle, format render.Format) ([]byte, error) {
	outputs, err := s.packager.Package(r.Context(), bundle)
	if err != nil {
		return nil, err
	}
	defer packager.CloseOutputs(outputs)

	want := packager.OutputRSC
	if format == render.FormatHTML {
		want = packager.OutputHTML
	}
	for _, out := range outputs {
		if out.Type != want {
			continue
		}
		body, err := io.ReadAll(out.Contents)
		if err != nil {
			return nil, err
		}
		if format == render.FormatHTML && s.config.Development.HotReload {
			body = InjectReloadScript(body)
		}
		return body, nil
	}
	return nil, perrors.NewInternalError(perrors.ErrCodeInternalError, "packager produced no "+want+" output", nil)
}

func (s *Server) distHas(name string) bool {
	ok, err := afero.Exists(s.fs, path.Join(s.config.DistPath(), name))
	return err == nil && ok
}

// writeError answers 404 for missing bundles and 500 for everything else.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if perrors.IsBundleNotFound(err) {
		status = http.StatusNotFound
		s.logger.Debug(r.Context(), "page not found", "path", r.URL.Path)
	} else {
		s.logger.Error(r.Context(), err, "rendering page failed", "path", r.URL.Path)
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	session := s.packager.Session()
	health := map[string]any{
		"status":  "healthy",
		"version": version.GetShortVersion(),
		"session": session.ID(),
		"pages":   len(packager.Pages(session.Graph())),
		"clients": s.hub.ConnectedClients(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "failed to encode health response")
	}
}

// reloadScript connects to /ws and reloads the page when told to.
const reloadScript = `<script>(()=>{const ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");` +
	`ws.onmessage=(e)=>{const m=JSON.parse(e.data);if(m.type==="reload")location.reload();else if(m.type==="error")console.error(m.content)}})()</script>`

// InjectReloadScript inserts the live reload client before the last
// </body>, or appends it when there is none.
func InjectReloadScript(doc []byte) []byte {
	i := bytes.LastIndex(doc, []byte("</body>"))
	if i < 0 {
		return append(doc, reloadScript...)
	}
	out := make([]byte, 0, len(doc)+len(reloadScript))
	out = append(out, doc[:i]...)
	out = append(out, reloadScript...)
	return append(out, doc[i:]...)
}
