package render

import (
	"context"
	"io"
	"strings"

	"github.com/conneroisu/staticpack/internal/stream"
)

// Response content types.
const (
	ContentTypeHTML    = "text/html"
	ContentTypePayload = "text/x-component"
)

// Format is the representation a client asked for.
type Format int

const (
	FormatPayload Format = iota
	FormatHTML
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return ContentTypeHTML
	}
	return ContentTypePayload
}

// Negotiate picks the document when accept mentions text/html and the
// payload otherwise.
func Negotiate(accept string) Format {
	if strings.Contains(accept, ContentTypeHTML) {
		return FormatHTML
	}
	return FormatPayload
}

// Assembler renders a tree once and produces both the HTML document with
// the payload injected and the standalone payload.
type Assembler struct {
	documents *DocumentRenderer
}

// NewAssembler creates an Assembler.
func NewAssembler(documents *DocumentRenderer) *Assembler {
	if documents == nil {
		documents = NewDocumentRenderer()
	}
	return &Assembler{documents: documents}
}

// Assemble renders root and returns the document and payload streams. The
// payload is split three ways at the byte level: one copy feeds the
// document, one is injected into it, and one is returned as is.
func (a *Assembler) Assemble(ctx context.Context, root any, opts DocumentOptions) (document, payload io.ReadCloser, err error) {
	rendered := RenderPayload(ctx, root)

	// The document needs the whole payload before its body is written, so
	// the inject copy always trails by the full payload.
	copies := stream.New(rendered, 3, stream.Options{MaxLag: stream.Unbounded}).Consumers()
	renderCopy, injectCopy, payloadCopy := copies[0], copies[1], copies[2]

	doc, err := a.documents.RenderDocument(ctx, Memoize(renderCopy), opts)
	if err != nil {
		_ = injectCopy.Close()
		_ = payloadCopy.Close()
		return nil, nil, err
	}
	return stream.InjectPayload(doc, injectCopy), payloadCopy, nil
}
