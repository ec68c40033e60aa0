package render

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/a-h/templ"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/staticpack/pkg/modrt"
)

// DocumentOptions controls the HTML shell.
type DocumentOptions struct {
	// BootstrapScriptContent is emitted as an inline script at the end of
	// the body.
	BootstrapScriptContent string
	Lang                   string
}

// headTags are hoisted into <head> when the content does not render its own
// document element.
var headTags = map[string]bool{
	"base": true, "link": true, "meta": true, "script": true,
	"style": true, "title": true,
}

// Memoize returns a function that decodes r on first call and returns the
// same result afterwards.
func Memoize(r io.Reader) func() (any, error) {
	var (
		once  sync.Once
		value any
		err   error
	)
	return func() (any, error) {
		once.Do(func() {
			value, err = DecodePayload(r)
			if c, ok := r.(io.Closer); ok {
				_ = c.Close()
			}
		})
		return value, err
	}
}

// DocumentRenderer turns a decoded host tree into an HTML document.
type DocumentRenderer struct{}

// NewDocumentRenderer creates a document renderer.
func NewDocumentRenderer() *DocumentRenderer {
	return &DocumentRenderer{}
}

// RenderDocument resolves content and returns the document stream. Content
// errors are returned before any byte is produced.
func (r *DocumentRenderer) RenderDocument(ctx context.Context, content func() (any, error), opts DocumentOptions) (io.ReadCloser, error) {
	tree, err := content()
	if err != nil {
		return nil, fmt.Errorf("resolving document content: %w", err)
	}
	root, err := buildDocument(tree, opts)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Shell(root).Render(ctx, pw))
	}()
	return pr, nil
}

// Shell writes the doctype followed by the document node.
func Shell(root *html.Node) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!DOCTYPE html>"); err != nil {
			return err
		}
		return html.Render(w, root)
	})
}

func buildDocument(tree any, opts DocumentOptions) (*html.Node, error) {
	nodes, err := toNodes(tree)
	if err != nil {
		return nil, err
	}

	var (
		doc   *html.Node
		head  []*html.Node
		body  []*html.Node
		found bool
	)
	for _, n := range nodes {
		switch {
		case n.Type == html.ElementNode && n.DataAtom == atom.Html && !found:
			doc, found = n, true
		case n.Type == html.ElementNode && headTags[n.Data]:
			head = append(head, n)
		default:
			body = append(body, n)
		}
	}

	if doc == nil {
		doc = element("html")
	}
	if opts.Lang != "" && !hasAttr(doc, "lang") {
		doc.Attr = append(doc.Attr, html.Attribute{Key: "lang", Val: opts.Lang})
	}
	headNode := ensureChild(doc, atom.Head, true)
	bodyNode := ensureChild(doc, atom.Body, false)

	for _, n := range head {
		headNode.AppendChild(n)
	}
	for _, n := range body {
		bodyNode.AppendChild(n)
	}
	if opts.BootstrapScriptContent != "" {
		script := element("script")
		script.AppendChild(&html.Node{Type: html.TextNode, Data: opts.BootstrapScriptContent})
		bodyNode.AppendChild(script)
	}
	return doc, nil
}

func ensureChild(parent *html.Node, a atom.Atom, first bool) *html.Node {
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	n := element(a.String())
	if first && parent.FirstChild != nil {
		parent.InsertBefore(n, parent.FirstChild)
	} else {
		parent.AppendChild(n)
	}
	return n
}

func element(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// toNodes converts a decoded host tree into detached html nodes.
func toNodes(v any) ([]*html.Node, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		// Booleans render nothing, matching conditional children.
		return nil, nil
	case string:
		return []*html.Node{{Type: html.TextNode, Data: t}}, nil
	case float64:
		return []*html.Node{{Type: html.TextNode, Data: strconv.FormatFloat(t, 'f', -1, 64)}}, nil
	case []any:
		var out []*html.Node
		for _, item := range t {
			nodes, err := toNodes(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nodes...)
		}
		return out, nil
	case *modrt.Element:
		if t.IsComponent() {
			return nil, fmt.Errorf("component elements must be rendered before document conversion")
		}
		n := element(t.Tag)
		n.Attr = attributes(t.Props)
		for _, child := range t.Children {
			nodes, err := toNodes(child)
			if err != nil {
				return nil, err
			}
			for _, c := range nodes {
				n.AppendChild(c)
			}
		}
		return []*html.Node{n}, nil
	}
	return nil, fmt.Errorf("cannot render value of type %T", v)
}

func attributes(props modrt.Props) []html.Attribute {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var attrs []html.Attribute
	for _, k := range keys {
		name := attrName(k)
		if !validAttrName(name) {
			continue
		}
		switch v := props[k].(type) {
		case string:
			attrs = append(attrs, html.Attribute{Key: name, Val: v})
		case float64:
			attrs = append(attrs, html.Attribute{Key: name, Val: strconv.FormatFloat(v, 'f', -1, 64)})
		case bool:
			if v {
				attrs = append(attrs, html.Attribute{Key: name})
			}
		}
	}
	return attrs
}

// validAttrName reports whether name can be written as an attribute name
// without altering the surrounding markup.
func validAttrName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r <= 0x20, r == 0x7f, r >= 0x80 && r <= 0x9f:
			return false
		case strings.ContainsRune("\"'>/=<`", r):
			return false
		}
	}
	return true
}

func attrName(prop string) string {
	switch prop {
	case "className":
		return "class"
	case "htmlFor":
		return "for"
	}
	return prop
}
