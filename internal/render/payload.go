// Package render serializes component trees to the flight payload format,
// renders payloads to HTML documents, and assembles both streams for a
// response.
//
// A payload is a sequence of newline-terminated rows, each "<id>:<json>".
// Row ids are hex. Each top-level node gets its own row, numbered from 1,
// and the final row 0 lists references to them. Inside row values a host
// element is encoded as ["$", tag, key, props], a reference as "$<id>",
// and a literal string starting with "$" is escaped with an extra "$".
package render

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"

	perrors "github.com/conneroisu/staticpack/internal/errors"
	"github.com/conneroisu/staticpack/pkg/modrt"
)

const elementMarker = "$"

// RenderPayload walks root once, invoking every component with its props,
// and streams the resulting rows. A slice root produces one row per
// element. Render failures, including panics in components, surface as the
// reader's error.
func RenderPayload(ctx context.Context, root any) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				pw.CloseWithError(perrors.NewExecutionError("", fmt.Errorf("render panicked: %v", r)))
			}
		}()
		pw.CloseWithError(writePayload(ctx, pw, root))
	}()
	return pr
}

// callComponent runs c and turns a panic into an execution error.
func callComponent(c modrt.Component, props modrt.Props) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perrors.NewExecutionError("", fmt.Errorf("component panicked: %v", r))
		}
	}()
	return c(props)
}

func writePayload(ctx context.Context, w io.Writer, root any) error {
	nodes, ok := root.([]any)
	if !ok {
		nodes = []any{root}
	}

	bw := bufio.NewWriter(w)
	refs := make([]string, 0, len(nodes))
	for i, node := range nodes {
		value, err := encodeNode(ctx, node)
		if err != nil {
			return err
		}
		id := strconv.FormatInt(int64(i+1), 16)
		if err := writeRow(bw, id, value); err != nil {
			return err
		}
		refs = append(refs, "$"+id)
		// Rows are flushed as they complete so consumers see them early.
		if err := bw.Flush(); err != nil {
			return err
		}
	}

	if err := writeRow(bw, "0", refs); err != nil {
		return err
	}
	return bw.Flush()
}

func writeRow(w io.Writer, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding row %s: %w", id, err)
	}
	if _, err := io.WriteString(w, id+":"); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// encodeNode converts a node to its JSON-ready form, rendering components.
func encodeNode(ctx context.Context, node any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch n := node.(type) {
	case nil:
		return nil, nil
	case string:
		return escapeString(n), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return n, nil
	case *modrt.Element:
		if n == nil {
			return nil, nil
		}
		if n.IsComponent() {
			out, err := callComponent(n.Component, n.ComponentProps())
			if err != nil {
				return nil, err
			}
			return encodeNode(ctx, out)
		}
		return encodeElement(ctx, n)
	case []any:
		return encodeList(ctx, n)
	case modrt.Props:
		return encodeObject(ctx, n)
	case map[string]any:
		return encodeObject(ctx, n)
	case modrt.Exports:
		return encodeObject(ctx, n)
	}

	// Typed slices from interpreted code, e.g. []*modrt.Element or []string.
	v := reflect.ValueOf(node)
	if v.Kind() == reflect.Slice {
		items := make([]any, v.Len())
		for i := range items {
			items[i] = v.Index(i).Interface()
		}
		return encodeList(ctx, items)
	}
	return nil, fmt.Errorf("cannot serialize value of type %T", node)
}

func encodeElement(ctx context.Context, e *modrt.Element) (any, error) {
	props := make(map[string]any, len(e.Props)+1)
	for k, v := range e.Props {
		if k == "children" {
			continue
		}
		encoded, err := encodeNode(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("<%s> prop %s: %w", e.Tag, k, err)
		}
		props[k] = encoded
	}

	switch len(e.Children) {
	case 0:
	case 1:
		child, err := encodeNode(ctx, e.Children[0])
		if err != nil {
			return nil, err
		}
		props["children"] = child
	default:
		children, err := encodeList(ctx, e.Children)
		if err != nil {
			return nil, err
		}
		props["children"] = children
	}

	var key any
	if e.Key != "" {
		key = e.Key
	}
	return []any{elementMarker, e.Tag, key, props}, nil
}

func encodeList(ctx context.Context, items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, item := range items {
		encoded, err := encodeNode(ctx, item)
		if err != nil {
			return nil, err
		}
		out[i] = encoded
	}
	return out, nil
}

func encodeObject[M ~map[string]any](ctx context.Context, m M) (map[string]any, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	for _, k := range keys {
		encoded, err := encodeNode(ctx, m[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = encoded
	}
	return out, nil
}

func escapeString(s string) string {
	if strings.HasPrefix(s, "$") {
		return "$" + s
	}
	return s
}

// DecodePayload reads a payload and rebuilds its root: a []any of host
// elements, strings, numbers, booleans and nils.
func DecodePayload(r io.Reader) (any, error) {
	rows := make(map[string]json.RawMessage)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		id, value, ok := strings.Cut(string(line), ":")
		if !ok {
			return nil, fmt.Errorf("malformed payload row %q", truncate(string(line)))
		}
		rows[id] = json.RawMessage(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	d := &decoder{rows: rows, resolved: make(map[string]any), active: make(map[string]bool)}
	return d.row("0")
}

type decoder struct {
	rows     map[string]json.RawMessage
	resolved map[string]any
	active   map[string]bool
}

func (d *decoder) row(id string) (any, error) {
	if v, ok := d.resolved[id]; ok {
		return v, nil
	}
	raw, ok := d.rows[id]
	if !ok {
		return nil, fmt.Errorf("payload references missing row %s", id)
	}
	if d.active[id] {
		return nil, fmt.Errorf("payload row %s references itself", id)
	}
	d.active[id] = true
	defer delete(d.active, id)

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding row %s: %w", id, err)
	}
	out, err := d.value(value)
	if err != nil {
		return nil, err
	}
	d.resolved[id] = out
	return out, nil
}

func (d *decoder) value(v any) (any, error) {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "$$") {
			return t[1:], nil
		}
		if strings.HasPrefix(t, "$") && len(t) > 1 {
			return d.row(t[1:])
		}
		return t, nil
	case []any:
		if len(t) == 4 && t[0] == elementMarker {
			return d.element(t)
		}
		out := make([]any, len(t))
		for i, item := range t {
			decoded, err := d.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			decoded, err := d.value(item)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	}
	return v, nil
}

func (d *decoder) element(t []any) (any, error) {
	tag, ok := t[1].(string)
	if !ok {
		return nil, fmt.Errorf("element tag must be a string, got %T", t[1])
	}
	e := &modrt.Element{Tag: tag}
	if key, ok := t[2].(string); ok {
		e.Key = key
	}

	rawProps, _ := t[3].(map[string]any)
	props := make(modrt.Props, len(rawProps))
	for k, item := range rawProps {
		decoded, err := d.value(item)
		if err != nil {
			return nil, err
		}
		if k == "children" {
			if list, ok := decoded.([]any); ok {
				e.Children = list
			} else if decoded != nil {
				e.Children = []any{decoded}
			}
			continue
		}
		props[k] = decoded
	}
	e.Props = props
	return e, nil
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
