package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// orderedObject is a JSON object that keeps its key order. Export
// conditions are matched in declaration order, which a Go map loses.
type orderedObject struct {
	keys   []string
	values map[string]any
}

func (o *orderedObject) get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

type packageJSON struct {
	path    string
	dir     string
	name    string
	exports any // nil when absent
	hasExp  bool
	fields  *orderedObject
}

func parsePackageJSON(path, dir string, data []byte) (*packageJSON, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeOrdered(dec)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	obj, ok := v.(*orderedObject)
	if !ok {
		return nil, fmt.Errorf("parsing %s: not an object", path)
	}

	pkg := &packageJSON{path: path, dir: dir, fields: obj}
	if name, ok := obj.values["name"].(string); ok {
		pkg.name = name
	}
	pkg.exports, pkg.hasExp = obj.get("exports")
	return pkg, nil
}

// field returns a string-valued top-level field.
func (p *packageJSON) field(name string) (string, bool) {
	v, ok := p.fields.values[name].(string)
	return v, ok && v != ""
}

func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &orderedObject{values: make(map[string]any)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				val, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := obj.values[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.values[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			var arr []any
			for dec.More() {
				val, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return t, nil
	}
}

var errNotExported = errors.New("not exported")

// resolveExports maps a package subpath ("." or "./x") through the exports
// field, returning the package-relative target.
func resolveExports(exports any, subpath string, conditions map[string]bool) (string, error) {
	switch e := exports.(type) {
	case string, []any:
		if subpath != "." {
			return "", errNotExported
		}
		return resolveTarget(e, "", conditions)
	case *orderedObject:
		if !isSubpathMap(e) {
			if subpath != "." {
				return "", errNotExported
			}
			return resolveTarget(e, "", conditions)
		}
		if target, ok := e.get(subpath); ok {
			return resolveTarget(target, "", conditions)
		}
		key, match, ok := matchPattern(e, subpath)
		if !ok {
			return "", errNotExported
		}
		return resolveTarget(e.values[key], match, conditions)
	case nil:
		return "", errNotExported
	}
	return "", fmt.Errorf("invalid exports value %T", exports)
}

func isSubpathMap(o *orderedObject) bool {
	return len(o.keys) > 0 && strings.HasPrefix(o.keys[0], ".")
}

// matchPattern finds the "*" key with the longest prefix matching subpath.
func matchPattern(o *orderedObject, subpath string) (key, match string, ok bool) {
	best := -1
	for _, k := range o.keys {
		star := strings.IndexByte(k, '*')
		if star < 0 {
			continue
		}
		prefix, suffix := k[:star], k[star+1:]
		if !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		if len(subpath) < len(prefix)+len(suffix) {
			continue
		}
		if len(prefix) > best {
			best = len(prefix)
			key = k
			match = subpath[len(prefix) : len(subpath)-len(suffix)]
			ok = true
		}
	}
	return key, match, ok
}

func resolveTarget(target any, match string, conditions map[string]bool) (string, error) {
	switch t := target.(type) {
	case string:
		if !strings.HasPrefix(t, "./") {
			return "", fmt.Errorf("invalid export target %q", t)
		}
		return strings.ReplaceAll(t, "*", match), nil
	case []any:
		var lastErr error = errNotExported
		for _, alt := range t {
			resolved, err := resolveTarget(alt, match, conditions)
			if err == nil {
				return resolved, nil
			}
			lastErr = err
		}
		return "", lastErr
	case *orderedObject:
		for _, cond := range t.keys {
			if cond != "default" && !conditions[cond] {
				continue
			}
			resolved, err := resolveTarget(t.values[cond], match, conditions)
			if err == nil {
				return resolved, nil
			}
			if !errors.Is(err, errNotExported) {
				return "", err
			}
		}
		return "", errNotExported
	case nil:
		return "", errNotExported
	}
	return "", errNotExported
}
