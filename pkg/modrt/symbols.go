package modrt

import "reflect"

// ImportPath is the path artifacts import this package under.
const ImportPath = "github.com/conneroisu/staticpack/pkg/modrt"

// Symbols is the interpreter export table for this package, keyed the way
// yaegi expects ("<import path>/<package name>").
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/modrt": {
		// types
		"BundleRequire": reflect.ValueOf((*BundleRequire)(nil)),
		"Component":     reflect.ValueOf((*Component)(nil)),
		"Element":       reflect.ValueOf((*Element)(nil)),
		"Exports":       reflect.ValueOf((*Exports)(nil)),
		"Meta":          reflect.ValueOf((*Meta)(nil)),
		"Module":        reflect.ValueOf((*Module)(nil)),
		"Page":          reflect.ValueOf((*Page)(nil)),
		"Props":         reflect.ValueOf((*Props)(nil)),
		"RequireFunc":   reflect.ValueOf((*RequireFunc)(nil)),

		// functions
		"C":     reflect.ValueOf(C),
		"Empty": reflect.ValueOf(Empty),
		"H":     reflect.ValueOf(H),
		"Text":  reflect.ValueOf(Text),
	},
}
