package sandbox

import (
	"path"
	"reflect"
	"sort"

	"github.com/traefik/yaegi/stdlib"

	"github.com/conneroisu/staticpack/pkg/modrt"
)

// DefaultAllowedPackages is the stdlib subset artifacts may import.
var DefaultAllowedPackages = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode/utf8",

	// EXPLICITLY BLOCKED (unsafe packages):
	// "os" - filesystem access
	// "os/exec" - command execution
	// "net" - network access
	// "net/http" - HTTP client
	// "syscall" - system calls
	// "unsafe" - unsafe operations
}

// symbolTable returns the interpreter exports for the allowed stdlib
// packages. yaegi keys symbols as "<import path>/<package name>".
func symbolTable(allowed map[string]bool) map[string]map[string]reflect.Value {
	table := make(map[string]map[string]reflect.Value, len(allowed))
	for key, syms := range stdlib.Symbols {
		if allowed[path.Dir(key)] {
			table[key] = syms
		}
	}
	return table
}

// allowedImports lists every import path an artifact may use.
func allowedImports(allowed map[string]bool) []string {
	out := make([]string, 0, len(allowed)+1)
	for pkg := range allowed {
		out = append(out, pkg)
	}
	out = append(out, modrt.ImportPath)
	sort.Strings(out)
	return out
}
