package resolver

import "strings"

// EmptyModule is the value of an Empty resolution: the module that stands in
// for platform builtins in client environments.
const EmptyModule = "_empty"

var builtinModules = map[string]bool{
	"_http_agent": true, "_http_client": true, "_http_common": true,
	"_http_incoming": true, "_http_outgoing": true, "_http_server": true,
	"_stream_duplex": true, "_stream_passthrough": true, "_stream_readable": true,
	"_stream_transform": true, "_stream_wrap": true, "_stream_writable": true,
	"_tls_common": true, "_tls_wrap": true,
	"assert": true, "async_hooks": true, "buffer": true, "child_process": true,
	"cluster": true, "console": true, "constants": true, "crypto": true,
	"dgram": true, "dns": true, "domain": true, "events": true, "fs": true,
	"http": true, "http2": true, "https": true, "inspector": true, "module": true,
	"net": true, "os": true, "path": true, "perf_hooks": true, "process": true,
	"punycode": true, "querystring": true, "readline": true, "repl": true,
	"stream": true, "string_decoder": true, "sys": true, "timers": true,
	"tls": true, "trace_events": true, "tty": true, "url": true, "util": true,
	"v8": true, "vm": true, "worker_threads": true, "zlib": true,
}

// IsBuiltin reports whether specifier names a platform builtin, with or
// without the "node:" prefix. Subpaths such as "fs/promises" count.
func IsBuiltin(specifier string) bool {
	name := strings.TrimPrefix(specifier, "node:")
	if i := strings.IndexByte(name, '/'); i > 0 {
		name = name[:i]
	}
	return builtinModules[name]
}

// BuiltinName strips the "node:" prefix.
func BuiltinName(specifier string) string {
	return strings.TrimPrefix(specifier, "node:")
}
