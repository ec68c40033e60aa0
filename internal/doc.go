// Package internal contains the implementation packages of staticpack.
//
// # Package Organization
//
//   - graph: the read-only bundle graph loaded from a build manifest
//   - resolver: specifier resolution for the server and client environments
//   - cache: per-build module cache and single-flight memos
//   - sandbox: interpreted execution of server artifacts
//   - loader: concurrent artifact loading and the per-build session
//   - stream: payload fan-out with backpressure and payload injection
//   - render: payload and document rendering and the response assembler
//   - packager: page packaging and static builds
//   - server, websocket, middleware, watcher: the development server
//   - config, errors, logging, version: ambient support
//
// A build flows graph -> loader (resolver, cache, sandbox) -> render ->
// packager, and the dev server drives the same path per request.
package internal
