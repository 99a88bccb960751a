/*
Package api implements the Handle API surface of spec.md §6.1 as Go
interfaces, and an HTTP server that exposes it over a chi router.

# Architecture

	┌────────────────────── CLIENT (CLI/pkg/client) ──────────────────────┐
	│                                                                      │
	│  ┌────────────────────────────────────────────────────┐            │
	│  │              net/http client (pkg/client)            │            │
	│  └──────────────────────────┬───────────────────────────┘            │
	└─────────────────────────────┼────────────────────────────────────────┘
	                              │ HTTP
	┌─────────────────────────────▼──────────── SERVER NODE ───────────────┐
	│                                                                      │
	│  ┌────────────────────────────────────────────────────┐            │
	│  │              chi.Router (pkg/api/server.go)          │            │
	│  │  - one route group per noun (object/process/pipe/   │            │
	│  │    pty/tag/remote), plus session-level routes        │            │
	│  └──────────────────────────┬───────────────────────────┘            │
	│                              │                                       │
	│  ┌───────────────────────────▼────────────────────────┐            │
	│  │   pkg/object · pkg/process · pkg/checkout ·          │            │
	│  │   pkg/index · pkg/clean · pkg/transfer · pkg/blob    │            │
	│  └──────────────────────────────────────────────────────┘            │
	└──────────────────────────────────────────────────────────────────────┘

Handle is organized by noun, one file per noun: object.go, process.go, pipe.go,
pty.go, tag.go, remote.go, and session.go for the session-level
operations of spec.md §6.1 (health, index, clean, checkout, pull,
push, and the read/write surface). pty.go and pipe.go are minimal
in-memory byte-stream implementations; Tangram's runtime sandbox
wiring — where a real pty would attach to a running process's
controlling terminal — is the out-of-scope pkg/runtime collaborator
boundary, so these two nouns are plumbing with no process attached.

module::{resolve, load}, document, format, lsp, and sync are module
source interpretation and language tooling, which spec.md's Non-goals
place outside the core ("the core does not itself interpret module
source code"); Server.ResolveModule and friends exist as Handle
methods that return a CodeOther "not implemented" error. The router
mounts no HTTP routes for them, so those paths answer 404.
*/
package api
