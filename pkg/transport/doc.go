// Package transport defines the handler interfaces and middleware chain for
// the stapel HTTP/SSE transport layer.
//
// The transport layer bridges external clients and the internal batch
// engine. It deserializes incoming requests into the core types defined in
// pkg/api, dispatches them for processing, and serializes results back to
// the client as complete JSON runs or SSE frame streams.
//
// # Handler Interfaces
//
// Two handler interfaces define the contract between the transport layer
// and the engine:
//
//   - BatchRunner handles batch completion runs.
//   - StreamRunner handles single-conversation streaming completions.
//
// RunStore handles persistence, retrieval, and deletion of stored runs and
// is only wired in deployments with persistence configured.
//
// # Middleware
//
// The middleware chain wraps BatchRunner with cross-cutting concerns:
// panic recovery, request ID assignment (X-Request-ID), and structured
// logging via log/slog.
package transport
