// Package ipc exposes the host over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and
// conversions between journal models and lightweight wire representations.
// The server embeds the host while the client keeps a short dial timeout so
// CLI commands fail fast when the host is offline.
//
// Reuse these types when adding new RPC endpoints to keep the protocol
// stable and compatible with existing command implementations.
package ipc
