// Package relay implements the core of the GoRelay message relay: the
// session registry, the authentication handshake, the per-connection
// dispatcher, and the idle-session reaper.
//
// The implementation is organized into specialized files for the wire
// envelope, configuration, the registry and sessions, dispatching, presence
// reaping, and HTTP plumbing to keep the codebase maintainable and testable
// as the project grows.
package relay
