// Package server is the gateway between WebSocket clients and the
// coordination components.
//
// It authenticates the handshake, runs one read and one write pump per
// connection, decodes inbound events and dispatches them to the registry,
// rooms, typing, fanout and voice packages. It also serves the internal HTTP
// API the persistence layer uses to hand over committed messages.
package server
