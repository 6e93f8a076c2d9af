// Package session manages authenticated connections to room devices.
//
// A Session owns one device's credentials and at most one active
// xapi.Transport. It runs the connect state machine (transport order,
// fallback rules, identity fetch) and exposes Get/Set/Execute/Subscribe
// only while connected.
//
// The Registry maps host-derived ids (DeriveID) to sessions and exposes a
// secret-free Projection of each one to the rest of the program.
//
// # Architecture
//
//	┌──────────────┐   ConnectDevice    ┌──────────────┐   Connect   ┌────────────────┐
//	│  api / cmd   │ ─────────────────▶ │   Registry   │ ──────────▶ │    Session     │
//	└──────────────┘   Resolve(ref)     │ id → Session │             │ state machine  │
//	                                    └──────────────┘             └───────┬────────┘
//	                                                                         │ Transport
//	                                                                         ▼
//	                                                          streaming ─▶ request/response
//	                                                          (fallback on unreachable/protocol)
//
// # Credentials
//
// Only Session holds an xapi.Credentials value. Projection has no password
// field, and sessions log credentials through their slog.LogValuer, which
// omits it.
package session
