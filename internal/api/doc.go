// Package api serves the RoomLink REST API and a WebSocket push channel.
//
// Routes live under /api/v1: device sessions (connect, disconnect,
// reconnect, identity, raw XAPI get/set/command), booking queries per device
// or for the current device, the session event history and /ws.
//
// Everything except /health needs a bearer token; viewer tokens are
// read-only. /ws takes a single-use ticket from POST /auth/ws-ticket instead.
//
// Domain errors map onto HTTP statuses in one place (statusFor), so every
// handler answers a lost device with 504 unreachable and a rejected login
// with 401 auth_failed.
//
//	srv, err := api.New(api.Deps{Config: cfg.API, Logger: log, Registry: reg, Bookings: svc, JWTSecret: secret})
//	srv.Start(ctx)
//	defer srv.Close()
package api
