// Package auth issues and validates the bearer tokens that guard the API.
//
// Tokens are HS256 JWTs signed with the shared secret from
// security.jwt.secret. There are no stored user accounts: an operator mints
// tokens with "roomlink token" and hands them to API clients.
//
// Two roles exist. Viewers may read sessions, bookings and events;
// operators may also connect devices and send configuration or commands.
package auth
