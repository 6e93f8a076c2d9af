// Package xapi talks to video-conferencing room devices over XAPI.
//
// Two transports implement the same Transport capability:
//
//	┌──────────────────────────┐        ┌──────────────────────────────┐
//	│   StreamingTransport     │        │  RequestResponseTransport    │
//	│   (websocket.go)         │        │  (https.go)                  │
//	│                          │        │                              │
//	│ • wss://<host>/ws        │        │ • GET  /getxml?location=/... │
//	│ • JSON-RPC 2.0           │        │ • POST /putxml               │
//	│ • auth in sub-protocol   │        │ • HTTP Basic per request     │
//	│ • push feedback          │        │ • no feedback                │
//	└────────────┬─────────────┘        └──────────────┬───────────────┘
//	             │ DecodeJSON                          │ DecodeXML
//	             └────────────────┬────────────────────┘
//	                              ▼
//	                    ┌──────────────────┐
//	                    │   *xapi.Node     │
//	                    │ Status/..., etc. │
//	                    └──────────────────┘
//
// Both decoders produce a Node addressed from the XAPI root, so a caller
// reads "Status/SystemUnit/ProductId" or
// "Command/BookingsListResult/Booking" regardless of transport.
//
// # Errors
//
// Failures are reported with the sentinels in errors.go (ErrUnreachable,
// ErrAuthFailed, ErrProtocol, ErrCertificateUntrusted, ErrUnsupported,
// ErrNotConnected) or an *OpError for device-side failures. Classify maps any
// error to a stable ErrorKind string.
//
// # Credentials
//
// Credentials.String and Credentials.LogValue never include the password.
package xapi
