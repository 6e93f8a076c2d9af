// Package relay forwards session lifecycle transitions and device feedback
// to the outside world.
//
//	registry ──state change──▶ Relay.Handle ──queue──▶ worker
//	                                                     ├─▶ audit.Repository (session_events)
//	                                                     ├─▶ mqtt roomlink/session/<id>/state (retained)
//	                                                     └─▶ on streaming connect: Subscribe(FeedbackPaths)
//	                                                           └─▶ mqtt roomlink/session/<id>/event
//
// Both sinks are optional. With MQTT disabled the relay still writes the
// audit trail.
package relay
