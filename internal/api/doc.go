// Package api implements the HTTP façade of the SunTec telemetry gateway.
//
// This package provides:
//   - Account endpoints (register, login, refresh, profile) backed by an
//     identity provider
//   - Telemetry REST endpoints for the latest reading and bounded ranges
//   - A live event-stream relay (text/event-stream) per device
//   - A WebSocket mirror of the live relay
//   - Middleware stack (request ID, logging, recovery, CORS, bearer auth)
//
// # Authentication
//
// Protected routes expect "Authorization: Bearer <idToken>". The live
// channels also accept ?token= because browsers cannot set headers on an
// EventSource; the query parameter wins when both are present. A failed
// check on REST routes answers 401 with a JSON error body, the live
// channels answer a bare 401.
//
// # Live channel lifecycle
//
// Every connected stream owns exactly one telemetry.Feed subscription and
// one keep-alive ticker. Both are released on the same deferred path when
// the request context ends, so a disconnecting client leaves no listener
// behind.
//
// Error bodies are always {"error": "<message>"}.
package api
