// Package gateway is the dashboard's client for the telemetry gateway.
//
// Client wraps the REST surface (login, refresh, latest, range, health)
// with resty, attaching the session's bearer token through an
// oauth2.TokenSource. Subscribe opens the server-sent event stream for one
// device and keeps it alive across transport errors:
//
//	connecting -> open -> reconnecting -> open -> ... -> closed
//
// Only Close reaches the closed state. Readings pushed while the stream is
// down are lost; callers backfill through Range.
package gateway
