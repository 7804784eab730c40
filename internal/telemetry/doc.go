// Package telemetry is the gateway's read model for device samples.
//
// A Source is the authoritative time-series store behind the latest and
// range endpoints. Three implementations exist: InfluxDB (default),
// Postgres via pgxpool, and an in-memory source for development and tests.
//
// Records coming out of a Source carry raw store values. Reading and Item
// normalize them for the wire: timestamps become int64 milliseconds
// whatever their native type, numeric fields become *float64, and anything
// missing is rendered as JSON null rather than omitted.
//
// Feed fans new samples out to live subscribers (the SSE and WebSocket
// relays). Ingest connects the MQTT device bus to a Source and the Feed.
package telemetry
