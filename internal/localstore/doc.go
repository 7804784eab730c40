// Package localstore is the dashboard's offline cache of device telemetry.
//
// It keeps an append-only log of samples per device in a pure-Go SQLite
// file (modernc.org/sqlite, no cgo) next to a small key/value table used
// for the session and other client flags. The schema is embedded and
// applied by the shared migration runner the first time the store is used.
//
// Only the dashboard coordinator writes to the store. Samples enter through
// warm-up backfill, range refreshes and live pushes, and leave only through
// Prune.
//
// Usage:
//
//	store := localstore.New(localstore.Config{Path: cfg.Client.DatabasePath})
//	defer store.Close()
//
//	n, err := store.PutMany(ctx, samples)
//	series, err := store.Range(ctx, "inv-01", from, to, 0)
package localstore

import (
	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)
