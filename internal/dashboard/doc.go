// Package dashboard keeps a device view current while the network comes
// and goes.
//
// The Coordinator owns the offline-first read path. On activation it
// backfills the local store from the gateway, paints the newest reading
// it can find, paints both chart windows from the cache and then from the
// gateway, prunes old samples, and finally relays the live channel into
// the view and the cache.
//
// Paints go through View. Status values are normalized by Normalize, and
// charts are bounded by Downsample and front eviction, so a long-running
// session never holds more than the point budget per window.
package dashboard
