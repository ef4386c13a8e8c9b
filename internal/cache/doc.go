// Package cache provides Redis-backed caching for read models.
//
// Manager wraps a go-redis client with JSON helpers and a periodic
// health check. The pending-review list is the main consumer: the
// index caches per-user pending snapshots under PendingListKey and
// invalidates them whenever a task's pending flag changes.
package cache
