// Package database provides GORM-based connection pool management with
// health checks, pool statistics, and transaction retry.
//
// PoolManager wraps the GORM and database/sql pool configuration and
// owns connection lifecycle. WithTransactionRetry retries transient
// storage failures (deadlocks, serialization failures, lost connections)
// with exponential backoff; the version store relies on it to serialize
// concurrent version creation.
package database
