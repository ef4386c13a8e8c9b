// Package testutil holds shared test helpers: context builders, an
// in-memory SQLite database with the review schema, row seeders and a
// few assertion and timing utilities.
package testutil
