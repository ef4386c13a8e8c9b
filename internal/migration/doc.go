// Package migration manages the review store schema with golang-migrate.
//
// Migration files are embedded per backend under migrations/{postgres,
// mysql,sqlite} and applied through DefaultMigrator. The schema covers
// conversations, tasks, deliverables and deliverable_versions; the
// second migration introduced the task-level pending flag and backfills
// it from tasks already sitting in awaiting_decision.
//
// CLI wraps a Migrator for the reviewflow migrate subcommands.
package migration
