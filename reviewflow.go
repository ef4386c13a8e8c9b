// Package reviewflow provides a top-level convenience entry point for
// embedding the review coordinator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/reviewflow"
//
//	c, err := reviewflow.New(db, bridge, reviewflow.WithLogger(logger))
//
// This wires the GORM-backed stores, the conversation access checker and
// the coordinator in one call. Applications that need a cache-backed
// pending index, metrics or event fan-out should assemble the pieces
// from hitl, store/... and events directly, the way cmd/reviewflow does.
package reviewflow

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/reviewflow/access"
	"github.com/BaSui01/reviewflow/engine"
	"github.com/BaSui01/reviewflow/events"
	"github.com/BaSui01/reviewflow/hitl"
	"github.com/BaSui01/reviewflow/internal/database"
	"github.com/BaSui01/reviewflow/store/deliverable"
	"github.com/BaSui01/reviewflow/store/pending"
	"github.com/BaSui01/reviewflow/store/task"
	"github.com/BaSui01/reviewflow/store/version"
)

// Option configures the coordinator created by [New].
type Option func(*options)

type options struct {
	logger  *zap.Logger
	emitter events.Emitter
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEmitter sets an event emitter for task lifecycle events.
func WithEmitter(e events.Emitter) Option {
	return func(o *options) { o.emitter = e }
}

// New creates a [hitl.Coordinator] backed by db and bridge. The database
// must already hold the schema (see internal/migration).
func New(db *gorm.DB, bridge engine.Bridge, opts ...Option) (*hitl.Coordinator, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), o.logger)
	if err != nil {
		return nil, err
	}

	versions := version.NewGormStore(pool, o.logger)

	coordinatorOpts := []hitl.CoordinatorOption{}
	if o.emitter != nil {
		coordinatorOpts = append(coordinatorOpts, hitl.WithEmitter(o.emitter))
	}

	return hitl.NewCoordinator(
		task.NewGormStore(db, o.logger),
		deliverable.NewGormRegistry(db, versions, o.logger),
		versions,
		pending.NewGormIndex(db, o.logger),
		bridge,
		access.NewDBChecker(db, o.logger),
		o.logger,
		coordinatorOpts...,
	), nil
}
