// Package version persists deliverable version chains.
//
// Version numbers per deliverable form a gapless 1-based sequence and
// exactly one version per deliverable is current at any time. Appends
// are serialized through the unique (deliverable_id, version_number)
// index: a concurrent writer that loses the race gets a duplicate-key
// error and retries with the next number.
package version

import (
	"context"
	"net/http"

	"github.com/BaSui01/reviewflow/types"
)

// AppendInput describes a version to append.
type AppendInput struct {
	DeliverableID string
	Content       string
	ContentFormat string
	Kind          types.CreationKind
	TaskID        *string
	Feedback      *string
}

// Validate checks the input before any storage work.
func (in *AppendInput) Validate() error {
	if in.DeliverableID == "" {
		return types.NewError(types.ErrValidation, "deliverable id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if !types.ValidCreationKind(in.Kind) {
		return types.NewError(types.ErrValidation, "unknown creation kind: "+string(in.Kind)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

// Store is the deliverable version repository.
type Store interface {
	// Append creates the next version and makes it current.
	Append(ctx context.Context, in AppendInput) (*types.DeliverableVersion, error)

	// Current returns the current version or NOT_FOUND.
	Current(ctx context.Context, deliverableID string) (*types.DeliverableVersion, error)

	// Get returns one version by number or NOT_FOUND.
	Get(ctx context.Context, deliverableID string, versionNumber int) (*types.DeliverableVersion, error)

	// List returns all versions ordered by version number ascending.
	List(ctx context.Context, deliverableID string) ([]types.DeliverableVersion, error)

	// Promote makes an existing version current without creating a new one.
	Promote(ctx context.Context, deliverableID string, versionNumber int) (*types.DeliverableVersion, error)
}

// DefaultContentFormat is used when AppendInput leaves the format empty.
const DefaultContentFormat = "markdown"
