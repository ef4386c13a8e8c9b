package version

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/BaSui01/reviewflow/types"
)

// MemoryStore implements Store in memory. Used in tests and as the
// backing store when running without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]types.DeliverableVersion
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]types.DeliverableVersion),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (*types.DeliverableVersion, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	format := in.ContentFormat
	if format == "" {
		format = DefaultContentFormat
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.versions[in.DeliverableID]
	for i := range chain {
		chain[i].IsCurrentVersion = false
	}

	v := types.DeliverableVersion{
		ID:               uuid.NewString(),
		DeliverableID:    in.DeliverableID,
		VersionNumber:    len(chain) + 1,
		Content:          in.Content,
		ContentFormat:    format,
		CreatedByType:    in.Kind,
		IsCurrentVersion: true,
		TaskID:           in.TaskID,
		Feedback:         in.Feedback,
	}
	s.versions[in.DeliverableID] = append(chain, v)

	out := v
	return &out, nil
}

// Current implements Store.
func (s *MemoryStore) Current(ctx context.Context, deliverableID string) (*types.DeliverableVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[deliverableID] {
		if v.IsCurrentVersion {
			out := v
			return &out, nil
		}
	}
	return nil, noVersions(deliverableID)
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, deliverableID string, versionNumber int) (*types.DeliverableVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[deliverableID] {
		if v.VersionNumber == versionNumber {
			out := v
			return &out, nil
		}
	}
	return nil, noVersions(deliverableID)
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, deliverableID string) ([]types.DeliverableVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.versions[deliverableID]
	out := make([]types.DeliverableVersion, len(chain))
	copy(out, chain)
	return out, nil
}

// Promote implements Store.
func (s *MemoryStore) Promote(ctx context.Context, deliverableID string, versionNumber int) (*types.DeliverableVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.versions[deliverableID]
	target := -1
	for i, v := range chain {
		if v.VersionNumber == versionNumber {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, types.NewError(types.ErrNotFound, "version not found for deliverable: "+deliverableID).
			WithHTTPStatus(http.StatusNotFound)
	}

	for i := range chain {
		chain[i].IsCurrentVersion = i == target
	}

	out := chain[target]
	return &out, nil
}
