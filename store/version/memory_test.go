package version

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/reviewflow/types"
)

func TestMemoryStore_AppendAssignsSequence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		v, err := store.Append(ctx, AppendInput{
			DeliverableID: "d-1",
			Content:       fmt.Sprintf("draft %d", i),
			Kind:          types.CreationAIResponse,
		})
		require.NoError(t, err)
		assert.Equal(t, i, v.VersionNumber)
		assert.True(t, v.IsCurrentVersion)
	}

	versions, err := store.List(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.False(t, versions[0].IsCurrentVersion)
	assert.False(t, versions[1].IsCurrentVersion)
	assert.True(t, versions[2].IsCurrentVersion)
}

func TestMemoryStore_AppendValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Append(ctx, AppendInput{Kind: types.CreationAIResponse})
	assert.True(t, types.IsCode(err, types.ErrValidation))

	_, err = store.Append(ctx, AppendInput{DeliverableID: "d-1", Kind: "BOGUS"})
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestMemoryStore_CurrentMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Current(context.Background(), "no-such-deliverable")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestMemoryStore_PromoteRollsBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, AppendInput{
			DeliverableID: "d-1",
			Content:       fmt.Sprintf("v%d", i+1),
			Kind:          types.CreationAIResponse,
		})
		require.NoError(t, err)
	}

	promoted, err := store.Promote(ctx, "d-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted.VersionNumber)
	assert.True(t, promoted.IsCurrentVersion)

	current, err := store.Current(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, 1, current.VersionNumber)

	// Numbers stay gapless: the next append continues at 4.
	next, err := store.Append(ctx, AppendInput{
		DeliverableID: "d-1",
		Content:       "v4",
		Kind:          types.CreationManualEdit,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, next.VersionNumber)
}

func TestMemoryStore_PromoteMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Promote(context.Background(), "d-1", 9)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

// requireChainInvariants checks the two structural invariants of a
// version chain: gapless ascending numbers from 1, and exactly one
// current version (when the chain is non-empty).
func requireChainInvariants(t require.TestingT, versions []types.DeliverableVersion) {
	current := 0
	for i, v := range versions {
		require.Equal(t, i+1, v.VersionNumber, "versions must be gapless and 1-based")
		if v.IsCurrentVersion {
			current++
		}
	}
	if len(versions) > 0 {
		require.Equal(t, 1, current, "exactly one version must be current")
	}
}

func TestMemoryStore_PropertyChainInvariants(t *testing.T) {
	kinds := []types.CreationKind{
		types.CreationAIResponse,
		types.CreationAIEnhancement,
		types.CreationManualEdit,
		types.CreationUserRequest,
		types.CreationLLMRerun,
	}

	rapid.Check(t, func(rt *rapid.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		ops := rapid.IntRange(1, 40).Draw(rt, "ops")
		appended := 0

		for i := 0; i < ops; i++ {
			if appended == 0 || rapid.Float64Range(0, 1).Draw(rt, "op") < 0.7 {
				kind := kinds[rapid.IntRange(0, len(kinds)-1).Draw(rt, "kind")]
				_, err := store.Append(ctx, AppendInput{
					DeliverableID: "d-1",
					Content:       rapid.StringN(0, 64, 64).Draw(rt, "content"),
					Kind:          kind,
				})
				require.NoError(rt, err)
				appended++
			} else {
				target := rapid.IntRange(1, appended).Draw(rt, "target")
				_, err := store.Promote(ctx, "d-1", target)
				require.NoError(rt, err)
			}

			versions, err := store.List(ctx, "d-1")
			require.NoError(rt, err)
			require.Len(rt, versions, appended)
			requireChainInvariants(rt, versions)
		}
	})
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, AppendInput{
				DeliverableID: "d-1",
				Content:       fmt.Sprintf("concurrent %d", i),
				Kind:          types.CreationAIResponse,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	versions, err := store.List(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, versions, writers)
	requireChainInvariants(t, versions)
}
