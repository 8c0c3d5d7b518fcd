package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type likeVars struct {
	PostID string
	Likes  []string
}

func newLikeMutation(c *Client, fn func(ctx context.Context, v likeVars) ([]string, error)) *Mutation[likeVars, []string] {
	return NewMutation(c, "likePost", fn).
		WithOptimistic(func(v likeVars) Rollback {
			key := K("getPostById", v.PostID)
			snap := c.Snapshot(key)
			c.UpdateQueryData(key, func(any) (any, bool) { return v.Likes, true })
			return snap.Restore
		}).
		WithInvalidates(func(v likeVars, _ []string) []Key {
			return []Key{K("getPostById", v.PostID), K("getRecentPosts")}
		})
}

func TestMutationRollsBackOptimisticChangeOnFailure(t *testing.T) {
	c, reg := newTestClient(t)
	c.SetQueryData(K("getPostById", "p1"), []string{})

	var seenDuringCall any
	calls := 0
	m := newLikeMutation(c, func(ctx context.Context, v likeVars) ([]string, error) {
		calls++
		seenDuringCall, _ = c.GetQueryData(K("getPostById", "p1"))
		return nil, errors.New("permission denied")
	})

	_, err := m.Mutate(context.Background(), likeVars{PostID: "p1", Likes: []string{"u1"}})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"u1"}, seenDuringCall, "optimistic value visible while pending")

	v, ok := c.GetQueryData(K("getPostById", "p1"))
	require.True(t, ok)
	assert.Equal(t, []string{}, v)
	assert.False(t, c.State(K("getPostById", "p1")).Stale)
	assert.Equal(t, 1.0, counterValue(t, reg, "test_query_cache_mutations_total"))
}

func TestMutationInvalidatesAffectedKeysOnSuccess(t *testing.T) {
	c, _ := newTestClient(t)
	c.SetQueryData(K("getPostById", "p1"), []string{})
	c.SetQueryData(K("getRecentPosts"), []string{"p1"})
	c.SetQueryData(K("getUsers"), []string{"u1"})

	m := newLikeMutation(c, func(ctx context.Context, v likeVars) ([]string, error) {
		return v.Likes, nil
	})

	got, err := m.Mutate(context.Background(), likeVars{PostID: "p1", Likes: []string{"u1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, got)

	assert.True(t, c.State(K("getPostById", "p1")).Stale)
	assert.True(t, c.State(K("getRecentPosts")).Stale)
	assert.False(t, c.State(K("getUsers")).Stale)
}

func TestMutationIsPending(t *testing.T) {
	c, _ := newTestClient(t)
	release := make(chan struct{})
	m := NewMutation(c, "savePost", func(ctx context.Context, postID string) (string, error) {
		<-release
		return "saved-" + postID, nil
	})
	assert.False(t, m.IsPending())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Mutate(context.Background(), "p1")
		assert.NoError(t, err)
	}()

	require.Eventually(t, m.IsPending, time.Second, time.Millisecond)
	close(release)
	<-done
	assert.False(t, m.IsPending())
	assert.Equal(t, "savePost", m.Name())
}
