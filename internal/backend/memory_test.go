package backend

import (
	"context"
	"strings"
	"testing"

	appErrors "snapgram/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestMemory() *MemoryBackend {
	return NewMemoryBackend("http://assets.local/").WithBcryptCost(bcrypt.MinCost)
}

func TestMemoryAccounts(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	acc, err := m.CreateAccount(ctx, "Ann@example.com", "password1", "Ann")
	require.NoError(t, err)

	_, err = m.CreateAccount(ctx, "ann@example.com", "password2", "Ann")
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))

	_, err = m.CreateSession(ctx, "ann@example.com", "wrong-password")
	assert.True(t, appErrors.IsUnauthorized(err))

	session, err := m.CreateSession(ctx, "ann@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, session.AccountID)
	assert.NotEmpty(t, session.Token)

	current, err := m.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, current.ID)

	require.NoError(t, m.DeleteSession(ctx))
	_, err = m.GetAccount(ctx)
	assert.True(t, appErrors.IsUnauthorized(err))

	// A stale token stays rejected after resuming it.
	require.NoError(t, m.ResumeSession(ctx, session.Token))
	_, err = m.GetAccount(ctx)
	assert.True(t, appErrors.IsUnauthorized(err))
}

func TestMemoryListOrderingAndCursor(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	var ids []string
	for i := 0; i < 5; i++ {
		doc, err := m.CreateDocument(ctx, CollectionPosts, "", map[string]any{"caption": "post"})
		require.NoError(t, err)
		ids = append(ids, doc.ID)
	}
	// Touching the oldest moves it to the front.
	_, err := m.UpdateDocument(ctx, CollectionPosts, ids[0], map[string]any{"caption": "edited"})
	require.NoError(t, err)

	first, err := m.ListDocuments(ctx, CollectionPosts, Query{Limit: 3})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, []string{ids[0], ids[4], ids[3]}, docIDs(first))

	second, err := m.ListDocuments(ctx, CollectionPosts, Query{Limit: 3, CursorAfter: first[2].ID})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[1]}, docIDs(second))

	third, err := m.ListDocuments(ctx, CollectionPosts, Query{Limit: 3, CursorAfter: second[1].ID})
	require.NoError(t, err)
	assert.Empty(t, third)

	_, err = m.ListDocuments(ctx, CollectionPosts, Query{CursorAfter: "missing"})
	assert.True(t, appErrors.IsNotFound(err))
}

func TestMemoryFilters(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	a, _ := m.CreateDocument(ctx, CollectionPosts, "a", map[string]any{"creator": "u1", "caption": "Sunset at the Beach"})
	b, _ := m.CreateDocument(ctx, CollectionPosts, "b", map[string]any{"creator": "u2", "caption": "beach volleyball"})
	_, _ = m.CreateDocument(ctx, CollectionPosts, "c", map[string]any{"creator": "u1", "caption": "mountains"})

	byCreator, err := m.ListDocuments(ctx, CollectionPosts, Query{}.Where("creator", "u1"))
	require.NoError(t, err)
	assert.Len(t, byCreator, 2)

	search, err := m.ListDocuments(ctx, CollectionPosts, Query{Search: &Search{Field: "caption", Term: "BEACH"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, docIDs(search))

	in, err := m.ListDocuments(ctx, CollectionPosts, Query{In: &InFilter{Field: FieldID, Values: []string{"a", "c"}}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c"}, docIDs(in))
}

func TestMemoryDocumentIsolation(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	tags := []string{"art"}
	_, err := m.CreateDocument(ctx, CollectionPosts, "p", map[string]any{"tags": tags})
	require.NoError(t, err)
	tags[0] = "changed"

	doc, err := m.GetDocument(ctx, CollectionPosts, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"art"}, doc.Strings("tags"))

	_, err = m.CreateDocument(ctx, CollectionPosts, "p", nil)
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))

	require.NoError(t, m.DeleteDocument(ctx, CollectionPosts, "p"))
	assert.True(t, appErrors.IsNotFound(m.DeleteDocument(ctx, CollectionPosts, "p")))
}

func TestMemoryAssets(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()

	require.NoError(t, m.UploadAsset(ctx, "f1", "image/png", strings.NewReader("data")))
	url, err := m.AssetPreviewURL(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "http://assets.local/f1/preview", url)

	require.NoError(t, m.DeleteAsset(ctx, "f1"))
	assert.False(t, m.HasAsset("f1"))
	assert.Equal(t, 0, m.AssetCount())

	_, err = m.AssetPreviewURL(ctx, "f1")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestMemory().ListDocuments(ctx, CollectionPosts, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func docIDs(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
