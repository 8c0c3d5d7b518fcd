package store

import (
	"context"
	"testing"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memoryFixture struct {
	store   *Store
	backend *backend.MemoryBackend
	user    domain.User
}

func newMemoryFixture(t *testing.T) *memoryFixture {
	t.Helper()
	ctx := context.Background()
	mem := backend.NewMemoryBackend("http://assets.test").WithBcryptCost(bcrypt.MinCost)
	s := New(mem.Backend(), nil, Config{AvatarBaseURL: "https://avatars.test/initials"}, zap.NewNop())

	user, err := s.CreateUserAccount(ctx, domain.NewUser{
		Name:     "Ann Lee",
		Username: "annlee",
		Email:    "ann@example.com",
		Password: "password1",
	})
	require.NoError(t, err)
	_, err = s.SignInAccount(ctx, domain.Credentials{Email: "ann@example.com", Password: "password1"})
	require.NoError(t, err)

	return &memoryFixture{store: s, backend: mem, user: user}
}

func (f *memoryFixture) createPost(t *testing.T, caption string) domain.Post {
	t.Helper()
	post, err := f.store.CreatePost(context.Background(), domain.NewPost{
		UserID:   f.user.ID,
		Caption:  caption,
		Location: "Lisbon",
		Tags:     "Art, Learn",
		File:     testImage(t),
	})
	require.NoError(t, err)
	return post
}

func TestSignInThenIdentityMatchesCreatedAccount(t *testing.T) {
	f := newMemoryFixture(t)

	current, err := f.store.GetCurrentUser(context.Background())
	require.NoError(t, err)

	assert.Equal(t, f.user.ID, current.ID)
	assert.Equal(t, f.user.AccountID, current.AccountID)
	assert.Equal(t, "https://avatars.test/initials?name=Ann+Lee", current.ImageURL)
	assert.Empty(t, current.Saves)
}

func TestCreatePostStoresParsedTags(t *testing.T) {
	f := newMemoryFixture(t)

	created := f.createPost(t, "Morning light")
	post, err := f.store.GetPostByID(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"Art", "Learn"}, post.Tags)
	assert.Equal(t, f.user.ID, post.Creator.ID)
	assert.Equal(t, "annlee", post.Creator.Username)
	assert.True(t, f.backend.HasAsset(post.ImageID))
	assert.Equal(t, 0, post.LikeCount())
}

func TestLikeTwiceRestoresLikes(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	post := f.createPost(t, "Morning light")

	liked, err := f.store.LikePost(ctx, post.ID, domain.ToggleLike(post.Likes, "u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, liked.Likes)

	unliked, err := f.store.LikePost(ctx, post.ID, domain.ToggleLike(liked.Likes, "u1"))
	require.NoError(t, err)
	assert.Empty(t, unliked.Likes)
}

func TestCurrentUserListsLikedPosts(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	post := f.createPost(t, "Morning light")

	_, err := f.store.LikePost(ctx, post.ID, []string{f.user.ID})
	require.NoError(t, err)

	current, err := f.store.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{post.ID}, current.Liked)
}

func TestSaveUnsaveLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	post := f.createPost(t, "Morning light")

	entry, err := f.store.SavePost(ctx, f.user.ID, post.ID)
	require.NoError(t, err)
	again, err := f.store.SavePost(ctx, f.user.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)

	saved, err := f.store.GetCurrentUserSavedPosts(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, post.ID, saved[0].Post.ID)

	require.NoError(t, f.store.DeleteSavedPost(ctx, entry.ID))
	saved, err = f.store.GetCurrentUserSavedPosts(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, saved)

	assert.NoError(t, f.store.DeleteSavedPost(ctx, entry.ID))
}

func TestSavePostRequiresExistingPost(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)

	_, err := f.store.SavePost(ctx, f.user.ID, "no-such-post")
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))

	docs, err := f.backend.ListDocuments(ctx, backend.CollectionSaves, backend.Query{}.Where(fieldUserID, f.user.ID))
	require.NoError(t, err)
	assert.Empty(t, docs, "no saved entry may reference a missing post")

	_, err = f.backend.GetDocument(ctx, backend.CollectionSaves, SavedEntryID(f.user.ID, "no-such-post"))
	assert.True(t, appErrors.IsNotFound(err))
}

func TestInfinitePostsPaginateWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	for i := 0; i < 20; i++ {
		f.createPost(t, "Post number")
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := f.store.GetInfinitePosts(ctx, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		assert.LessOrEqual(t, len(page), FeedPageSize)
		for _, p := range page {
			assert.False(t, seen[p.ID], "duplicate post %s", p.ID)
			seen[p.ID] = true
		}
		cursor = page[len(page)-1].ID
	}

	assert.Len(t, seen, 20)
	assert.Equal(t, 3, pages)
}

func TestDeletePostRemovesSavesAndAsset(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	post := f.createPost(t, "Morning light")
	_, err := f.store.SavePost(ctx, f.user.ID, post.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.DeletePost(ctx, post.ID, ""))

	_, err = f.store.GetPostByID(ctx, post.ID)
	assert.True(t, appErrors.IsNotFound(err))
	assert.False(t, f.backend.HasAsset(post.ImageID))

	current, err := f.store.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Empty(t, current.Saves)
}

func TestSearchAndUserPosts(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)
	f.createPost(t, "Sunset at the beach")
	f.createPost(t, "Mountain trail")

	found, err := f.store.SearchPosts(ctx, "BEACH")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Sunset at the beach", found[0].Caption)

	mine, err := f.store.GetUserPosts(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestUpdateUserReplacesAvatar(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)

	first, err := f.store.UpdateUser(ctx, domain.UpdateUser{UserID: f.user.ID, Name: "Ann", Bio: "hi", File: testImage(t)})
	require.NoError(t, err)
	require.True(t, f.backend.HasAsset(first.ImageID))

	second, err := f.store.UpdateUser(ctx, domain.UpdateUser{
		UserID: f.user.ID, Name: "Ann", ImageID: first.ImageID, ImageURL: first.ImageURL, File: testImage(t),
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.ImageID, second.ImageID)
	assert.False(t, f.backend.HasAsset(first.ImageID))
	assert.Equal(t, 1, f.backend.AssetCount())

	users, err := f.store.GetUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Ann", users[0].Name)
}

func TestSignOutEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t)

	require.NoError(t, f.store.SignOutAccount(ctx))
	_, err := f.store.GetCurrentUser(ctx)
	assert.True(t, appErrors.IsUnauthorized(err))
}
