// Package queries binds the remote store operations to the query cache: the
// application's named queries, its mutations with the keys each one
// invalidates, and the optimistic like and save toggles.
package queries

import (
	"context"

	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"
	"snapgram/internal/query"

	"go.uber.org/zap"
)

// Store is the part of the remote store adapter the queries use.
type Store interface {
	GetCurrentUser(ctx context.Context) (domain.CurrentUser, error)
	GetUsers(ctx context.Context, limit int) ([]domain.User, error)
	GetUserByID(ctx context.Context, userID string) (domain.User, error)
	GetUserPosts(ctx context.Context, userID string) ([]domain.Post, error)
	GetPostByID(ctx context.Context, postID string) (domain.Post, error)
	GetRecentPosts(ctx context.Context) ([]domain.Post, error)
	GetInfinitePosts(ctx context.Context, cursor string) ([]domain.Post, error)
	SearchPosts(ctx context.Context, term string) ([]domain.Post, error)
	GetCurrentUserSavedPosts(ctx context.Context, userID string) ([]domain.SavedPostEntry, error)

	CreatePost(ctx context.Context, p domain.NewPost) (domain.Post, error)
	UpdatePost(ctx context.Context, p domain.UpdatePost) (domain.Post, error)
	DeletePost(ctx context.Context, postID, imageID string) error
	LikePost(ctx context.Context, postID string, likes []string) (domain.Post, error)
	SavePost(ctx context.Context, userID, postID string) (domain.SavedPostEntry, error)
	DeleteSavedPost(ctx context.Context, savedID string) error
	UpdateUser(ctx context.Context, u domain.UpdateUser) (domain.User, error)
}

// LikeVars is the input of the like mutation.
type LikeVars struct {
	PostID string
	Likes  []string
	// UserID is the user whose like was toggled, used to keep the cached
	// current user's liked list in step.
	UserID string
}

// SaveVars is the input of the save mutation.
type SaveVars struct {
	UserID string
	PostID string
}

// UnsaveVars is the input of the unsave mutation.
type UnsaveVars struct {
	SavedID string
	PostID  string
}

// DeletePostVars is the input of the delete-post mutation.
type DeletePostVars struct {
	PostID  string
	ImageID string
}

// Queries is the cache-backed data API used by the views.
type Queries struct {
	client *query.Client
	store  Store
	logger *zap.Logger

	feed *query.Infinite[domain.Post]

	createPost  *query.Mutation[domain.NewPost, domain.Post]
	updatePost  *query.Mutation[domain.UpdatePost, domain.Post]
	deletePost  *query.Mutation[DeletePostVars, struct{}]
	likePost    *query.Mutation[LikeVars, domain.Post]
	savePost    *query.Mutation[SaveVars, domain.SavedPostEntry]
	deleteSaved *query.Mutation[UnsaveVars, struct{}]
	updateUser  *query.Mutation[domain.UpdateUser, domain.User]
}

// New binds s to client.
func New(client *query.Client, s Store, logger *zap.Logger) *Queries {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queries{client: client, store: s, logger: logger.Named("queries")}

	q.feed = query.NewInfinite(client, InfinitePostsKey(), s.GetInfinitePosts,
		query.LastID(func(p domain.Post) string { return p.ID }))

	q.createPost = query.NewMutation(client, "createPost", s.CreatePost).
		WithInvalidates(func(p domain.NewPost, _ domain.Post) []query.Key {
			return createPostInvalidates(p.UserID)
		})

	q.updatePost = query.NewMutation(client, "updatePost", s.UpdatePost).
		WithInvalidates(func(p domain.UpdatePost, _ domain.Post) []query.Key {
			return updatePostInvalidates(p.PostID)
		})

	q.deletePost = query.NewMutation(client, "deletePost",
		func(ctx context.Context, v DeletePostVars) (struct{}, error) {
			return struct{}{}, s.DeletePost(ctx, v.PostID, v.ImageID)
		}).
		WithInvalidates(func(v DeletePostVars, _ struct{}) []query.Key {
			return deletePostInvalidates(v.PostID)
		})

	q.likePost = query.NewMutation(client, "likePost",
		func(ctx context.Context, v LikeVars) (domain.Post, error) {
			return s.LikePost(ctx, v.PostID, v.Likes)
		}).
		WithOptimistic(q.optimisticLike).
		WithInvalidates(func(v LikeVars, _ domain.Post) []query.Key {
			return likePostInvalidates(v.PostID)
		})

	q.savePost = query.NewMutation(client, "savePost",
		func(ctx context.Context, v SaveVars) (domain.SavedPostEntry, error) {
			return s.SavePost(ctx, v.UserID, v.PostID)
		}).
		WithOptimistic(q.optimisticSave).
		WithInvalidates(func(SaveVars, domain.SavedPostEntry) []query.Key {
			return savePostInvalidates()
		})

	q.deleteSaved = query.NewMutation(client, "deleteSavedPost",
		func(ctx context.Context, v UnsaveVars) (struct{}, error) {
			return struct{}{}, s.DeleteSavedPost(ctx, v.SavedID)
		}).
		WithOptimistic(q.optimisticUnsave).
		WithInvalidates(func(UnsaveVars, struct{}) []query.Key {
			return savePostInvalidates()
		})

	q.updateUser = query.NewMutation(client, "updateUser", s.UpdateUser).
		WithInvalidates(func(u domain.UpdateUser, _ domain.User) []query.Key {
			return updateUserInvalidates(u.UserID)
		})

	return q
}

// Client returns the underlying cache.
func (q *Queries) Client() *query.Client {
	return q.client
}

// ============================================================================
// QUERIES
// ============================================================================

func (q *Queries) CurrentUser(ctx context.Context) (domain.CurrentUser, error) {
	return query.Query(ctx, q.client, CurrentUserKey(), q.store.GetCurrentUser)
}

func (q *Queries) Users(ctx context.Context, limit int) ([]domain.User, error) {
	return query.Query(ctx, q.client, UsersKey(limit), func(ctx context.Context) ([]domain.User, error) {
		return q.store.GetUsers(ctx, limit)
	})
}

func (q *Queries) UserByID(ctx context.Context, userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, appErrors.Validation("USER_ID_REQUIRED", "Unable to get user.").Build()
	}
	return query.Query(ctx, q.client, UserByIDKey(userID), func(ctx context.Context) (domain.User, error) {
		return q.store.GetUserByID(ctx, userID)
	})
}

func (q *Queries) UserPosts(ctx context.Context, userID string) ([]domain.Post, error) {
	return query.Query(ctx, q.client, UserPostsKey(userID), func(ctx context.Context) ([]domain.Post, error) {
		return q.store.GetUserPosts(ctx, userID)
	})
}

func (q *Queries) PostByID(ctx context.Context, postID string) (domain.Post, error) {
	if postID == "" {
		return domain.Post{}, appErrors.Validation("POST_ID_REQUIRED", "Unable to get post.").Build()
	}
	return query.Query(ctx, q.client, PostByIDKey(postID), func(ctx context.Context) (domain.Post, error) {
		return q.store.GetPostByID(ctx, postID)
	})
}

func (q *Queries) RecentPosts(ctx context.Context) ([]domain.Post, error) {
	return query.Query(ctx, q.client, RecentPostsKey(), q.store.GetRecentPosts)
}

// SearchPosts runs a caption search. An empty term matches nothing and
// issues no remote call.
func (q *Queries) SearchPosts(ctx context.Context, term string) ([]domain.Post, error) {
	if term == "" {
		return []domain.Post{}, nil
	}
	return query.Query(ctx, q.client, SearchPostsKey(term), func(ctx context.Context) ([]domain.Post, error) {
		return q.store.SearchPosts(ctx, term)
	})
}

func (q *Queries) SavedPosts(ctx context.Context, userID string) ([]domain.SavedPostEntry, error) {
	return query.Query(ctx, q.client, SavedPostsKey(userID), func(ctx context.Context) ([]domain.SavedPostEntry, error) {
		return q.store.GetCurrentUserSavedPosts(ctx, userID)
	})
}

// Feed returns the paginated post feed.
func (q *Queries) Feed() *query.Infinite[domain.Post] {
	return q.feed
}

// ============================================================================
// MUTATIONS
// ============================================================================

func (q *Queries) CreatePost(ctx context.Context, p domain.NewPost) (domain.Post, error) {
	return q.createPost.Mutate(ctx, p)
}

func (q *Queries) UpdatePost(ctx context.Context, p domain.UpdatePost) (domain.Post, error) {
	return q.updatePost.Mutate(ctx, p)
}

func (q *Queries) DeletePost(ctx context.Context, postID, imageID string) error {
	_, err := q.deletePost.Mutate(ctx, DeletePostVars{PostID: postID, ImageID: imageID})
	return err
}

// LikePost stores likes as the post's like list.
func (q *Queries) LikePost(ctx context.Context, v LikeVars) (domain.Post, error) {
	return q.likePost.Mutate(ctx, v)
}

func (q *Queries) SavePost(ctx context.Context, userID, postID string) (domain.SavedPostEntry, error) {
	return q.savePost.Mutate(ctx, SaveVars{UserID: userID, PostID: postID})
}

// DeleteSavedPost removes a saved entry. Removing an absent entry succeeds.
func (q *Queries) DeleteSavedPost(ctx context.Context, savedID, postID string) error {
	_, err := q.deleteSaved.Mutate(ctx, UnsaveVars{SavedID: savedID, PostID: postID})
	return err
}

func (q *Queries) UpdateUser(ctx context.Context, u domain.UpdateUser) (domain.User, error) {
	return q.updateUser.Mutate(ctx, u)
}

// IsLikePending reports whether a like mutation is in flight.
func (q *Queries) IsLikePending() bool {
	return q.likePost.IsPending()
}

// IsSavePending reports whether a save or unsave mutation is in flight.
func (q *Queries) IsSavePending() bool {
	return q.savePost.IsPending() || q.deleteSaved.IsPending()
}
