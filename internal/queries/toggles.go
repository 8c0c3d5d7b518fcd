package queries

import (
	"context"

	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"
	"snapgram/internal/query"
	"snapgram/internal/store"

	"go.uber.org/zap"
)

// ============================================================================
// TOGGLES
// ============================================================================

// ToggleLike adds or removes userID from the post's likes. The cached post,
// feeds and current user show the new state while the write is pending and
// are restored if it fails.
func (q *Queries) ToggleLike(ctx context.Context, userID, postID string) (domain.Post, error) {
	if userID == "" {
		return domain.Post{}, appErrors.Unauthorized("NO_SESSION", "Unable to like post.").WithOp("likePost").Build()
	}
	post, err := q.PostByID(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	return q.LikePost(ctx, LikeVars{
		PostID: postID,
		Likes:  domain.ToggleLike(post.Likes, userID),
		UserID: userID,
	})
}

// ToggleSave saves the post for the current user, or removes the saved entry
// when the current user projection already has one. It returns whether the
// post is saved afterwards.
func (q *Queries) ToggleSave(ctx context.Context, postID string) (bool, error) {
	user, err := q.CurrentUser(ctx)
	if err != nil {
		return false, err
	}
	if entry, ok := user.SavedEntryFor(postID); ok {
		if err := q.DeleteSavedPost(ctx, entry.ID, postID); err != nil {
			return true, err
		}
		return false, nil
	}
	if _, err := q.SavePost(ctx, user.ID, postID); err != nil {
		return false, err
	}
	return true, nil
}

// ============================================================================
// OPTIMISTIC UPDATES
// ============================================================================

func (q *Queries) optimisticLike(v LikeVars) query.Rollback {
	snap := q.client.Snapshot(PostByIDKey(v.PostID), RecentPostsKey(), InfinitePostsKey(), CurrentUserKey())

	q.client.UpdateQueryData(PostByIDKey(v.PostID), func(old any) (any, bool) {
		post, ok := old.(domain.Post)
		if !ok {
			return nil, false
		}
		post.Likes = append([]string(nil), v.Likes...)
		return post, true
	})
	q.client.UpdateQueryData(RecentPostsKey(), func(old any) (any, bool) {
		posts, ok := old.([]domain.Post)
		if !ok {
			return nil, false
		}
		return withLikes(posts, v.PostID, v.Likes)
	})
	q.client.UpdateQueryData(InfinitePostsKey(), func(old any) (any, bool) {
		pages, ok := old.(query.Pages[domain.Post])
		if !ok {
			return nil, false
		}
		changed := false
		next := pages
		next.Pages = make([][]domain.Post, len(pages.Pages))
		for i, page := range pages.Pages {
			if updated, ok := withLikes(page, v.PostID, v.Likes); ok {
				next.Pages[i] = updated
				changed = true
				continue
			}
			next.Pages[i] = page
		}
		return next, changed
	})
	if v.UserID != "" {
		liked := domain.IsLiked(v.Likes, v.UserID)
		q.client.UpdateQueryData(CurrentUserKey(), func(old any) (any, bool) {
			user, ok := old.(domain.CurrentUser)
			if !ok {
				return nil, false
			}
			user.Liked = setMember(user.Liked, v.PostID, liked)
			return user, true
		})
	}

	q.logger.Debug("optimistic like applied", zap.String("postId", v.PostID), zap.Int("likes", len(v.Likes)))
	return snap.Restore
}

func (q *Queries) optimisticSave(v SaveVars) query.Rollback {
	snap := q.client.Snapshot(CurrentUserKey())
	q.client.UpdateQueryData(CurrentUserKey(), func(old any) (any, bool) {
		user, ok := old.(domain.CurrentUser)
		if !ok || user.ID != v.UserID {
			return nil, false
		}
		if _, saved := user.SavedEntryFor(v.PostID); saved {
			return nil, false
		}
		entry := domain.SavedPostEntry{ID: store.SavedEntryID(v.UserID, v.PostID), UserID: v.UserID, PostID: v.PostID}
		user.Saves = append(append([]domain.SavedPostEntry(nil), user.Saves...), entry)
		return user, true
	})
	return snap.Restore
}

func (q *Queries) optimisticUnsave(v UnsaveVars) query.Rollback {
	snap := q.client.Snapshot(CurrentUserKey())
	q.client.UpdateQueryData(CurrentUserKey(), func(old any) (any, bool) {
		user, ok := old.(domain.CurrentUser)
		if !ok {
			return nil, false
		}
		saves := make([]domain.SavedPostEntry, 0, len(user.Saves))
		for _, s := range user.Saves {
			if s.ID != v.SavedID {
				saves = append(saves, s)
			}
		}
		if len(saves) == len(user.Saves) {
			return nil, false
		}
		user.Saves = saves
		return user, true
	})
	return snap.Restore
}

// withLikes returns a copy of posts with postID's likes replaced, and false
// when postID is not among them.
func withLikes(posts []domain.Post, postID string, likes []string) ([]domain.Post, bool) {
	for i, p := range posts {
		if p.ID != postID {
			continue
		}
		out := append([]domain.Post(nil), posts...)
		out[i].Likes = append([]string(nil), likes...)
		return out, true
	}
	return nil, false
}

func setMember(ids []string, id string, member bool) []string {
	out := make([]string, 0, len(ids)+1)
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	if member {
		out = append(out, id)
	}
	return out
}
