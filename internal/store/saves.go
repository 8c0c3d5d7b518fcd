package store

import (
	"context"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"github.com/google/uuid"
)

// savesNamespace derives saved entry ids so that a (user, post) pair maps to
// exactly one document id.
var savesNamespace = uuid.MustParse("8f4c1a52-6f0b-4c55-9d0c-5b3f0a7c9e21")

// SavedEntryID returns the document id of the (userID, postID) saved entry.
func SavedEntryID(userID, postID string) string {
	return uuid.NewSHA1(savesNamespace, []byte(userID+"\x00"+postID)).String()
}

// SavePost marks postID as saved by userID. Saving an already saved post
// returns the existing entry; saving a post that does not exist fails with
// a NotFound error and stores nothing.
func (s *Store) SavePost(ctx context.Context, userID, postID string) (domain.SavedPostEntry, error) {
	const op = "savePost"
	if userID == "" || postID == "" {
		return domain.SavedPostEntry{}, appErrors.Validation("SAVE_INVALID", "Unable to save post.").WithOp(op).Build()
	}

	// Drivers have no foreign keys, so the post reference is checked here.
	if _, err := s.documents.GetDocument(ctx, backend.CollectionPosts, postID); err != nil {
		if appErrors.IsNotFound(err) {
			return domain.SavedPostEntry{}, appErrors.NotFound("POST_NOT_FOUND", "Unable to save post.").
				WithOp(op).WithCause(err).WithContext("postId", postID).Build()
		}
		return domain.SavedPostEntry{}, appErrors.WrapWith(err, op, "Unable to save post.", "postId", postID)
	}

	id := SavedEntryID(userID, postID)
	doc, err := s.documents.CreateDocument(ctx, backend.CollectionSaves, id, map[string]any{
		fieldUserID: userID,
		fieldPostID: postID,
	})
	if appErrors.KindOf(err) == appErrors.KindConflict {
		doc, err = s.documents.GetDocument(ctx, backend.CollectionSaves, id)
	}
	if err != nil {
		return domain.SavedPostEntry{}, appErrors.WrapWith(err, op, "Unable to save post.", "postId", postID)
	}
	return savedFromDocument(doc), nil
}

// DeleteSavedPost removes a saved entry. Removing an entry that no longer
// exists succeeds.
func (s *Store) DeleteSavedPost(ctx context.Context, savedID string) error {
	if savedID == "" {
		return nil
	}
	err := s.documents.DeleteDocument(ctx, backend.CollectionSaves, savedID)
	if err != nil && !appErrors.IsNotFound(err) {
		return appErrors.WrapWith(err, "deleteSavedPost", "Unable to unsave post.", "savedId", savedID)
	}
	return nil
}

// GetCurrentUserSavedPosts returns userID's saved entries, newest first, with
// posts and creators expanded. Entries whose post is gone are skipped.
func (s *Store) GetCurrentUserSavedPosts(ctx context.Context, userID string) ([]domain.SavedPostEntry, error) {
	entries, err := s.savedEntries(ctx, userID)
	if err != nil {
		return nil, appErrors.WrapWith(err, "getCurrentUserSavedPosts", "Unable to get saved posts.", "userId", userID)
	}
	return entries, nil
}

func (s *Store) savedEntries(ctx context.Context, userID string) ([]domain.SavedPostEntry, error) {
	docs, err := s.documents.ListDocuments(ctx, backend.CollectionSaves,
		backend.Query{OrderDesc: backend.FieldCreatedAt}.Where(fieldUserID, userID))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []domain.SavedPostEntry{}, nil
	}

	postDocs, err := s.documents.ListDocuments(ctx, backend.CollectionPosts, backend.Query{
		In: &backend.InFilter{Field: backend.FieldID, Values: collectIDs(docs, fieldPostID)},
	})
	if err != nil {
		return nil, err
	}
	posts, err := s.expandPosts(ctx, postDocs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	entries := make([]domain.SavedPostEntry, 0, len(docs))
	for _, doc := range docs {
		entry := savedFromDocument(doc)
		post, ok := byID[entry.PostID]
		if !ok {
			continue
		}
		entry.Post = &post
		entries = append(entries, entry)
	}
	return entries, nil
}
