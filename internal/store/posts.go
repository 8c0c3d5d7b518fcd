package store

import (
	"context"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================================
// POST WRITES
// ============================================================================

// CreatePost uploads the image and creates the post document referencing it.
// When the document cannot be created the uploaded image is deleted again.
func (s *Store) CreatePost(ctx context.Context, p domain.NewPost) (post domain.Post, err error) {
	const op = "createPost"
	ctx, span := s.startSpan(ctx, op, attribute.String("user.id", p.UserID))
	defer func() { endSpan(span, err) }()

	if err := s.validate(op, "Unable to create new post.", p); err != nil {
		return domain.Post{}, err
	}

	asset, err := s.uploadAsset(ctx, op, p.File)
	if err != nil {
		return domain.Post{}, appErrors.Wrap(err, op, "Unable to upload file.")
	}

	doc, err := s.documents.CreateDocument(ctx, backend.CollectionPosts, "", map[string]any{
		fieldCreator:  p.UserID,
		fieldCaption:  p.Caption,
		fieldImageID:  asset.ID,
		fieldImageURL: asset.URL,
		fieldLocation: p.Location,
		fieldTags:     domain.ParseTags(p.Tags),
		fieldLikes:    []string{},
	})
	if err != nil {
		s.discardAsset(op, asset.ID)
		return domain.Post{}, appErrors.Wrap(err, op, "Unable to create new post.")
	}

	s.logger.Info("post created", zap.String("postId", doc.ID), zap.String("userId", p.UserID))
	return s.withCreator(ctx, doc), nil
}

// UpdatePost updates caption, location and tags. A new file replaces the
// image through the same upload-then-write sequence as CreatePost; without
// one the post keeps its current image. The replaced image is deleted after
// the document write succeeds.
func (s *Store) UpdatePost(ctx context.Context, p domain.UpdatePost) (post domain.Post, err error) {
	const op = "updatePost"
	ctx, span := s.startSpan(ctx, op, attribute.String("post.id", p.PostID))
	defer func() { endSpan(span, err) }()

	if err := s.validate(op, "Unable to update post.", p); err != nil {
		return domain.Post{}, err
	}

	imageID, imageURL := p.ImageID, p.ImageURL
	hasNewFile := p.File != nil
	if hasNewFile {
		asset, err := s.uploadAsset(ctx, op, p.File)
		if err != nil {
			return domain.Post{}, appErrors.WrapWith(err, op, "Unable to upload file.", "postId", p.PostID)
		}
		imageID, imageURL = asset.ID, asset.URL
	}

	doc, err := s.documents.UpdateDocument(ctx, backend.CollectionPosts, p.PostID, map[string]any{
		fieldCaption:  p.Caption,
		fieldImageID:  imageID,
		fieldImageURL: imageURL,
		fieldLocation: p.Location,
		fieldTags:     domain.ParseTags(p.Tags),
	})
	if err != nil {
		if hasNewFile {
			s.discardAsset(op, imageID)
		}
		return domain.Post{}, appErrors.WrapWith(err, op, "Unable to update post.", "postId", p.PostID)
	}

	if hasNewFile && p.ImageID != "" && p.ImageID != imageID {
		s.discardAsset(op, p.ImageID)
	}
	return s.withCreator(ctx, doc), nil
}

// DeletePost removes the post's saved entries, the post and its image. When
// imageID is empty it is read from the stored post.
func (s *Store) DeletePost(ctx context.Context, postID, imageID string) (err error) {
	const op = "deletePost"
	ctx, span := s.startSpan(ctx, op, attribute.String("post.id", postID))
	defer func() { endSpan(span, err) }()

	if postID == "" {
		return appErrors.Validation("POST_ID_REQUIRED", "Unable to delete post.").WithOp(op).Build()
	}
	if imageID == "" {
		doc, err := s.documents.GetDocument(ctx, backend.CollectionPosts, postID)
		if err != nil {
			return appErrors.WrapWith(err, op, "Unable to delete post.", "postId", postID)
		}
		imageID = doc.String(fieldImageID)
	}

	saves, err := s.documents.ListDocuments(ctx, backend.CollectionSaves,
		backend.Query{}.Where(fieldPostID, postID))
	if err != nil {
		return appErrors.WrapWith(err, op, "Unable to delete post.", "postId", postID)
	}
	for _, save := range saves {
		if err := s.documents.DeleteDocument(ctx, backend.CollectionSaves, save.ID); err != nil && !appErrors.IsNotFound(err) {
			return appErrors.WrapWith(err, op, "Unable to delete post.", "postId", postID)
		}
	}

	if err := s.documents.DeleteDocument(ctx, backend.CollectionPosts, postID); err != nil {
		return appErrors.WrapWith(err, op, "Unable to delete post.", "postId", postID)
	}
	s.discardAsset(op, imageID)

	s.logger.Info("post deleted", zap.String("postId", postID), zap.Int("savesRemoved", len(saves)))
	return nil
}

// LikePost stores the post's new like list. Callers compute the list with
// domain.ToggleLike.
func (s *Store) LikePost(ctx context.Context, postID string, likes []string) (domain.Post, error) {
	const op = "likePost"
	if likes == nil {
		likes = []string{}
	}
	doc, err := s.documents.UpdateDocument(ctx, backend.CollectionPosts, postID, map[string]any{
		fieldLikes: likes,
	})
	if err != nil {
		return domain.Post{}, appErrors.WrapWith(err, op, "Unable to like post.", "postId", postID)
	}
	return s.withCreator(ctx, doc), nil
}

// ============================================================================
// POST READS
// ============================================================================

// GetPostByID loads one post with its creator.
func (s *Store) GetPostByID(ctx context.Context, postID string) (domain.Post, error) {
	const op = "getPostById"
	if postID == "" {
		return domain.Post{}, appErrors.Validation("POST_ID_REQUIRED", "Unable to get post.").WithOp(op).Build()
	}
	doc, err := s.documents.GetDocument(ctx, backend.CollectionPosts, postID)
	if err != nil {
		return domain.Post{}, appErrors.WrapWith(err, op, "Unable to get post.", "postId", postID)
	}
	posts, err := s.expandPosts(ctx, []backend.Document{doc})
	if err != nil {
		return domain.Post{}, appErrors.WrapWith(err, op, "Unable to get post.", "postId", postID)
	}
	return posts[0], nil
}

// GetRecentPosts returns the most recently updated posts.
func (s *Store) GetRecentPosts(ctx context.Context) ([]domain.Post, error) {
	return s.listPosts(ctx, "getRecentPosts", "Unable to get recent posts.",
		backend.Query{Limit: RecentPostsLimit})
}

// GetInfinitePosts returns one feed page. cursor is the id of the last post
// of the previous page, empty for the first page. An empty result means the
// feed is exhausted.
func (s *Store) GetInfinitePosts(ctx context.Context, cursor string) (posts []domain.Post, err error) {
	ctx, span := s.startSpan(ctx, "getInfinitePosts", attribute.String("cursor", cursor))
	defer func() { endSpan(span, err) }()

	return s.listPosts(ctx, "getInfinitePosts", "Unable to get posts.",
		backend.Query{Limit: FeedPageSize, CursorAfter: cursor})
}

// SearchPosts matches term against captions, case-insensitively.
func (s *Store) SearchPosts(ctx context.Context, term string) ([]domain.Post, error) {
	return s.listPosts(ctx, "searchPosts", "Unable to search posts.",
		backend.Query{Search: &backend.Search{Field: fieldCaption, Term: term}})
}

// GetUserPosts returns the posts created by userID, newest first.
func (s *Store) GetUserPosts(ctx context.Context, userID string) ([]domain.Post, error) {
	if userID == "" {
		return []domain.Post{}, nil
	}
	return s.listPosts(ctx, "getUserPosts", "Unable to get user posts.",
		backend.Query{OrderDesc: backend.FieldCreatedAt}.Where(fieldCreator, userID))
}

func (s *Store) listPosts(ctx context.Context, op, message string, q backend.Query) ([]domain.Post, error) {
	docs, err := s.documents.ListDocuments(ctx, backend.CollectionPosts, q)
	if err != nil {
		return nil, appErrors.Wrap(err, op, message)
	}
	posts, err := s.expandPosts(ctx, docs)
	if err != nil {
		return nil, appErrors.Wrap(err, op, message)
	}
	return posts, nil
}

// withCreator expands the creator of a freshly written post. A failed lookup
// does not fail the write; the post keeps the creator id only.
func (s *Store) withCreator(ctx context.Context, doc backend.Document) domain.Post {
	posts, err := s.expandPosts(ctx, []backend.Document{doc})
	if err != nil {
		s.logger.Warn("creator lookup failed", zap.String("postId", doc.ID), zap.Error(err))
		return postFromDocument(doc, domain.User{})
	}
	return posts[0]
}
