package store

import (
	"context"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"go.opentelemetry.io/otel/attribute"
)

// GetUsers returns the newest users. limit <= 0 uses DefaultUsersLimit.
func (s *Store) GetUsers(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = DefaultUsersLimit
	}
	docs, err := s.documents.ListDocuments(ctx, backend.CollectionUsers,
		backend.Query{OrderDesc: backend.FieldCreatedAt, Limit: limit})
	if err != nil {
		return nil, appErrors.Wrap(err, "getUsers", "Unable to get users.")
	}
	users := make([]domain.User, len(docs))
	for i, doc := range docs {
		users[i] = userFromDocument(doc)
	}
	return users, nil
}

// GetUserByID loads one user profile.
func (s *Store) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := s.documents.GetDocument(ctx, backend.CollectionUsers, userID)
	if err != nil {
		return domain.User{}, appErrors.WrapWith(err, "getUserById", "Unable to get user.", "userId", userID)
	}
	return userFromDocument(doc), nil
}

// UpdateUser updates name and bio, replacing the avatar when a file is
// supplied. The replaced avatar is deleted after the write succeeds.
func (s *Store) UpdateUser(ctx context.Context, u domain.UpdateUser) (user domain.User, err error) {
	const op = "updateUser"
	ctx, span := s.startSpan(ctx, op, attribute.String("user.id", u.UserID))
	defer func() { endSpan(span, err) }()

	if err := s.validate(op, "Unable to update profile.", u); err != nil {
		return domain.User{}, err
	}

	imageID, imageURL := u.ImageID, u.ImageURL
	hasNewFile := u.File != nil
	if hasNewFile {
		asset, err := s.uploadAsset(ctx, op, u.File)
		if err != nil {
			return domain.User{}, appErrors.WrapWith(err, op, "Unable to upload file.", "userId", u.UserID)
		}
		imageID, imageURL = asset.ID, asset.URL
	}

	doc, err := s.documents.UpdateDocument(ctx, backend.CollectionUsers, u.UserID, map[string]any{
		fieldName:     u.Name,
		fieldBio:      u.Bio,
		fieldImageID:  imageID,
		fieldImageURL: imageURL,
	})
	if err != nil {
		if hasNewFile {
			s.discardAsset(op, imageID)
		}
		return domain.User{}, appErrors.WrapWith(err, op, "Unable to update profile.", "userId", u.UserID)
	}

	if hasNewFile && u.ImageID != "" && u.ImageID != imageID {
		s.discardAsset(op, u.ImageID)
	}
	return userFromDocument(doc), nil
}
