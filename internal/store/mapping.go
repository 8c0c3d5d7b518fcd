package store

import (
	"context"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
)

func userFromDocument(doc backend.Document) domain.User {
	return domain.User{
		ID:        doc.ID,
		AccountID: doc.String(fieldAccountID),
		Name:      doc.String(fieldName),
		Username:  doc.String(fieldUsername),
		Email:     doc.String(fieldEmail),
		ImageID:   doc.String(fieldImageID),
		ImageURL:  doc.String(fieldImageURL),
		Bio:       doc.String(fieldBio),
		CreatedAt: doc.CreatedAt,
	}
}

func postFromDocument(doc backend.Document, creator domain.User) domain.Post {
	if creator.ID == "" {
		creator.ID = doc.String(fieldCreator)
	}
	return domain.Post{
		ID:        doc.ID,
		Creator:   creator,
		Caption:   doc.String(fieldCaption),
		ImageID:   doc.String(fieldImageID),
		ImageURL:  doc.String(fieldImageURL),
		Location:  doc.String(fieldLocation),
		Tags:      doc.Strings(fieldTags),
		Likes:     doc.Strings(fieldLikes),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func savedFromDocument(doc backend.Document) domain.SavedPostEntry {
	return domain.SavedPostEntry{
		ID:        doc.ID,
		UserID:    doc.String(fieldUserID),
		PostID:    doc.String(fieldPostID),
		CreatedAt: doc.CreatedAt,
	}
}

// expandPosts resolves the creator of every post document with one batched
// users query.
func (s *Store) expandPosts(ctx context.Context, docs []backend.Document) ([]domain.Post, error) {
	creators, err := s.usersByID(ctx, collectIDs(docs, fieldCreator))
	if err != nil {
		return nil, err
	}
	posts := make([]domain.Post, len(docs))
	for i, doc := range docs {
		posts[i] = postFromDocument(doc, creators[doc.String(fieldCreator)])
	}
	return posts, nil
}

func (s *Store) usersByID(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	docs, err := s.documents.ListDocuments(ctx, backend.CollectionUsers, backend.Query{
		In: &backend.InFilter{Field: backend.FieldID, Values: ids},
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		out[doc.ID] = userFromDocument(doc)
	}
	return out, nil
}

// collectIDs returns the distinct non-empty values of field, in order.
func collectIDs(docs []backend.Document, field string) []string {
	seen := make(map[string]bool, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := doc.String(field)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
