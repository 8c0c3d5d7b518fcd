package store

import (
	"context"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// ACCOUNTS AND SESSIONS
// ============================================================================

// CreateUserAccount creates the authentication account and the matching
// `users` profile document with an initials avatar.
func (s *Store) CreateUserAccount(ctx context.Context, u domain.NewUser) (user domain.User, err error) {
	const op = "createUserAccount"
	ctx, span := s.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	if err := s.validate(op, "Unable to create account.", u); err != nil {
		return domain.User{}, err
	}

	acc, err := s.accounts.CreateAccount(ctx, u.Email, u.Password, u.Name)
	if err != nil {
		return domain.User{}, appErrors.Wrap(err, op, "Unable to create account.")
	}

	doc, err := s.documents.CreateDocument(ctx, backend.CollectionUsers, "", map[string]any{
		fieldAccountID: acc.ID,
		fieldEmail:     acc.Email,
		fieldName:      u.Name,
		fieldUsername:  u.Username,
		fieldImageURL:  domain.InitialsAvatarURL(s.cfg.AvatarBaseURL, u.Name),
		fieldBio:       "",
	})
	if err != nil {
		return domain.User{}, appErrors.WrapWith(err, op, "Unable to save user.", "accountId", acc.ID)
	}

	s.logger.Info("user account created", zap.String("userId", doc.ID), zap.String("accountId", acc.ID))
	return userFromDocument(doc), nil
}

// SignInAccount opens a session for the credentials.
func (s *Store) SignInAccount(ctx context.Context, creds domain.Credentials) (backend.Session, error) {
	const op = "signInAccount"
	if err := s.validate(op, "Unable to sign in.", creds); err != nil {
		return backend.Session{}, err
	}
	session, err := s.accounts.CreateSession(ctx, creds.Email, creds.Password)
	if err != nil {
		return backend.Session{}, appErrors.Wrap(err, op, "Unable to sign in.")
	}
	return session, nil
}

// SignOutAccount deletes the current remote session.
func (s *Store) SignOutAccount(ctx context.Context) error {
	if err := s.accounts.DeleteSession(ctx); err != nil {
		return appErrors.Wrap(err, "signOutAccount", "Unable to sign out.")
	}
	return nil
}

// ResumeSession makes a stored session token the credential for later calls.
func (s *Store) ResumeSession(ctx context.Context, token string) error {
	if err := s.accounts.ResumeSession(ctx, token); err != nil {
		return appErrors.Wrap(err, "resumeSession", "Unable to restore session.")
	}
	return nil
}

// GetCurrentUser confirms the session remotely and loads the signed-in
// user's profile together with saved entries and liked post ids.
func (s *Store) GetCurrentUser(ctx context.Context) (current domain.CurrentUser, err error) {
	const op = "getCurrentUser"
	ctx, span := s.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	acc, err := s.accounts.GetAccount(ctx)
	if err != nil {
		return domain.CurrentUser{}, appErrors.Wrap(err, op, "Unable to get current user.")
	}
	span.SetAttributes(attribute.String("account.id", acc.ID))

	docs, err := s.documents.ListDocuments(ctx, backend.CollectionUsers,
		backend.Query{Limit: 1}.Where(fieldAccountID, acc.ID))
	if err != nil {
		return domain.CurrentUser{}, appErrors.WrapWith(err, op, "Unable to get current user.", "accountId", acc.ID)
	}
	if len(docs) == 0 {
		return domain.CurrentUser{}, appErrors.NotFound("USER_NOT_FOUND", "Unable to get current user.").
			WithOp(op).WithContext("accountId", acc.ID).Build()
	}
	user := userFromDocument(docs[0])

	var (
		saves []domain.SavedPostEntry
		liked []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		saves, err = s.savedEntries(gctx, user.ID)
		return err
	})
	g.Go(func() error {
		likedDocs, err := s.documents.ListDocuments(gctx, backend.CollectionPosts, backend.Query{
			Contains: []backend.Filter{{Field: fieldLikes, Value: user.ID}},
		})
		if err != nil {
			return err
		}
		liked = make([]string, len(likedDocs))
		for i, d := range likedDocs {
			liked[i] = d.ID
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.CurrentUser{}, appErrors.WrapWith(err, op, "Unable to get current user.", "userId", user.ID)
	}

	return domain.CurrentUser{User: user, Saves: saves, Liked: liked}, nil
}
