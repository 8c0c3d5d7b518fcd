// Package store is the remote store adapter. Each operation translates one
// domain intent into backend calls and returns domain values.
//
// Every remote failure is returned as an *errors.AppError carrying the
// classified kind, a domain message such as "Unable to create new post." and
// the original cause. Two-phase writes (asset upload, then document) delete
// the uploaded asset when the second phase fails; those compensating deletes
// are logged and never reported to the caller.
package store

import (
	"bytes"
	"context"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"
	"snapgram/internal/media"
	"snapgram/internal/validation"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Page sizes.
const (
	RecentPostsLimit  = 20
	FeedPageSize      = 9
	DefaultUsersLimit = 10
)

// Document field names.
const (
	fieldAccountID = "account_id"
	fieldName      = "name"
	fieldUsername  = "username"
	fieldEmail     = "email"
	fieldImageID   = "image_id"
	fieldImageURL  = "image_url"
	fieldBio       = "bio"

	fieldCreator  = "creator"
	fieldCaption  = "caption"
	fieldLocation = "location"
	fieldTags     = "tags"
	fieldLikes    = "likes"

	fieldUserID = "user_id"
	fieldPostID = "post_id"
)

// Config holds adapter settings.
type Config struct {
	// AvatarBaseURL is the initials avatar service used for new users.
	AvatarBaseURL string
}

// Store implements the client's remote operations on top of a backend.
type Store struct {
	accounts  backend.Accounts
	documents backend.Documents
	assets    backend.Assets

	normalizer *media.Normalizer
	validator  *validation.Validator
	cfg        Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// New creates a Store.
func New(b backend.Backend, normalizer *media.Normalizer, cfg Config, logger *zap.Logger) *Store {
	if normalizer == nil {
		normalizer = media.NewNormalizer(0)
	}
	return &Store{
		accounts:   b.Accounts,
		documents:  b.Documents,
		assets:     b.Assets,
		normalizer: normalizer,
		validator:  validation.Default(),
		cfg:        cfg,
		logger:     logger.Named("store"),
		tracer:     otel.Tracer("snapgram.store"),
	}
}

// ============================================================================
// ASSET HELPERS
// ============================================================================

// uploadedAsset is the result of the first phase of a two-phase write.
type uploadedAsset struct {
	ID  string
	URL string
}

// uploadAsset normalizes f, uploads it and derives the preview URL. When the
// URL cannot be derived the upload is deleted again.
func (s *Store) uploadAsset(ctx context.Context, op string, f *domain.File) (uploadedAsset, error) {
	normalized, err := s.normalizer.Normalize(f)
	if err != nil {
		return uploadedAsset{}, err
	}

	id := uuid.NewString()
	if err := s.assets.UploadAsset(ctx, id, normalized.ContentType, bytes.NewReader(normalized.Data)); err != nil {
		return uploadedAsset{}, err
	}

	url, err := s.assets.AssetPreviewURL(ctx, id)
	if err == nil && url == "" {
		err = appErrors.Internal("PREVIEW_EMPTY", "Preview URL is empty.").WithContext("assetId", id).Build()
	}
	if err != nil {
		s.discardAsset(op, id)
		return uploadedAsset{}, err
	}
	return uploadedAsset{ID: id, URL: url}, nil
}

// discardAsset deletes an orphaned or replaced asset. It runs on a fresh
// context so a canceled request still cleans up after itself, and failures
// are only logged.
func (s *Store) discardAsset(op, id string) {
	if id == "" {
		return
	}
	if err := s.assets.DeleteAsset(context.Background(), id); err != nil {
		s.logger.Warn("asset cleanup failed",
			zap.String("op", op),
			zap.String("assetId", id),
			zap.Error(err))
		return
	}
	s.logger.Debug("asset cleaned up", zap.String("op", op), zap.String("assetId", id))
}

// validate runs the form validator and labels a failure with op.
func (s *Store) validate(op, message string, form any) error {
	if err := s.validator.Validate(form); err != nil {
		return appErrors.Wrap(err, op, message)
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "Store."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
