package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	appErrors "snapgram/internal/errors"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
	postgrest "github.com/supabase-community/postgrest-go"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"
)

// ============================================================================
// SUPABASE DRIVER
// ============================================================================

// SupabaseConfig configures the Supabase driver.
type SupabaseConfig struct {
	URL    string
	Key    string
	Bucket string
	// PreviewSize bounds the rendered preview image.
	PreviewSize int
}

// SupabaseBackend implements all three capabilities against a Supabase
// project: gotrue for accounts, postgrest tables named after the collections
// and a storage bucket for assets.
//
// The SDK calls take no context. ctx is checked before each call so a
// canceled request never starts a new round trip.
type SupabaseBackend struct {
	mu     sync.Mutex // guards client, whose auth headers change on sign-in
	client *supabase.Client
	cfg    SupabaseConfig
	logger *zap.Logger
}

// NewSupabaseBackend creates the driver with the anonymous key as credential.
func NewSupabaseBackend(cfg SupabaseConfig, logger *zap.Logger) (*SupabaseBackend, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create Supabase client: %w", err)
	}
	if cfg.PreviewSize == 0 {
		cfg.PreviewSize = 2000
	}
	return &SupabaseBackend{client: client, cfg: cfg, logger: logger.Named("supabase")}, nil
}

// Backend exposes all three capabilities.
func (s *SupabaseBackend) Backend() Backend {
	return Backend{Accounts: s, Documents: s, Assets: s}
}

// ----------------------------------------------------------------------------
// Accounts
// ----------------------------------------------------------------------------

func (s *SupabaseBackend) CreateAccount(ctx context.Context, email, password, name string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.client.Auth.Signup(types.SignupRequest{
		Email:    email,
		Password: password,
		Data:     map[string]interface{}{"name": name},
	})
	if err != nil {
		return Account{}, err
	}
	return Account{ID: resp.User.ID.String(), Email: resp.User.Email}, nil
}

func (s *SupabaseBackend) CreateSession(ctx context.Context, email, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.client.SignInWithEmailPassword(email, password)
	if err != nil {
		return Session{}, err
	}
	out := Session{Token: session.AccessToken, AccountID: session.User.ID.String()}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0)
	}
	return out, nil
}

func (s *SupabaseBackend) ResumeSession(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client.UpdateAuthSession(types.Session{AccessToken: token})
	return nil
}

func (s *SupabaseBackend) DeleteSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.client.Auth.Logout()
	// Fall back to the anonymous key whatever the outcome.
	s.client.UpdateAuthSession(types.Session{AccessToken: s.cfg.Key})
	return err
}

func (s *SupabaseBackend) GetAccount(ctx context.Context) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.client.Auth.GetUser()
	if err != nil {
		return Account{}, err
	}
	return Account{ID: resp.ID.String(), Email: resp.Email}, nil
}

// ----------------------------------------------------------------------------
// Documents
// ----------------------------------------------------------------------------

func (s *SupabaseBackend) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(collection, id)
}

func (s *SupabaseBackend) getLocked(collection, id string) (Document, error) {
	var rows []map[string]any
	if _, err := s.client.From(collection).Select("*", "", false).Eq(FieldID, id).ExecuteTo(&rows); err != nil {
		return Document{}, err
	}
	if len(rows) == 0 {
		return Document{}, documentNotFound(collection, id)
	}
	return rowToDocument(collection, rows[0])
}

func (s *SupabaseBackend) ListDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	column := q.OrderColumn()
	fb := s.client.From(collection).Select("*", "", false)
	for _, f := range q.Equal {
		fb = fb.Eq(f.Field, f.Value)
	}
	for _, f := range q.Contains {
		fb = fb.Contains(f.Field, []string{f.Value})
	}
	if q.In != nil {
		if len(q.In.Values) == 0 {
			return []Document{}, nil
		}
		fb = fb.In(q.In.Field, q.In.Values)
	}
	if q.Search != nil {
		fb = fb.Ilike(q.Search.Field, "%"+escapeLike(q.Search.Term)+"%")
	}
	if q.CursorAfter != "" {
		cursor, err := s.getLocked(collection, q.CursorAfter)
		if err != nil {
			if appErrors.IsNotFound(err) {
				return nil, appErrors.NotFound("CURSOR_NOT_FOUND", "Cursor document not found.").
					WithContext("cursor", q.CursorAfter).WithCause(err).Build()
			}
			return nil, err
		}
		v := orderValueRFC(cursor, column)
		fb = fb.Or(fmt.Sprintf("%s.lt.%s,and(%s.eq.%s,id.lt.%s)", column, v, column, v, cursor.ID), "")
	}
	fb = fb.Order(column, &postgrest.OrderOpts{Ascending: false}).
		Order(FieldID, &postgrest.OrderOpts{Ascending: false})
	if q.Limit > 0 {
		fb = fb.Limit(q.Limit, "")
	}

	var rows []map[string]any
	if _, err := fb.ExecuteTo(&rows); err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := rowToDocument(collection, row)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *SupabaseBackend) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	row := cloneData(data)
	row[FieldID] = id

	var rows []map[string]any
	if _, err := s.client.From(collection).Insert(row, false, "", "representation", "").ExecuteTo(&rows); err != nil {
		return Document{}, err
	}
	if len(rows) == 0 {
		return Document{}, appErrors.Internal("EMPTY_INSERT", "Insert returned no row.").
			WithContext("collection", collection).Build()
	}
	return rowToDocument(collection, rows[0])
}

func (s *SupabaseBackend) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := cloneData(data)
	row[FieldUpdatedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	var rows []map[string]any
	if _, err := s.client.From(collection).Update(row, "representation", "").Eq(FieldID, id).ExecuteTo(&rows); err != nil {
		return Document{}, err
	}
	if len(rows) == 0 {
		return Document{}, documentNotFound(collection, id)
	}
	return rowToDocument(collection, rows[0])
}

func (s *SupabaseBackend) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []map[string]any
	if _, err := s.client.From(collection).Delete("representation", "").Eq(FieldID, id).ExecuteTo(&rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return documentNotFound(collection, id)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Assets
// ----------------------------------------------------------------------------

func (s *SupabaseBackend) UploadAsset(ctx context.Context, id, contentType string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.client.Storage.UploadFile(s.cfg.Bucket, id, body, storage_go.FileOptions{ContentType: &contentType})
	return storageError(err)
}

func (s *SupabaseBackend) DeleteAsset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.client.Storage.RemoveFile(s.cfg.Bucket, []string{id})
	if err != nil {
		return storageError(err)
	}
	if len(removed) == 0 {
		return appErrors.NotFound("ASSET_NOT_FOUND", "File not found.").WithContext("id", id).Build()
	}
	return nil
}

func (s *SupabaseBackend) AssetPreviewURL(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		return "", appErrors.Validation("ASSET_ID_EMPTY", "File id is required.").Build()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := s.client.Storage.GetPublicUrl(s.cfg.Bucket, id, storage_go.UrlOptions{
		Transform: &storage_go.TransformOptions{
			Width:   s.cfg.PreviewSize,
			Height:  s.cfg.PreviewSize,
			Resize:  "contain",
			Quality: 100,
		},
	})
	if resp.SignedURL == "" {
		return "", appErrors.Internal("PREVIEW_EMPTY", "Storage returned no preview URL.").WithContext("id", id).Build()
	}
	return resp.SignedURL, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// rowToDocument splits the reserved columns off a postgrest row.
func rowToDocument(collection string, row map[string]any) (Document, error) {
	doc := Document{Collection: collection, Data: make(map[string]any, len(row))}
	for k, v := range row {
		switch k {
		case FieldID:
			doc.ID = fmt.Sprint(v)
		case FieldCreatedAt:
			doc.CreatedAt = parseTimestamp(v)
		case FieldUpdatedAt:
			doc.UpdatedAt = parseTimestamp(v)
		default:
			doc.Data[k] = v
		}
	}
	if doc.ID == "" {
		raw, _ := json.Marshal(row)
		return Document{}, appErrors.Internal("ROW_WITHOUT_ID", "Row has no id column.").
			WithContext("collection", collection).WithContext("row", string(raw)).Build()
	}
	return doc, nil
}

func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func orderValueRFC(doc Document, column string) string {
	switch column {
	case FieldUpdatedAt:
		return doc.UpdatedAt.Format(time.RFC3339Nano)
	case FieldCreatedAt:
		return doc.CreatedAt.Format(time.RFC3339Nano)
	default:
		return doc.String(column)
	}
}

// escapeLike keeps user search terms from acting as wildcards.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `,`, ``, `(`, ``, `)`, ``)
	return r.Replace(term)
}

// storageError gives storage failures a status-coded message so Classify can
// read them.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	var se *storage_go.StorageError
	if errors.As(err, &se) && se.Status != 0 {
		return fmt.Errorf("storage: response status code %d: %w", se.Status, err)
	}
	return err
}
