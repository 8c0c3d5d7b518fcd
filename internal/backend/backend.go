// Package backend defines the capability surface of the remote
// backend-as-a-service the client talks to: accounts and sessions, a
// document database addressed by collection, and binary asset storage.
//
// Drivers:
//   - Supabase: gotrue accounts, postgrest documents, storage assets
//   - DynamoDB: documents only, paired with another driver's accounts/assets
//   - Memory:   all three, for development and tests
//
// Decorators add a circuit breaker (WithBreaker) and tracing spans
// (WithTracing) around every call.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Collections used by the client.
const (
	CollectionUsers = "users"
	CollectionPosts = "posts"
	CollectionSaves = "saves"
)

// Reserved document columns.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// ============================================================================
// CAPABILITIES
// ============================================================================

// Account is an authentication identity, distinct from the `users` document
// that holds the profile.
type Account struct {
	ID    string
	Email string
}

// Session is the result of a successful sign-in.
type Session struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
}

// Accounts manages identities and the current session.
type Accounts interface {
	CreateAccount(ctx context.Context, email, password, name string) (Account, error)
	CreateSession(ctx context.Context, email, password string) (Session, error)
	// ResumeSession makes token the credential for subsequent calls.
	ResumeSession(ctx context.Context, token string) error
	DeleteSession(ctx context.Context) error
	GetAccount(ctx context.Context) (Account, error)
}

// Documents is generic CRUD over JSON documents grouped by collection.
type Documents interface {
	GetDocument(ctx context.Context, collection, id string) (Document, error)
	ListDocuments(ctx context.Context, collection string, q Query) ([]Document, error)
	CreateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error)
	UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error)
	DeleteDocument(ctx context.Context, collection, id string) error
}

// Assets stores binary files addressed by id.
type Assets interface {
	UploadAsset(ctx context.Context, id, contentType string, body io.Reader) error
	DeleteAsset(ctx context.Context, id string) error
	AssetPreviewURL(ctx context.Context, id string) (string, error)
}

// Backend bundles the three capabilities. Drivers may be mixed.
type Backend struct {
	Accounts  Accounts
	Documents Documents
	Assets    Assets
}

// ============================================================================
// QUERY MODEL
// ============================================================================

// Filter is an equality filter on a document field.
type Filter struct {
	Field string
	Value string
}

// InFilter matches documents whose field is one of Values.
type InFilter struct {
	Field  string
	Values []string
}

// Search is a case-insensitive substring match on a text field.
type Search struct {
	Field string
	Term  string
}

// Query selects documents of one collection. Results are ordered by
// OrderDesc (defaults to updated_at) descending with id as tie breaker.
// CursorAfter is the id of the last document of the previous page.
type Query struct {
	Equal []Filter
	// Contains matches list fields holding Value.
	Contains    []Filter
	In          *InFilter
	Search      *Search
	OrderDesc   string
	CursorAfter string
	Limit       int
}

// Where adds an equality filter.
func (q Query) Where(field, value string) Query {
	q.Equal = append(append([]Filter(nil), q.Equal...), Filter{Field: field, Value: value})
	return q
}

// OrderColumn returns the effective ordering column.
func (q Query) OrderColumn() string {
	if q.OrderDesc == "" {
		return FieldUpdatedAt
	}
	return q.OrderDesc
}

// ============================================================================
// DOCUMENT
// ============================================================================

// Document is a stored record. Data holds every field except the reserved
// columns.
type Document struct {
	ID         string
	Collection string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Data       map[string]any
}

// String returns a string field or "".
func (d Document) String(field string) string {
	switch v := d.Data[field].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

// Strings returns a list-of-strings field. Drivers decode JSON arrays as
// []any, so both shapes are accepted.
func (d Document) Strings(field string) []string {
	switch v := d.Data[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// Decode copies Data into dst through JSON.
func (d Document) Decode(dst any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// cloneData copies a data map one level deep, enough to keep stored
// documents independent of caller-owned slices.
func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch tv := v.(type) {
		case []string:
			out[k] = append([]string(nil), tv...)
		case []any:
			out[k] = append([]any(nil), tv...)
		default:
			out[k] = v
		}
	}
	return out
}
