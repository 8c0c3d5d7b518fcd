package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "snapgram/internal/errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================================
// MEMORY BACKEND
// ============================================================================

// MemoryBackend keeps accounts, documents and assets in process memory. It
// follows the same ordering and cursor rules as the remote drivers so the
// client behaves identically against it.
type MemoryBackend struct {
	mu sync.RWMutex

	accounts map[string]memoryAccount // by email
	sessions map[string]string        // token -> account id
	current  string

	docs   map[string]map[string]Document // collection -> id -> doc
	assets map[string][]byte

	previewBase string
	bcryptCost  int
	lastTime    time.Time
	now         func() time.Time
}

type memoryAccount struct {
	account Account
	hash    []byte
}

// NewMemoryBackend creates an empty in-memory backend. previewBase prefixes
// asset preview URLs.
func NewMemoryBackend(previewBase string) *MemoryBackend {
	return &MemoryBackend{
		accounts:    make(map[string]memoryAccount),
		sessions:    make(map[string]string),
		docs:        make(map[string]map[string]Document),
		assets:      make(map[string][]byte),
		previewBase: strings.TrimRight(previewBase, "/"),
		bcryptCost:  bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// WithBcryptCost lowers password hashing cost, used by tests.
func (m *MemoryBackend) WithBcryptCost(cost int) *MemoryBackend {
	m.bcryptCost = cost
	return m
}

// Backend exposes all three capabilities.
func (m *MemoryBackend) Backend() Backend {
	return Backend{Accounts: m, Documents: m, Assets: m}
}

// tick returns a strictly increasing timestamp so ordering by update time is
// total even for writes within the same clock tick.
func (m *MemoryBackend) tick() time.Time {
	t := m.now().UTC()
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Nanosecond)
	}
	m.lastTime = t
	return t
}

// ----------------------------------------------------------------------------
// Accounts
// ----------------------------------------------------------------------------

func (m *MemoryBackend) CreateAccount(ctx context.Context, email, password, name string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.bcryptCost)
	if err != nil {
		return Account{}, appErrors.Validation("PASSWORD_INVALID", "Password cannot be used.").WithCause(err).Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := m.accounts[key]; exists {
		return Account{}, appErrors.Conflict("ACCOUNT_EXISTS", "A user with the same email already exists.").Build()
	}
	acc := Account{ID: uuid.NewString(), Email: email}
	m.accounts[key] = memoryAccount{account: acc, hash: hash}
	return acc, nil
}

func (m *MemoryBackend) CreateSession(ctx context.Context, email, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[strings.ToLower(email)]
	if !ok || bcrypt.CompareHashAndPassword(stored.hash, []byte(password)) != nil {
		return Session{}, appErrors.Unauthorized("INVALID_CREDENTIALS", "Invalid credentials.").Build()
	}
	token := uuid.NewString()
	m.sessions[token] = stored.account.ID
	m.current = token
	return Session{Token: token, AccountID: stored.account.ID, ExpiresAt: m.now().Add(24 * time.Hour)}, nil
}

func (m *MemoryBackend) ResumeSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = token
	return ctx.Err()
}

func (m *MemoryBackend) DeleteSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[m.current]; !ok {
		return appErrors.Unauthorized("NO_SESSION", "No active session.").Build()
	}
	delete(m.sessions, m.current)
	m.current = ""
	return nil
}

func (m *MemoryBackend) GetAccount(ctx context.Context) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	accountID, ok := m.sessions[m.current]
	if !ok {
		return Account{}, appErrors.Unauthorized("NO_SESSION", "No active session.").Build()
	}
	for _, a := range m.accounts {
		if a.account.ID == accountID {
			return a.account, nil
		}
	}
	return Account{}, appErrors.Unauthorized("ACCOUNT_GONE", "Account no longer exists.").Build()
}

// ----------------------------------------------------------------------------
// Documents
// ----------------------------------------------------------------------------

func (m *MemoryBackend) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[collection][id]
	if !ok {
		return Document{}, documentNotFound(collection, id)
	}
	return copyDocument(doc), nil
}

func (m *MemoryBackend) ListDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Document, 0, len(m.docs[collection]))
	for _, doc := range m.docs[collection] {
		if matches(doc, q) {
			matched = append(matched, doc)
		}
	}

	column := q.OrderColumn()
	sort.Slice(matched, func(i, j int) bool {
		a, b := orderValue(matched[i], column), orderValue(matched[j], column)
		if a != b {
			return a > b
		}
		return matched[i].ID > matched[j].ID
	})

	if q.CursorAfter != "" {
		idx := -1
		for i, doc := range matched {
			if doc.ID == q.CursorAfter {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, appErrors.NotFound("CURSOR_NOT_FOUND", "Cursor document not found.").
				WithContext("cursor", q.CursorAfter).Build()
		}
		matched = matched[idx+1:]
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Document, len(matched))
	for i, doc := range matched {
		out[i] = copyDocument(doc)
	}
	return out, nil
}

func (m *MemoryBackend) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]Document)
	}
	if _, exists := m.docs[collection][id]; exists {
		return Document{}, appErrors.Conflict("DOCUMENT_EXISTS", "Document already exists.").
			WithContext("collection", collection).WithContext("id", id).Build()
	}
	now := m.tick()
	doc := Document{ID: id, Collection: collection, CreatedAt: now, UpdatedAt: now, Data: cloneData(data)}
	m.docs[collection][id] = doc
	return copyDocument(doc), nil
}

func (m *MemoryBackend) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[collection][id]
	if !ok {
		return Document{}, documentNotFound(collection, id)
	}
	merged := cloneData(doc.Data)
	for k, v := range cloneData(data) {
		merged[k] = v
	}
	doc.Data = merged
	doc.UpdatedAt = m.tick()
	m.docs[collection][id] = doc
	return copyDocument(doc), nil
}

func (m *MemoryBackend) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[collection][id]; !ok {
		return documentNotFound(collection, id)
	}
	delete(m.docs[collection], id)
	return nil
}

// ----------------------------------------------------------------------------
// Assets
// ----------------------------------------------------------------------------

func (m *MemoryBackend) UploadAsset(ctx context.Context, id, contentType string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[id] = buf.Bytes()
	return nil
}

func (m *MemoryBackend) AssetPreviewURL(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.assets[id]; !ok {
		return "", appErrors.NotFound("ASSET_NOT_FOUND", "File not found.").WithContext("id", id).Build()
	}
	return fmt.Sprintf("%s/%s/preview", m.previewBase, id), nil
}

// HasAsset reports whether an asset is stored, used by tests to detect
// orphans.
func (m *MemoryBackend) HasAsset(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.assets[id]
	return ok
}

// AssetCount returns the number of stored assets.
func (m *MemoryBackend) AssetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assets)
}

func (m *MemoryBackend) DeleteAsset(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok {
		return appErrors.NotFound("ASSET_NOT_FOUND", "File not found.").WithContext("id", id).Build()
	}
	delete(m.assets, id)
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func documentNotFound(collection, id string) error {
	return appErrors.NotFound("DOCUMENT_NOT_FOUND", "Document not found.").
		WithContext("collection", collection).
		WithContext("id", id).
		Build()
}

func copyDocument(doc Document) Document {
	doc.Data = cloneData(doc.Data)
	return doc
}

func orderValue(doc Document, column string) string {
	switch column {
	case FieldUpdatedAt:
		return doc.UpdatedAt.Format(sortableTime)
	case FieldCreatedAt:
		return doc.CreatedAt.Format(sortableTime)
	default:
		return doc.String(column)
	}
}

func matches(doc Document, q Query) bool {
	for _, f := range q.Equal {
		if fieldValue(doc, f.Field) != f.Value {
			return false
		}
	}
	for _, f := range q.Contains {
		found := false
		for _, v := range doc.Strings(f.Field) {
			if v == f.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.In != nil {
		value := fieldValue(doc, q.In.Field)
		found := false
		for _, v := range q.In.Values {
			if v == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Search != nil {
		text := strings.ToLower(doc.String(q.Search.Field))
		if !strings.Contains(text, strings.ToLower(q.Search.Term)) {
			return false
		}
	}
	return true
}

func fieldValue(doc Document, field string) string {
	if field == FieldID {
		return doc.ID
	}
	return doc.String(field)
}

// sortableTime is a fixed-width UTC layout whose lexical order matches
// chronological order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"
