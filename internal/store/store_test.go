package store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"snapgram/internal/backend"
	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// MOCKS
// ============================================================================

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) CreateAccount(ctx context.Context, email, password, name string) (backend.Account, error) {
	args := m.Called(ctx, email, password, name)
	return args.Get(0).(backend.Account), args.Error(1)
}

func (m *MockAccounts) CreateSession(ctx context.Context, email, password string) (backend.Session, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(backend.Session), args.Error(1)
}

func (m *MockAccounts) ResumeSession(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *MockAccounts) DeleteSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAccounts) GetAccount(ctx context.Context) (backend.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(backend.Account), args.Error(1)
}

type MockDocuments struct {
	mock.Mock
}

func (m *MockDocuments) GetDocument(ctx context.Context, collection, id string) (backend.Document, error) {
	args := m.Called(ctx, collection, id)
	return args.Get(0).(backend.Document), args.Error(1)
}

func (m *MockDocuments) ListDocuments(ctx context.Context, collection string, q backend.Query) ([]backend.Document, error) {
	args := m.Called(ctx, collection, q)
	docs, _ := args.Get(0).([]backend.Document)
	return docs, args.Error(1)
}

func (m *MockDocuments) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (backend.Document, error) {
	args := m.Called(ctx, collection, id, data)
	return args.Get(0).(backend.Document), args.Error(1)
}

func (m *MockDocuments) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (backend.Document, error) {
	args := m.Called(ctx, collection, id, data)
	return args.Get(0).(backend.Document), args.Error(1)
}

func (m *MockDocuments) DeleteDocument(ctx context.Context, collection, id string) error {
	return m.Called(ctx, collection, id).Error(0)
}

type MockAssets struct {
	mock.Mock
}

func (m *MockAssets) UploadAsset(ctx context.Context, id, contentType string, body io.Reader) error {
	return m.Called(ctx, id, contentType, body).Error(0)
}

func (m *MockAssets) DeleteAsset(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockAssets) AssetPreviewURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// ============================================================================
// HELPERS
// ============================================================================

type mockedStore struct {
	store     *Store
	accounts  *MockAccounts
	documents *MockDocuments
	assets    *MockAssets
}

func newMockedStore() *mockedStore {
	m := &mockedStore{
		accounts:  new(MockAccounts),
		documents: new(MockDocuments),
		assets:    new(MockAssets),
	}
	m.store = New(backend.Backend{Accounts: m.accounts, Documents: m.documents, Assets: m.assets},
		nil, Config{AvatarBaseURL: "https://avatars.test/initials"}, zap.NewNop())
	return m
}

func testImage(t *testing.T) *domain.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &domain.File{Name: "photo.png", ContentType: "image/png", Data: buf.Bytes()}
}

func validNewPost(t *testing.T) domain.NewPost {
	return domain.NewPost{
		UserID:   "u1",
		Caption:  "Morning light",
		Location: "Lisbon",
		Tags:     "Art, Learn",
		File:     testImage(t),
	}
}

// ============================================================================
// CREATE POST
// ============================================================================

func TestCreatePostDeletesAssetWhenDocumentInsertFails(t *testing.T) {
	m := newMockedStore()
	var assetID string

	m.assets.On("UploadAsset", mock.Anything, mock.AnythingOfType("string"), "image/png", mock.Anything).
		Run(func(args mock.Arguments) { assetID = args.String(1) }).
		Return(nil)
	m.assets.On("AssetPreviewURL", mock.Anything, mock.AnythingOfType("string")).
		Return("https://cdn.test/preview", nil)
	m.documents.On("CreateDocument", mock.Anything, backend.CollectionPosts, "", mock.Anything).
		Return(backend.Document{}, errors.New("(42501) permission denied for table posts"))
	m.assets.On("DeleteAsset", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	_, err := m.store.CreatePost(context.Background(), validNewPost(t))
	require.Error(t, err)

	var appErr *appErrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Unable to create new post.", appErr.Message)
	assert.Equal(t, appErrors.KindForbidden, appErr.Kind)
	assert.Contains(t, appErr.Cause.Error(), "permission denied")

	m.assets.AssertCalled(t, "DeleteAsset", mock.Anything, assetID)
	m.assets.AssertExpectations(t)
	m.documents.AssertExpectations(t)
}

func TestCreatePostDeletesAssetWhenPreviewFails(t *testing.T) {
	m := newMockedStore()

	m.assets.On("UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.assets.On("AssetPreviewURL", mock.Anything, mock.Anything).Return("", errors.New("response status code 404: not found"))
	m.assets.On("DeleteAsset", mock.Anything, mock.Anything).Return(nil)

	_, err := m.store.CreatePost(context.Background(), validNewPost(t))
	require.Error(t, err)
	assert.True(t, appErrors.IsNotFound(err))

	m.assets.AssertNumberOfCalls(t, "DeleteAsset", 1)
	m.documents.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePostCompensationFailureIsNotSurfaced(t *testing.T) {
	m := newMockedStore()

	m.assets.On("UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.assets.On("AssetPreviewURL", mock.Anything, mock.Anything).Return("https://cdn.test/preview", nil)
	m.documents.On("CreateDocument", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(backend.Document{}, errors.New("dial tcp: connection refused"))
	m.assets.On("DeleteAsset", mock.Anything, mock.Anything).Return(errors.New("storage down"))

	_, err := m.store.CreatePost(context.Background(), validNewPost(t))

	assert.Equal(t, appErrors.KindNetwork, appErrors.KindOf(err))
	assert.NotContains(t, err.Error(), "storage down")
}

func TestCreatePostValidationBlocksRemoteCalls(t *testing.T) {
	m := newMockedStore()
	p := validNewPost(t)
	p.Caption = "hey"
	p.File = nil

	_, err := m.store.CreatePost(context.Background(), p)

	require.True(t, appErrors.IsValidation(err))
	fields := appErrors.FieldErrors(err)
	assert.Equal(t, "Caption must contain at least 5 characters.", fields["caption"])
	assert.Equal(t, "Photo must be uploaded.", fields["file"])
	m.assets.AssertNotCalled(t, "UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePostParsesTags(t *testing.T) {
	m := newMockedStore()

	m.assets.On("UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.assets.On("AssetPreviewURL", mock.Anything, mock.Anything).Return("https://cdn.test/preview", nil)
	m.documents.On("CreateDocument", mock.Anything, backend.CollectionPosts, "", mock.MatchedBy(func(data map[string]any) bool {
		tags, ok := data[fieldTags].([]string)
		return ok && assert.ObjectsAreEqual([]string{"Art", "Learn"}, tags)
	})).Return(backend.Document{ID: "p1", Data: map[string]any{fieldCreator: "u1", fieldTags: []string{"Art", "Learn"}}}, nil)
	m.documents.On("ListDocuments", mock.Anything, backend.CollectionUsers, mock.Anything).
		Return([]backend.Document{{ID: "u1", Data: map[string]any{fieldName: "Ann"}}}, nil)

	post, err := m.store.CreatePost(context.Background(), validNewPost(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Art", "Learn"}, post.Tags)
	assert.Equal(t, "Ann", post.Creator.Name)
	m.assets.AssertNotCalled(t, "DeleteAsset", mock.Anything, mock.Anything)
}

// ============================================================================
// UPDATE POST
// ============================================================================

func TestUpdatePostWithoutFileKeepsImage(t *testing.T) {
	m := newMockedStore()
	m.documents.On("UpdateDocument", mock.Anything, backend.CollectionPosts, "p1", mock.MatchedBy(func(data map[string]any) bool {
		return data[fieldImageID] == "old-image" && data[fieldImageURL] == "https://cdn.test/old"
	})).Return(backend.Document{ID: "p1", Data: map[string]any{fieldImageID: "old-image"}}, nil)
	m.documents.On("ListDocuments", mock.Anything, backend.CollectionUsers, mock.Anything).Return([]backend.Document{}, nil)

	post, err := m.store.UpdatePost(context.Background(), domain.UpdatePost{
		PostID:   "p1",
		Caption:  "Evening light",
		Location: "Porto",
		ImageID:  "old-image",
		ImageURL: "https://cdn.test/old",
	})
	require.NoError(t, err)
	assert.Equal(t, "old-image", post.ImageID)
	m.assets.AssertNotCalled(t, "UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.assets.AssertNotCalled(t, "DeleteAsset", mock.Anything, mock.Anything)
}

func TestUpdatePostWithFileReplacesOldImage(t *testing.T) {
	m := newMockedStore()
	var newID string

	m.assets.On("UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { newID = args.String(1) }).Return(nil)
	m.assets.On("AssetPreviewURL", mock.Anything, mock.Anything).Return("https://cdn.test/new", nil)
	m.documents.On("UpdateDocument", mock.Anything, backend.CollectionPosts, "p1", mock.Anything).
		Return(backend.Document{ID: "p1"}, nil)
	m.documents.On("ListDocuments", mock.Anything, backend.CollectionUsers, mock.Anything).Return([]backend.Document{}, nil)
	m.assets.On("DeleteAsset", mock.Anything, "old-image").Return(nil)

	_, err := m.store.UpdatePost(context.Background(), domain.UpdatePost{
		PostID:   "p1",
		Caption:  "Evening light",
		Location: "Porto",
		ImageID:  "old-image",
		File:     testImage(t),
	})
	require.NoError(t, err)
	assert.NotEqual(t, "old-image", newID)
	m.assets.AssertCalled(t, "DeleteAsset", mock.Anything, "old-image")
	m.assets.AssertNumberOfCalls(t, "DeleteAsset", 1)
}

func TestUpdatePostFailureDeletesNewImageOnly(t *testing.T) {
	m := newMockedStore()
	var newID string

	m.assets.On("UploadAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { newID = args.String(1) }).Return(nil)
	m.assets.On("AssetPreviewURL", mock.Anything, mock.Anything).Return("https://cdn.test/new", nil)
	m.documents.On("UpdateDocument", mock.Anything, backend.CollectionPosts, "p1", mock.Anything).
		Return(backend.Document{}, errors.New("(PGRST116) JSON object requested, multiple (or no) rows returned"))
	m.assets.On("DeleteAsset", mock.Anything, mock.Anything).Return(nil)

	_, err := m.store.UpdatePost(context.Background(), domain.UpdatePost{
		PostID:   "p1",
		Caption:  "Evening light",
		Location: "Porto",
		ImageID:  "old-image",
		File:     testImage(t),
	})
	require.True(t, appErrors.IsNotFound(err))
	m.assets.AssertCalled(t, "DeleteAsset", mock.Anything, newID)
	m.assets.AssertNotCalled(t, "DeleteAsset", mock.Anything, "old-image")
}

// ============================================================================
// ACCOUNTS
// ============================================================================

func TestGetCurrentUserWrapsUnauthorized(t *testing.T) {
	m := newMockedStore()
	m.accounts.On("GetAccount", mock.Anything).
		Return(backend.Account{}, errors.New("response status code 401: invalid JWT"))

	_, err := m.store.GetCurrentUser(context.Background())

	assert.True(t, appErrors.IsUnauthorized(err))
	m.documents.AssertNotCalled(t, "ListDocuments", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignInValidatesBeforeCalling(t *testing.T) {
	m := newMockedStore()

	_, err := m.store.SignInAccount(context.Background(), domain.Credentials{Email: "not-an-email", Password: "short"})

	require.True(t, appErrors.IsValidation(err))
	assert.Equal(t, "Invalid email.", appErrors.FieldErrors(err)["email"])
	assert.Equal(t, "Password must be at least 8 characters long.", appErrors.FieldErrors(err)["password"])
	m.accounts.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteSavedPostMissingIsNoop(t *testing.T) {
	m := newMockedStore()
	m.documents.On("DeleteDocument", mock.Anything, backend.CollectionSaves, "s1").
		Return(appErrors.NotFound("DOCUMENT_NOT_FOUND", "Document not found.").Build())

	assert.NoError(t, m.store.DeleteSavedPost(context.Background(), "s1"))
}
