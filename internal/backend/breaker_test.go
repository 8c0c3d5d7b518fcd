package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "snapgram/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockDocuments struct {
	mock.Mock
}

func (m *MockDocuments) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	args := m.Called(ctx, collection, id)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockDocuments) ListDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	args := m.Called(ctx, collection, q)
	docs, _ := args.Get(0).([]Document)
	return docs, args.Error(1)
}

func (m *MockDocuments) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	args := m.Called(ctx, collection, id, data)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockDocuments) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	args := m.Called(ctx, collection, id, data)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockDocuments) DeleteDocument(ctx context.Context, collection, id string) error {
	args := m.Called(ctx, collection, id)
	return args.Error(0)
}

func testBreakerConfig() BreakerConfig {
	cfg := DefaultBreakerConfig("test")
	cfg.MinRequests = 3
	cfg.FailureThreshold = 0.5
	cfg.Timeout = time.Minute
	return cfg
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	ctx := context.Background()
	docs := new(MockDocuments)
	docs.On("GetDocument", ctx, CollectionPosts, "p1").
		Return(Document{}, errors.New("dial tcp: connection refused")).Times(3)

	b := WithBreaker(Backend{Documents: docs}, testBreakerConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := b.Documents.GetDocument(ctx, CollectionPosts, "p1")
		assert.Error(t, err)
	}

	_, err := b.Documents.GetDocument(ctx, CollectionPosts, "p1")
	assert.Equal(t, appErrors.KindUnavailable, appErrors.KindOf(err))
	assert.True(t, appErrors.IsRetryable(err))
	docs.AssertExpectations(t)
}

func TestBreakerIgnoresUserErrors(t *testing.T) {
	ctx := context.Background()
	docs := new(MockDocuments)
	notFound := documentNotFound(CollectionPosts, "gone")
	docs.On("GetDocument", ctx, CollectionPosts, "gone").Return(Document{}, notFound)

	b := WithBreaker(Backend{Documents: docs}, testBreakerConfig(), zap.NewNop())

	for i := 0; i < 10; i++ {
		_, err := b.Documents.GetDocument(ctx, CollectionPosts, "gone")
		assert.True(t, appErrors.IsNotFound(err))
	}
	docs.AssertNumberOfCalls(t, "GetDocument", 10)
}

func TestBreakerPassesResults(t *testing.T) {
	ctx := context.Background()
	docs := new(MockDocuments)
	want := []Document{{ID: "a"}, {ID: "b"}}
	docs.On("ListDocuments", mock.Anything, CollectionPosts, Query{Limit: 2}).Return(want, nil)

	b := WithTracing(WithBreaker(Backend{Documents: docs}, testBreakerConfig(), zap.NewNop()))

	got, err := b.Documents.ListDocuments(ctx, CollectionPosts, Query{Limit: 2})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Nil(t, b.Accounts)
	assert.Nil(t, b.Assets)
}
