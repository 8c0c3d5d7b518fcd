package backend

import (
	"context"
	"testing"
	"time"

	appErrors "snapgram/internal/errors"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockDynamo struct {
	mock.Mock
}

func (m *MockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *MockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *MockDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *MockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func newTestDynamo(api DynamoAPI) *DynamoDocuments {
	d := NewDynamoDocuments(api, DynamoConfig{Table: "documents"}, zap.NewNop())
	d.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return d
}

func marshalTestItem(t *testing.T, collection, id string, data map[string]any) map[string]types.AttributeValue {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	av, err := attributevalue.MarshalMap(dynamoItem{
		Collection: collection,
		ID:         id,
		CreatedAt:  now.Format(time.RFC3339Nano),
		UpdatedAt:  now.Format(time.RFC3339Nano),
		UpdatedKey: updatedKey(now, id),
		Data:       data,
	})
	require.NoError(t, err)
	return av
}

func TestDynamoCreateDocument(t *testing.T) {
	ctx := context.Background()
	api := new(MockDynamo)
	api.On("PutItem", ctx, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return *in.TableName == "documents" && in.ConditionExpression != nil
	})).Return(&dynamodb.PutItemOutput{}, nil)

	doc, err := newTestDynamo(api).CreateDocument(ctx, CollectionPosts, "p1", map[string]any{"caption": "Hello"})
	require.NoError(t, err)

	assert.Equal(t, "p1", doc.ID)
	assert.Equal(t, "Hello", doc.String("caption"))
	assert.Equal(t, doc.CreatedAt, doc.UpdatedAt)
	api.AssertExpectations(t)
}

func TestDynamoCreateConflict(t *testing.T) {
	ctx := context.Background()
	api := new(MockDynamo)
	api.On("PutItem", ctx, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: new(string)})

	_, err := newTestDynamo(api).CreateDocument(ctx, CollectionPosts, "p1", nil)
	assert.Equal(t, appErrors.KindConflict, appErrors.KindOf(err))
}

func TestDynamoGetMissing(t *testing.T) {
	ctx := context.Background()
	api := new(MockDynamo)
	api.On("GetItem", ctx, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := newTestDynamo(api).GetDocument(ctx, CollectionPosts, "nope")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestDynamoListStopsAtLimitAcrossPages(t *testing.T) {
	ctx := context.Background()
	api := new(MockDynamo)

	page1 := &dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{marshalTestItem(t, CollectionPosts, "c", map[string]any{"caption": "three"})},
		LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "c"}},
	}
	page2 := &dynamodb.QueryOutput{
		Items: []map[string]types.AttributeValue{
			marshalTestItem(t, CollectionPosts, "b", map[string]any{"caption": "two"}),
			marshalTestItem(t, CollectionPosts, "a", map[string]any{"caption": "one"}),
		},
	}
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey == nil && *in.IndexName == "by_updated" && !*in.ScanIndexForward
	})).Return(page1, nil).Once()
	api.On("Query", ctx, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(page2, nil).Once()

	docs, err := newTestDynamo(api).ListDocuments(ctx, CollectionPosts, Query{Limit: 2}.Where("creator", "u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, docIDs(docs))
	api.AssertExpectations(t)
}

func TestDynamoListEmptyInFilter(t *testing.T) {
	api := new(MockDynamo)
	docs, err := newTestDynamo(api).ListDocuments(context.Background(), CollectionUsers,
		Query{In: &InFilter{Field: FieldID, Values: nil}})
	require.NoError(t, err)
	assert.Empty(t, docs)
	api.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestDynamoErrorClassification(t *testing.T) {
	tests := []struct {
		code string
		want appErrors.Kind
	}{
		{"ThrottlingException", appErrors.KindUnavailable},
		{"ResourceNotFoundException", appErrors.KindUnavailable},
		{"ValidationException", appErrors.KindValidation},
		{"AccessDeniedException", appErrors.KindForbidden},
		{"InternalServerError", appErrors.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := dynamoError(&smithy.GenericAPIError{Code: tt.code, Message: "x"}, "Query", CollectionPosts)
			assert.Equal(t, tt.want, appErrors.KindOf(err))
		})
	}
}

func TestBuildFilter(t *testing.T) {
	_, ok := buildFilter(Query{})
	assert.False(t, ok)

	_, ok = buildFilter(Query{
		Equal:  []Filter{{Field: "creator", Value: "u1"}},
		In:     &InFilter{Field: FieldID, Values: []string{"a", "b"}},
		Search: &Search{Field: "caption", Term: "Beach"},
	})
	assert.True(t, ok)
}
