package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	appErrors "snapgram/internal/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// DYNAMODB DOCUMENT DRIVER
// ============================================================================
//
// Table layout (single table):
//
//	PK  collection   (S)
//	SK  id           (S)
//	GSI <index>: PK collection, SK updated_key = <sortable updated_at>#<id>
//
// Fields live in the `data` map. String fields are also kept lowercased in
// the `lc` map so search can run as a contains() filter.

// DynamoAPI is the subset of the DynamoDB client the driver uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoConfig configures the DynamoDB driver.
type DynamoConfig struct {
	Table    string
	Index    string
	Region   string
	Endpoint string
}

// DynamoDocuments implements Documents on a DynamoDB table.
type DynamoDocuments struct {
	client DynamoAPI
	table  string
	index  string
	logger *zap.Logger
	now    func() time.Time
}

type dynamoItem struct {
	Collection string            `dynamodbav:"collection"`
	ID         string            `dynamodbav:"id"`
	CreatedAt  string            `dynamodbav:"created_at"`
	UpdatedAt  string            `dynamodbav:"updated_at"`
	UpdatedKey string            `dynamodbav:"updated_key"`
	Data       map[string]any    `dynamodbav:"data"`
	LC         map[string]string `dynamodbav:"lc,omitempty"`
}

// NewDynamoClient builds a client from the default AWS credential chain.
// Endpoint overrides the service URL, used with DynamoDB Local.
func NewDynamoClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	opts := []func(*awsConfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewDynamoDocuments creates the driver.
func NewDynamoDocuments(client DynamoAPI, cfg DynamoConfig, logger *zap.Logger) *DynamoDocuments {
	index := cfg.Index
	if index == "" {
		index = "by_updated"
	}
	return &DynamoDocuments{
		client: client,
		table:  cfg.Table,
		index:  index,
		logger: logger.Named("dynamodb"),
		now:    time.Now,
	}
}

// ----------------------------------------------------------------------------
// CRUD
// ----------------------------------------------------------------------------

func (d *DynamoDocuments) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key:       d.key(collection, id),
	})
	if err != nil {
		return Document{}, dynamoError(err, "GetItem", collection)
	}
	if out.Item == nil {
		return Document{}, documentNotFound(collection, id)
	}
	return parseItem(out.Item)
}

func (d *DynamoDocuments) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := d.now().UTC()
	item := dynamoItem{
		Collection: collection,
		ID:         id,
		CreatedAt:  now.Format(time.RFC3339Nano),
		UpdatedAt:  now.Format(time.RFC3339Nano),
		UpdatedKey: updatedKey(now, id),
		Data:       cloneData(data),
		LC:         lowercased(data),
	}
	if err := d.put(ctx, item, expression.AttributeNotExists(expression.Name(FieldID))); err != nil {
		if isConditionFailed(err) {
			return Document{}, appErrors.Conflict("DOCUMENT_EXISTS", "Document already exists.").
				WithContext("collection", collection).WithContext("id", id).Build()
		}
		return Document{}, dynamoError(err, "PutItem", collection)
	}
	return item.document(), nil
}

// UpdateDocument merges data into the stored fields. The write is conditional
// on the item still existing.
func (d *DynamoDocuments) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	current, err := d.GetDocument(ctx, collection, id)
	if err != nil {
		return Document{}, err
	}
	merged := cloneData(current.Data)
	for k, v := range cloneData(data) {
		merged[k] = v
	}
	now := d.now().UTC()
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Microsecond)
	}
	item := dynamoItem{
		Collection: collection,
		ID:         id,
		CreatedAt:  current.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  now.Format(time.RFC3339Nano),
		UpdatedKey: updatedKey(now, id),
		Data:       merged,
		LC:         lowercased(merged),
	}
	if err := d.put(ctx, item, expression.AttributeExists(expression.Name(FieldID))); err != nil {
		if isConditionFailed(err) {
			return Document{}, documentNotFound(collection, id)
		}
		return Document{}, dynamoError(err, "PutItem", collection)
	}
	return item.document(), nil
}

func (d *DynamoDocuments) DeleteDocument(ctx context.Context, collection, id string) error {
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name(FieldID))).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build delete condition: %w", err)
	}
	_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(d.table),
		Key:                       d.key(collection, id),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return documentNotFound(collection, id)
		}
		return dynamoError(err, "DeleteItem", collection)
	}
	return nil
}

// ----------------------------------------------------------------------------
// QUERY
// ----------------------------------------------------------------------------

// ListDocuments pages through the collection until Limit matches are found.
// Ordering by updated_at uses the GSI; other columns are sorted client side.
func (d *DynamoDocuments) ListDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	if q.In != nil && len(q.In.Values) == 0 {
		return []Document{}, nil
	}
	if q.OrderColumn() != FieldUpdatedAt {
		return d.listSorted(ctx, collection, q)
	}

	keyCond := expression.Key("collection").Equal(expression.Value(collection))
	if q.CursorAfter != "" {
		cursor, err := d.cursorKey(ctx, collection, q.CursorAfter)
		if err != nil {
			return nil, err
		}
		keyCond = keyCond.And(expression.Key("updated_key").LessThan(expression.Value(cursor)))
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if filter, ok := buildFilter(q); ok {
		builder = builder.WithFilter(filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		IndexName:                 aws.String(d.index),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}

	docs := make([]Document, 0, q.Limit)
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, dynamoError(err, "Query", collection)
		}
		for _, raw := range out.Items {
			doc, err := parseItem(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
			if q.Limit > 0 && len(docs) == q.Limit {
				return docs, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// listSorted reads every matching item of the collection and applies order,
// cursor and limit in memory. Only small collections are ordered this way.
func (d *DynamoDocuments) listSorted(ctx context.Context, collection string, q Query) ([]Document, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key("collection").Equal(expression.Value(collection)))
	if filter, ok := buildFilter(q); ok {
		builder = builder.WithFilter(filter)
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var docs []Document
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, dynamoError(err, "Query", collection)
		}
		for _, raw := range out.Items {
			doc, err := parseItem(raw)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	column := q.OrderColumn()
	sort.Slice(docs, func(i, j int) bool {
		a, b := orderValue(docs[i], column), orderValue(docs[j], column)
		if a != b {
			return a > b
		}
		return docs[i].ID > docs[j].ID
	})
	if q.CursorAfter != "" {
		idx := -1
		for i, doc := range docs {
			if doc.ID == q.CursorAfter {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, appErrors.NotFound("CURSOR_NOT_FOUND", "Cursor document not found.").
				WithContext("cursor", q.CursorAfter).Build()
		}
		docs = docs[idx+1:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

func (d *DynamoDocuments) cursorKey(ctx context.Context, collection, id string) (string, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.table),
		Key:                  d.key(collection, id),
		ProjectionExpression: aws.String("updated_key"),
	})
	if err != nil {
		return "", dynamoError(err, "GetItem", collection)
	}
	var item struct {
		UpdatedKey string `dynamodbav:"updated_key"`
	}
	if out.Item != nil {
		if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
			return "", fmt.Errorf("failed to unmarshal cursor: %w", err)
		}
	}
	if item.UpdatedKey == "" {
		return "", appErrors.NotFound("CURSOR_NOT_FOUND", "Cursor document not found.").
			WithContext("cursor", id).Build()
	}
	return item.UpdatedKey, nil
}

// buildFilter translates the equality, membership and search parts of q.
func buildFilter(q Query) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	for _, f := range q.Equal {
		conds = append(conds, expression.Name(dataPath(f.Field)).Equal(expression.Value(f.Value)))
	}
	for _, f := range q.Contains {
		conds = append(conds, expression.Name(dataPath(f.Field)).Contains(f.Value))
	}
	if q.In != nil {
		operands := make([]expression.OperandBuilder, 0, len(q.In.Values))
		for _, v := range q.In.Values[1:] {
			operands = append(operands, expression.Value(v))
		}
		conds = append(conds, expression.Name(dataPath(q.In.Field)).In(expression.Value(q.In.Values[0]), operands...))
	}
	if q.Search != nil {
		conds = append(conds, expression.Name("lc."+q.Search.Field).Contains(strings.ToLower(q.Search.Term)))
	}

	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func (d *DynamoDocuments) key(collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		FieldID:      &types.AttributeValueMemberS{Value: id},
	}
}

func (d *DynamoDocuments) put(ctx context.Context, item dynamoItem, cond expression.ConditionBuilder) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build put condition: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.table),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

func (it dynamoItem) document() Document {
	created, _ := time.Parse(time.RFC3339Nano, it.CreatedAt)
	updated, _ := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	data := it.Data
	if data == nil {
		data = map[string]any{}
	}
	return Document{
		ID:         it.ID,
		Collection: it.Collection,
		CreatedAt:  created.UTC(),
		UpdatedAt:  updated.UTC(),
		Data:       cloneData(data),
	}
}

func parseItem(raw map[string]types.AttributeValue) (Document, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return it.document(), nil
}

func dataPath(field string) string {
	if field == FieldID {
		return FieldID
	}
	return "data." + field
}

func updatedKey(t time.Time, id string) string {
	return t.UTC().Format(sortableTime) + "#" + id
}

func lowercased(data map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range data {
		if s, ok := v.(string); ok && s != "" {
			out[k] = strings.ToLower(s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// dynamoError converts DynamoDB API errors to AppError values.
func dynamoError(err error, operation, collection string) error {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.ErrorCode() {
	case "ResourceNotFoundException":
		return appErrors.Unavailable("TABLE_NOT_FOUND", "Document table not found.").
			WithOp(operation).WithContext("collection", collection).WithCause(err).Build()
	case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException":
		return appErrors.Unavailable("THROUGHPUT_EXCEEDED", "Document store is throttling requests.").
			WithOp(operation).WithContext("collection", collection).WithCause(err).Build()
	case "ValidationException":
		return appErrors.Validation("INVALID_REQUEST", "Document store rejected the request.").
			WithOp(operation).WithContext("collection", collection).WithCause(err).Build()
	case "AccessDeniedException", "UnrecognizedClientException":
		return appErrors.Forbidden("ACCESS_DENIED", "Access to the document store was denied.").
			WithOp(operation).WithContext("collection", collection).WithCause(err).Build()
	default:
		return appErrors.Internal("DYNAMODB_ERROR", ae.ErrorMessage()).
			WithOp(operation).WithContext("collection", collection).WithCause(err).Build()
	}
}
