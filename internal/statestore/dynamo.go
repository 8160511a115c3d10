package statestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// stateRecord is the item layout: the snapshot is stored as a JSON string
// so the open customer details survive unchanged.
type stateRecord struct {
	SessionID string `dynamodbav:"sessionId"`
	Version   int64  `dynamodbav:"version"`
	Stage     string `dynamodbav:"stage"`
	State     string `dynamodbav:"state"`
	UpdatedAt string `dynamodbav:"updatedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore keeps one session's snapshot as a DynamoDB item. Updates are
// conditional on the version read, retried on conflict.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	sessionID string
	ttl       time.Duration
	retries   int
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client DynamoAPI, tableName, sessionID string, ttl time.Duration, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("statestore: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("statestore: table name cannot be empty")
	}
	if sessionID == "" {
		panic("statestore: session id cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		sessionID: sessionID,
		ttl:       ttl,
		retries:   defaultUpdateRetries,
		logger:    logger,
	}
}

func (s *DynamoStore) Location() string {
	return fmt.Sprintf("dynamodb://%s/%s", s.tableName, s.sessionID)
}

func (s *DynamoStore) Load(ctx context.Context, template *loan.State) (*loan.State, error) {
	ctx, span := tracer.Start(ctx, "statestore.dynamo.load")
	defer span.End()

	item, err := s.get(ctx)
	if err != nil {
		span.RecordError(err)
		return template, err
	}
	if item.state == nil {
		return template, nil
	}
	return item.state, nil
}

func (s *DynamoStore) Save(ctx context.Context, state *loan.State) error {
	ctx, span := tracer.Start(ctx, "statestore.dynamo.save")
	defer span.End()

	if state == nil {
		return errors.New("statestore: state cannot be nil")
	}
	stamp(state)
	input, err := s.putInput(state)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: failed to persist state: %w", err)
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, template *loan.State, fn MutateFunc) (*loan.State, bool, error) {
	ctx, span := tracer.Start(ctx, "statestore.dynamo.update")
	defer span.End()

	for attempt := 0; attempt < s.retries; attempt++ {
		item, err := s.get(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, false, err
		}
		current := item.state
		if current == nil {
			current = startingPoint(template)
		}
		if current == nil {
			return nil, false, nil
		}
		if item.version > current.Version {
			current.Version = item.version
		}

		changed, err := fn(current)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return current, false, nil
		}
		stamp(current)
		input, err := s.putInput(current)
		if err != nil {
			return nil, false, err
		}
		switch {
		case !item.exists:
			input.ConditionExpression = aws.String("attribute_not_exists(sessionId)")
		case item.versioned:
			input.ConditionExpression = aws.String("#version = :expected")
			input.ExpressionAttributeNames = map[string]string{"#version": "version"}
			input.ExpressionAttributeValues = map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(item.version, 10)},
			}
		default:
			input.ConditionExpression = aws.String("attribute_not_exists(#version)")
			input.ExpressionAttributeNames = map[string]string{"#version": "version"}
		}

		_, err = s.client.PutItem(ctx, input)
		if err == nil {
			return current, true, nil
		}
		var conflict *types.ConditionalCheckFailedException
		if !errors.As(err, &conflict) {
			span.RecordError(err)
			return nil, false, fmt.Errorf("statestore: update %s: %w", s.sessionID, err)
		}
		s.logger.Debug("dynamodb state update lost race, retrying", "session_id", s.sessionID, "attempt", attempt+1)
	}
	span.RecordError(ErrConflict)
	return nil, false, ErrConflict
}

// storedItem is what a read found. An item whose snapshot does not decode
// still exists and keeps its version, so the next conditional write can
// replace it.
type storedItem struct {
	state     *loan.State
	version   int64
	exists    bool
	versioned bool
}

func (s *DynamoStore) get(ctx context.Context) (storedItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"sessionId": &types.AttributeValueMemberS{Value: s.sessionID},
		},
	})
	if err != nil {
		return storedItem{}, fmt.Errorf("statestore: failed to fetch state: %w", err)
	}
	if out.Item == nil {
		return storedItem{}, nil
	}
	item := storedItem{exists: true}
	item.version, item.versioned = rawVersion(out.Item)

	var rec stateRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		s.logger.Warn("ignoring unreadable state item", "session_id", s.sessionID, "error", err)
		return item, nil
	}
	state, err := decode([]byte(rec.State))
	if err != nil {
		s.logger.Warn("ignoring unreadable state snapshot", "session_id", s.sessionID, "version", item.version, "error", err)
		return item, nil
	}
	state.Version = item.version
	item.state = state
	return item, nil
}

func rawVersion(item map[string]types.AttributeValue) (int64, bool) {
	var version int64
	attr, ok := item["version"]
	if !ok {
		return 0, false
	}
	if err := attributevalue.Unmarshal(attr, &version); err != nil {
		return 0, false
	}
	return version, true
}

func (s *DynamoStore) putInput(state *loan.State) (*dynamodb.PutItemInput, error) {
	data, err := encode(state)
	if err != nil {
		return nil, err
	}
	rec := stateRecord{
		SessionID: s.sessionID,
		Version:   state.Version,
		Stage:     string(state.Stage),
		State:     string(data),
		UpdatedAt: state.LastUpdated.Format(time.RFC3339Nano),
	}
	if s.ttl > 0 {
		rec.ExpiresAt = state.LastUpdated.Add(s.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("statestore: failed to marshal state item: %w", err)
	}
	return &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}, nil
}

// DynamoSource lists every session snapshot in the table.
type DynamoSource struct {
	Client    DynamoAPI
	TableName string
	TTL       time.Duration
	Logger    *logging.Logger
}

func (d DynamoSource) Stores(ctx context.Context) ([]Store, error) {
	var (
		out   []Store
		start map[string]types.AttributeValue
	)
	for {
		page, err := d.Client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.TableName),
			ProjectionExpression: aws.String("sessionId"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return nil, fmt.Errorf("statestore: scan sessions: %w", err)
		}
		for _, item := range page.Items {
			var rec stateRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil || rec.SessionID == "" {
				continue
			}
			out = append(out, NewDynamoStore(d.Client, d.TableName, rec.SessionID, d.TTL, d.Logger))
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}
