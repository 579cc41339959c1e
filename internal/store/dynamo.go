package store

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
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkArtifact = "ARTIFACT#"
	pkRun      = "RUN#"
	skMeta     = "META"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore implements ArtifactStore using AWS DynamoDB. Artifacts and
// runs share one table; PK distinguishes the record type.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ ArtifactStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// marshalItem marshals a record and adds its key attributes.
func marshalItem(pk string, data interface{}) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	return item, nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s: %w", pk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s: %w", pk, err)
	}
	return true, nil
}

// --- Artifact operations ---

func (s *DynamoStore) GetArtifact(ctx context.Context, id string) (*Artifact, error) {
	var a Artifact
	found, err := s.getItem(ctx, pkArtifact+id, &a)
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	a.ID = id
	return &a, nil
}

func (s *DynamoStore) CreateArtifact(ctx context.Context, a *Artifact) (bool, error) {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	item, err := marshalItem(pkArtifact+a.ID, a)
	if err != nil {
		return false, fmt.Errorf("create artifact %s: %w", a.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().Str("artifactId", a.ID).Msg("Artifact already exists, conditional put skipped")
			return false, nil
		}
		return false, fmt.Errorf("create artifact %s: PutItem: %w", a.ID, err)
	}

	log.Debug().
		Str("artifactId", a.ID).
		Str("ownerId", a.OwnerID).
		Bool("degraded", a.Degraded).
		Msg("Artifact persisted to DynamoDB")
	return true, nil
}

// --- Run operations ---

func (s *DynamoStore) PutRun(ctx context.Context, run *Run) error {
	now := time.Now()
	if run.CreatedAt == 0 {
		run.CreatedAt = now.Unix()
	}
	run.UpdatedAt = now.Unix()

	item, err := marshalItem(pkRun+run.ID, run)
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.ID, err)
	}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(RunTTL).Unix(), 10)}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put run %s: PutItem: %w", run.ID, err)
	}

	log.Debug().Str("runId", run.ID).Str("state", run.State).Msg("Run persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	found, err := s.getItem(ctx, pkRun+id, &run)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	run.ID = id
	return &run, nil
}
