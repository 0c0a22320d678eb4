// Package services is the Durable Record Store: a typed repository over
// the persisted User, Challenge, and Session entities, backed by
// DynamoDB. Adapted from the teacher's services/DynamoServices.go thin
// client wrapper; this file keeps the primitives every table-specific
// repository in this package is built from.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// ErrNotFound is returned by GetItem-style calls when no item matches the
// key; callers map it to apierr.NotFound.
var ErrNotFound = errors.New("services: item not found")

// ErrConditionFailed is returned when a conditional write's guard did not
// hold — the Challenge State Machine's primary defense against illegal or
// racing transitions. Callers map it to apierr.Conflict.
var ErrConditionFailed = errors.New("services: condition check failed")

type DynamoStore struct {
	Client *dynamodb.Client
	log    *zap.Logger
}

// NewDynamoClient loads the default AWS config and region the teacher's
// InitializeDynamoDBClient used, but returns the error instead of calling
// log.Fatalf so the caller (main) controls process lifecycle.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("services: load aws config: %w", err)
	}
	if endpoint != "" {
		return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		}), nil
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func NewDynamoStore(client *dynamodb.Client, log *zap.Logger) *DynamoStore {
	return &DynamoStore{Client: client, log: log}
}

func (d *DynamoStore) PutItem(ctx context.Context, tableName string, item interface{}) error {
	marshaled, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("services: marshal item for %q: %w", tableName, err)
	}
	_, err = d.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      marshaled,
	})
	if err != nil {
		return fmt.Errorf("services: put item in %q: %w", tableName, err)
	}
	return nil
}

func (d *DynamoStore) GetItem(ctx context.Context, tableName string, key map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	out, err := d.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("services: get item from %q: %w", tableName, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// ConditionalUpdate runs an UpdateItem guarded by conditionExpression,
// translating a ConditionalCheckFailedException into ErrConditionFailed
// so every state transition in this package shares one failure path.
func (d *DynamoStore) ConditionalUpdate(
	ctx context.Context,
	tableName string,
	key map[string]types.AttributeValue,
	updateExpression string,
	conditionExpression string,
	values map[string]types.AttributeValue,
	names map[string]string,
) (map[string]types.AttributeValue, error) {
	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName),
		Key:                       key,
		UpdateExpression:          aws.String(updateExpression),
		ExpressionAttributeValues: values,
		ExpressionAttributeNames:  names,
		ReturnValues:              types.ReturnValueAllNew,
	}
	if conditionExpression != "" {
		input.ConditionExpression = aws.String(conditionExpression)
	}

	out, err := d.Client.UpdateItem(ctx, input)
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrConditionFailed
		}
		return nil, fmt.Errorf("services: update item in %q: %w", tableName, err)
	}
	return out.Attributes, nil
}

func (d *DynamoStore) DeleteItem(ctx context.Context, tableName string, key map[string]types.AttributeValue) error {
	_, err := d.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName),
		Key:       key,
	})
	if err != nil {
		return fmt.Errorf("services: delete item from %q: %w", tableName, err)
	}
	return nil
}

func (d *DynamoStore) Query(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	out, err := d.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("services: query %q: %w", aws.ToString(input.TableName), err)
	}
	return out.Items, nil
}

func (d *DynamoStore) Scan(ctx context.Context, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	out, err := d.Client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("services: scan %q: %w", aws.ToString(input.TableName), err)
	}
	return out.Items, nil
}

// BatchDelete removes up to 25 items per round trip, the teacher's
// BatchWriteItems batching discipline applied to deletes instead of puts.
func (d *DynamoStore) BatchDelete(ctx context.Context, tableName string, keys []map[string]types.AttributeValue) (int, error) {
	const maxBatch = 25
	deleted := 0
	for i := 0; i < len(keys); i += maxBatch {
		end := i + maxBatch
		if end > len(keys) {
			end = len(keys)
		}
		var requests []types.WriteRequest
		for _, k := range keys[i:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: k},
			})
		}
		_, err := d.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{tableName: requests},
		})
		if err != nil {
			return deleted, fmt.Errorf("services: batch delete from %q: %w", tableName, err)
		}
		deleted += len(requests)
	}
	return deleted, nil
}
