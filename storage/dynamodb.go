package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ephemhq/ephem/models"
)

// DynamoStore implements ResourceStore using DynamoDB. The table uses
// partition key "kind" and sort key "slug"; file payloads are stored as
// items under a "payload#<kind>" partition. A TTL attribute mirrors
// expires_at as a backstop for deployments where the sweeper does not run
// (Lambda mode).
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoStore creates a new DynamoDB storage backend.
func NewDynamoStore(tableName, region string) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &DynamoStore{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

func (d *DynamoStore) key(kind models.Kind, slug string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"kind": &types.AttributeValueMemberS{Value: string(kind)},
		"slug": &types.AttributeValueMemberS{Value: slug},
	}
}

func resourceToItem(res *models.Resource) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"kind":        &types.AttributeValueMemberS{Value: string(res.Kind)},
		"slug":        &types.AttributeValueMemberS{Value: res.Slug},
		"created_at":  &types.AttributeValueMemberN{Value: strconv.FormatInt(res.CreatedAt.Unix(), 10)},
		"usage_count": &types.AttributeValueMemberN{Value: strconv.FormatInt(res.UsageCount, 10)},
		"size":        &types.AttributeValueMemberN{Value: strconv.FormatInt(res.Size, 10)},
	}
	if res.ExpiresAt != nil {
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(res.ExpiresAt.Unix(), 10)}
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(res.ExpiresAt.Unix(), 10)}
	}
	if res.UsageCeiling > 0 {
		item["usage_ceiling"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(res.UsageCeiling, 10)}
	}
	if res.PasswordHash != "" {
		item["password_hash"] = &types.AttributeValueMemberS{Value: res.PasswordHash}
	}
	if res.ContentType != "" {
		item["content_type"] = &types.AttributeValueMemberS{Value: res.ContentType}
	}
	if res.Filename != "" {
		item["filename"] = &types.AttributeValueMemberS{Value: res.Filename}
	}
	if res.TargetURL != "" {
		item["target_url"] = &types.AttributeValueMemberS{Value: res.TargetURL}
	}
	if len(res.Content) > 0 {
		item["content"] = &types.AttributeValueMemberB{Value: res.Content}
	}
	return item
}

func itemToResource(item map[string]types.AttributeValue) (*models.Resource, error) {
	res := &models.Resource{}

	getS := func(name string) string {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}
	getN := func(name string) (int64, error) {
		v, ok := item[name].(*types.AttributeValueMemberN)
		if !ok {
			return 0, nil
		}
		return strconv.ParseInt(v.Value, 10, 64)
	}

	res.Kind = models.Kind(getS("kind"))
	res.Slug = getS("slug")
	res.PasswordHash = getS("password_hash")
	res.ContentType = getS("content_type")
	res.Filename = getS("filename")
	res.TargetURL = getS("target_url")

	created, err := getN("created_at")
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	res.CreatedAt = time.Unix(created, 0)

	if _, ok := item["expires_at"]; ok {
		exp, err := getN("expires_at")
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		t := time.Unix(exp, 0)
		res.ExpiresAt = &t
	}

	if res.UsageCount, err = getN("usage_count"); err != nil {
		return nil, fmt.Errorf("parse usage_count: %w", err)
	}
	if res.UsageCeiling, err = getN("usage_ceiling"); err != nil {
		return nil, fmt.Errorf("parse usage_ceiling: %w", err)
	}
	if res.Size, err = getN("size"); err != nil {
		return nil, fmt.Errorf("parse size: %w", err)
	}

	if v, ok := item["content"].(*types.AttributeValueMemberB); ok {
		res.Content = v.Value
	}
	return res, nil
}

// Create puts the item with an attribute_not_exists condition, which is the
// authoritative collision check: a concurrent create of the same (kind,
// slug) loses with ErrSlugTaken instead of overwriting.
func (d *DynamoStore) Create(ctx context.Context, res *models.Resource) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                resourceToItem(res),
		ConditionExpression: aws.String("attribute_not_exists(slug)"),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return ErrSlugTaken
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a resource by kind and slug.
func (d *DynamoStore) Get(ctx context.Context, kind models.Kind, slug string) (*models.Resource, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(kind, slug),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return itemToResource(result.Item)
}

// Exists reports whether a record exists for the kind and slug.
func (d *DynamoStore) Exists(ctx context.Context, kind models.Kind, slug string) (bool, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.tableName),
		Key:                  d.key(kind, slug),
		ProjectionExpression: aws.String("slug"),
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.Item != nil, nil
}

// Delete removes a resource record.
func (d *DynamoStore) Delete(ctx context.Context, kind models.Kind, slug string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(kind, slug),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IncrementUsage runs the conditional increment as one UpdateItem: the
// ceiling condition and the ADD are evaluated server-side in a single
// operation.
func (d *DynamoStore) IncrementUsage(ctx context.Context, kind models.Kind, slug string) (int64, error) {
	result, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 d.key(kind, slug),
		UpdateExpression:    aws.String("ADD usage_count :one"),
		ConditionExpression: aws.String("attribute_exists(slug) AND (attribute_not_exists(usage_ceiling) OR usage_count < usage_ceiling)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if !errors.As(err, &condFailed) {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		exists, existsErr := d.Exists(ctx, kind, slug)
		if existsErr != nil {
			return 0, existsErr
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrCeilingReached
	}

	return usageCountFromAttributes(result.Attributes)
}

func usageCountFromAttributes(attrs map[string]types.AttributeValue) (int64, error) {
	countAttr, ok := attrs["usage_count"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: usage_count missing from update response", ErrUnavailable)
	}
	return strconv.ParseInt(countAttr.Value, 10, 64)
}

// queryKind pages through all items of a kind, applying an optional filter
// expression, and calls fn for each item.
func (d *DynamoStore) queryKind(ctx context.Context, kind models.Kind, filter *string, values map[string]types.AttributeValue, fn func(map[string]types.AttributeValue) error) error {
	if values == nil {
		values = map[string]types.AttributeValue{}
	}
	values[":kind"] = &types.AttributeValueMemberS{Value: string(kind)}

	var startKey map[string]types.AttributeValue
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(d.tableName),
			KeyConditionExpression:    aws.String("kind = :kind"),
			FilterExpression:          filter,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if out.LastEvaluatedKey == nil {
			return nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// FindDead returns up to limit expired or exhausted records of the kind.
func (d *DynamoStore) FindDead(ctx context.Context, kind models.Kind, now time.Time, limit int) ([]*models.Resource, error) {
	filter := aws.String("expires_at <= :now OR (attribute_exists(usage_ceiling) AND usage_count >= usage_ceiling)")
	values := map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	}

	var dead []*models.Resource
	err := d.queryKind(ctx, kind, filter, values, func(item map[string]types.AttributeValue) error {
		if len(dead) >= limit {
			return nil
		}
		res, err := itemToResource(item)
		if err != nil {
			return err
		}
		dead = append(dead, res)
		return nil
	})
	return dead, err
}

func (d *DynamoStore) deleteMatching(ctx context.Context, kind models.Kind, filter string, values map[string]types.AttributeValue) (int64, error) {
	var deleted int64
	err := d.queryKind(ctx, kind, aws.String(filter), values, func(item map[string]types.AttributeValue) error {
		slugAttr, ok := item["slug"].(*types.AttributeValueMemberS)
		if !ok {
			return nil
		}
		if err := d.Delete(ctx, kind, slugAttr.Value); err != nil {
			return err
		}
		deleted++
		return nil
	})
	return deleted, err
}

// DeleteExpired bulk-deletes records whose expiry is at or before now.
func (d *DynamoStore) DeleteExpired(ctx context.Context, kind models.Kind, now time.Time) (int64, error) {
	return d.deleteMatching(ctx, kind, "expires_at <= :now", map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	})
}

// DeleteExhausted bulk-deletes records that have reached their ceiling.
func (d *DynamoStore) DeleteExhausted(ctx context.Context, kind models.Kind) (int64, error) {
	return d.deleteMatching(ctx, kind, "attribute_exists(usage_ceiling) AND usage_count >= usage_ceiling", nil)
}

// DeleteIdle bulk-deletes never-used records created before the given time.
func (d *DynamoStore) DeleteIdle(ctx context.Context, kind models.Kind, before time.Time) (int64, error) {
	return d.deleteMatching(ctx, kind, "usage_count = :zero AND created_at < :before", map[string]types.AttributeValue{
		":zero":   &types.AttributeValueMemberN{Value: "0"},
		":before": &types.AttributeValueMemberN{Value: strconv.FormatInt(before.Unix(), 10)},
	})
}

func payloadKind(kind models.Kind) models.Kind {
	return models.Kind("payload#" + string(kind))
}

// StorePayload saves out-of-band content as a payload item. DynamoDB's
// 400KB item limit applies; larger files belong on the filesystem/S3
// backend.
func (d *DynamoStore) StorePayload(ctx context.Context, kind models.Kind, slug string, content []byte) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]types.AttributeValue{
			"kind":    &types.AttributeValueMemberS{Value: string(payloadKind(kind))},
			"slug":    &types.AttributeValueMemberS{Value: slug},
			"content": &types.AttributeValueMemberB{Value: content},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetPayload retrieves out-of-band content.
func (d *DynamoStore) GetPayload(ctx context.Context, kind models.Kind, slug string) ([]byte, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(payloadKind(kind), slug),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	if v, ok := result.Item["content"].(*types.AttributeValueMemberB); ok {
		return v.Value, nil
	}
	return nil, ErrNotFound
}

// DeletePayload removes out-of-band content. Idempotent.
func (d *DynamoStore) DeletePayload(ctx context.Context, kind models.Kind, slug string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(payloadKind(kind), slug),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close is a no-op for the DynamoDB backend.
func (d *DynamoStore) Close() error {
	return nil
}
