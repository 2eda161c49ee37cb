// ABOUTME: DynamoDB-backed Store using conditional PutItem for set-if-absent
// ABOUTME: Expiry is stored per item and enforced on read since table TTL is lazy

package kvstore

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
)

const (
	attrKey     = "pk"
	attrValue   = "val"
	attrExpires = "expires_at"
)

// dynamoAPI is the subset of *dynamodb.Client used by Dynamo.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Dynamo implements Store on a DynamoDB table with a string partition key "pk".
// Enable DynamoDB TTL on "expires_at" to reclaim storage.
type Dynamo struct {
	api   dynamoAPI
	table string
	now   func() time.Time
}

// NewDynamo loads the default AWS configuration and returns a store on table.
func NewDynamo(ctx context.Context, table, region string) (*Dynamo, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return newDynamo(dynamodb.NewFromConfig(cfg), table)
}

func newDynamo(api dynamoAPI, table string) (*Dynamo, error) {
	if api == nil {
		return nil, errors.New("kvstore: dynamodb api must not be nil")
	}
	if table == "" {
		return nil, errors.New("kvstore: dynamodb table is required")
	}
	return &Dynamo{api: api, table: table, now: time.Now}, nil
}

func (d *Dynamo) item(key, value string, ttl time.Duration) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey:     &types.AttributeValueMemberS{Value: key},
		attrValue:   &types.AttributeValueMemberS{Value: value},
		attrExpires: &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Add(ttl).Unix(), 10)},
	}
}

func (d *Dynamo) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                d.item(key, value, ttl),
		ConditionExpression: aws.String("attribute_not_exists(#pk) OR #exp <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  attrKey,
			"#exp": attrExpires,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Unix(), 10)},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dynamodb conditional put %s: %w", key, err)
	}
	return true, nil
}

func (d *Dynamo) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("dynamodb get %s: %w", key, err)
	}
	if out == nil || out.Item == nil {
		return "", false, nil
	}

	if exp, ok := out.Item[attrExpires].(*types.AttributeValueMemberN); ok {
		unix, err := strconv.ParseInt(exp.Value, 10, 64)
		if err != nil {
			return "", false, fmt.Errorf("dynamodb item %s: bad expiry %q: %w", key, exp.Value, err)
		}
		if d.now().Unix() >= unix {
			return "", false, nil
		}
	}

	val, ok := out.Item[attrValue].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("dynamodb item %s: missing value", key)
	}
	return val.Value, true, nil
}

func (d *Dynamo) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      d.item(key, value, ttl),
	})
	if err != nil {
		return fmt.Errorf("dynamodb put %s: %w", key, err)
	}
	return nil
}

func (d *Dynamo) Delete(ctx context.Context, key string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       map[string]types.AttributeValue{attrKey: &types.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the AWS client holds no resources that need releasing.
func (d *Dynamo) Close() error {
	return nil
}
