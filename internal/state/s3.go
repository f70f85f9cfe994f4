package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/converge-io/converge/internal/ir"
)

// s3Store keeps the snapshot in an S3 object, with optional DynamoDB
// locking.
type s3Store struct {
	bucket        string
	key           string
	region        string
	dynamoDBTable string
	encrypt       bool
	profile       string

	s3Client *s3.Client
	dbClient *dynamodb.Client
	holder   string
}

func newS3Store(options map[string]string) (Store, error) {
	bucket := options["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	key := options["key"]
	if key == "" {
		key = "converge/state.json"
	}

	region := options["region"]
	if region == "" {
		region = "us-east-1"
	}

	b := &s3Store{
		bucket:        bucket,
		key:           key,
		region:        region,
		dynamoDBTable: options["dynamodb_table"],
		encrypt:       options["encrypt"] == "true",
		profile:       options["profile"],
	}

	if err := b.initClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize s3 backend: %w", err)
	}
	return b, nil
}

func (b *s3Store) initClients() error {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(b.region))
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.s3Client = s3.NewFromConfig(cfg)
	if b.dynamoDBTable != "" {
		b.dbClient = dynamodb.NewFromConfig(cfg)
	}
	return nil
}

func (b *s3Store) Load(ctx context.Context) (*ir.Snapshot, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		// A missing object means no state yet.
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return ir.NewSnapshot(), nil
		}
		// Also handle 404 via the error message for S3 API variations
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return ir.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("failed to read state from s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	plain, err := DecryptState(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt remote state: %w", err)
	}
	snap, err := DecodeSnapshot(plain)
	if err != nil {
		return nil, fmt.Errorf("s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return snap, nil
}

func (b *s3Store) Save(ctx context.Context, snap *ir.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	data, err = EncryptState(data)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Body:   bytes.NewReader(data),
	}
	if b.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

// Lock writes a lock item into DynamoDB. The conditional put succeeds
// when no lock exists or the existing one has expired, so an abandoned
// lock never blocks forever. Without a table configured, locking is a
// no-op.
func (b *s3Store) Lock(ctx context.Context, ttl time.Duration) error {
	if b.dynamoDBTable == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	now := time.Now().UTC()
	holder := uuid.New().String()
	_, err := b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.key},
			"Holder":  &dbtypes.AttributeValueMemberS{Value: holder},
			"Created": &dbtypes.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"Expires": &dbtypes.AttributeValueMemberS{Value: now.Add(ttl).Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID) OR Expires <= :now"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":now": &dbtypes.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return b.describeLock(ctx)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	b.holder = holder
	return nil
}

// describeLock reads the current lock item to report who holds it.
func (b *s3Store) describeLock(ctx context.Context) error {
	out, err := b.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
	})
	if err != nil || out.Item == nil {
		return &LockedError{}
	}

	locked := &LockedError{}
	if v, ok := out.Item["Holder"].(*dbtypes.AttributeValueMemberS); ok {
		locked.Holder = v.Value
	}
	if v, ok := out.Item["Created"].(*dbtypes.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			locked.Since = t
		}
	}
	if v, ok := out.Item["Expires"].(*dbtypes.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			locked.Expires = t
		}
	}
	return locked
}

// Unlock deletes the lock item, but only if this process still holds it.
// Losing the lock to a takeover after expiry is not an error.
func (b *s3Store) Unlock(ctx context.Context) error {
	if b.dynamoDBTable == "" || b.holder == "" {
		return nil
	}
	holder := b.holder
	b.holder = ""

	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
		ConditionExpression: aws.String("Holder = :holder"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":holder": &dbtypes.AttributeValueMemberS{Value: holder},
		},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
