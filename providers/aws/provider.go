// Package aws implements the AWS provider. It drives a small set of
// managed services through the v2 SDK, one client per service, all
// initialized lazily on first use so commands that never touch AWS run
// without credentials.
//
// Resource identifiers follow each service's natural handle: bucket,
// table, repository, parameter and log group names, queue URLs, topic
// and secret ARNs.
package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"

	"github.com/converge-io/converge/internal/provider"
)

const defaultRegion = "us-east-1"

const (
	typeBucket     = "aws_s3_bucket"
	typeTable      = "aws_dynamodb_table"
	typeQueue      = "aws_sqs_queue"
	typeTopic      = "aws_sns_topic"
	typeParameter  = "aws_ssm_parameter"
	typeSecret     = "aws_secretsmanager_secret"
	typeRepository = "aws_ecr_repository"
	typeLogGroup   = "aws_cloudwatch_log_group"
)

// None of these carry CreateBeforeDestroy: every one is addressed by an
// account-unique name, so a replacement cannot exist while the old
// resource still holds it.
var schemas = map[string]provider.TypeSchema{
	typeBucket:     {Type: typeBucket, Immutable: []string{"bucket"}},
	typeTable:      {Type: typeTable, Immutable: []string{"table_name", "attributes", "key_schema"}},
	typeQueue:      {Type: typeQueue, Immutable: []string{"queue_name", "fifo_queue"}},
	typeTopic:      {Type: typeTopic, Immutable: []string{"name", "fifo_topic"}},
	typeParameter:  {Type: typeParameter, Immutable: []string{"name"}},
	typeSecret:     {Type: typeSecret, Immutable: []string{"name"}},
	typeRepository: {Type: typeRepository, Immutable: []string{"repository_name"}},
	typeLogGroup:   {Type: typeLogGroup, Immutable: []string{"name"}},
}

type Provider struct {
	mu sync.Mutex

	s3Client             *s3.Client
	dynamodbClient       *dynamodb.Client
	sqsClient            *sqs.Client
	snsClient            *sns.Client
	ssmClient            *ssm.Client
	secretsmanagerClient *secretsmanager.Client
	ecrClient            *ecr.Client
	cloudwatchlogsClient *cloudwatchlogs.Client
}

var _ provider.Interface = (*Provider)(nil)

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.s3Client != nil {
		return nil
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = defaultRegion
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return fmt.Errorf("unable to load SDK config: %w", err)
	}

	p.s3Client = s3.NewFromConfig(cfg)
	p.dynamodbClient = dynamodb.NewFromConfig(cfg)
	p.sqsClient = sqs.NewFromConfig(cfg)
	p.snsClient = sns.NewFromConfig(cfg)
	p.ssmClient = ssm.NewFromConfig(cfg)
	p.secretsmanagerClient = secretsmanager.NewFromConfig(cfg)
	p.ecrClient = ecr.NewFromConfig(cfg)
	p.cloudwatchlogsClient = cloudwatchlogs.NewFromConfig(cfg)

	return nil
}

func (p *Provider) Name() string { return "aws" }

func (p *Provider) Schema(typ string) (provider.TypeSchema, error) {
	schema, ok := schemas[typ]
	if !ok {
		return provider.TypeSchema{}, fmt.Errorf("aws: unknown resource type %q", typ)
	}
	return schema, nil
}

func (p *Provider) Create(ctx context.Context, typ string, attrs map[string]any) (string, map[string]any, error) {
	if _, err := p.Schema(typ); err != nil {
		return "", nil, err
	}
	if err := p.ensureClients(ctx); err != nil {
		return "", nil, err
	}
	switch typ {
	case typeBucket:
		return p.createBucket(ctx, attrs)
	case typeTable:
		return p.createTable(ctx, attrs)
	case typeQueue:
		return p.createQueue(ctx, attrs)
	case typeTopic:
		return p.createTopic(ctx, attrs)
	case typeParameter:
		return p.createParameter(ctx, attrs)
	case typeSecret:
		return p.createSecret(ctx, attrs)
	case typeRepository:
		return p.createRepository(ctx, attrs)
	default:
		return p.createLogGroup(ctx, attrs)
	}
}

func (p *Provider) Read(ctx context.Context, typ, id string) (map[string]any, error) {
	if _, err := p.Schema(typ); err != nil {
		return nil, err
	}
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	switch typ {
	case typeBucket:
		return p.readBucket(ctx, id)
	case typeTable:
		return p.readTable(ctx, id)
	case typeQueue:
		return p.readQueue(ctx, id)
	case typeTopic:
		return p.readTopic(ctx, id)
	case typeParameter:
		return p.readParameter(ctx, id)
	case typeSecret:
		return p.readSecret(ctx, id)
	case typeRepository:
		return p.readRepository(ctx, id)
	default:
		return p.readLogGroup(ctx, id)
	}
}

func (p *Provider) Update(ctx context.Context, typ, id string, attrs map[string]any) (map[string]any, error) {
	if _, err := p.Schema(typ); err != nil {
		return nil, err
	}
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	switch typ {
	case typeBucket:
		return p.updateBucket(ctx, id, attrs)
	case typeTable:
		return p.updateTable(ctx, id, attrs)
	case typeQueue:
		return p.updateQueue(ctx, id, attrs)
	case typeTopic:
		return p.updateTopic(ctx, id, attrs)
	case typeParameter:
		return p.updateParameter(ctx, id, attrs)
	case typeSecret:
		return p.updateSecret(ctx, id, attrs)
	case typeRepository:
		return p.updateRepository(ctx, id, attrs)
	default:
		return p.updateLogGroup(ctx, id, attrs)
	}
}

func (p *Provider) Delete(ctx context.Context, typ, id string) error {
	if _, err := p.Schema(typ); err != nil {
		return err
	}
	if err := p.ensureClients(ctx); err != nil {
		return err
	}
	switch typ {
	case typeBucket:
		return p.deleteBucket(ctx, id)
	case typeTable:
		return p.deleteTable(ctx, id)
	case typeQueue:
		return p.deleteQueue(ctx, id)
	case typeTopic:
		return p.deleteTopic(ctx, id)
	case typeParameter:
		return p.deleteParameter(ctx, id)
	case typeSecret:
		return p.deleteSecret(ctx, id)
	case typeRepository:
		return p.deleteRepository(ctx, id)
	default:
		return p.deleteLogGroup(ctx, id)
	}
}

// errCode reports whether err is an AWS API error carrying one of the
// given codes.
func errCode(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, code := range codes {
		if ae.ErrorCode() == code {
			return true
		}
	}
	return false
}

// wrapErr folds SDK failures into the provider error taxonomy. Throttling
// comes back marked transient so the scheduler retries it.
func wrapErr(action string, err error) error {
	if errCode(err, "Throttling", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded", "ServiceUnavailable") {
		return provider.Transient(fmt.Errorf("%s: %w", action, err))
	}
	return fmt.Errorf("%s: %w", action, err)
}

// Attribute maps arrive JSON-shaped: strings, bools, float64 numbers,
// []any lists and map[string]any objects.

func strAttr(attrs map[string]any, key string) string {
	v, _ := attrs[key].(string)
	return v
}

func intAttr(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolAttr(attrs map[string]any, key string) bool {
	v, _ := attrs[key].(bool)
	return v
}

func listAttr(attrs map[string]any, key string) []map[string]any {
	raw, _ := attrs[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func tagsAttr(attrs map[string]any, key string) map[string]string {
	raw, _ := attrs[key].(map[string]any)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func boolPtr(b bool) *bool    { return &b }
func int32Ptr(i int32) *int32 { return &i }
