package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/converge-io/converge/internal/provider"
)

// Everything here runs offline; the lazy clients are never initialized
// for schema lookups or error classification.

func TestSchema(t *testing.T) {
	p := New()

	schema, err := p.Schema("aws_s3_bucket")
	require.NoError(t, err)
	assert.Equal(t, "aws_s3_bucket", schema.Type)
	assert.True(t, schema.ForcesReplacement("bucket"))
	assert.False(t, schema.ForcesReplacement("force_destroy"))
	assert.False(t, schema.CreateBeforeDestroy)

	schema, err = p.Schema("aws_dynamodb_table")
	require.NoError(t, err)
	assert.True(t, schema.ForcesReplacement("table_name"))
	assert.True(t, schema.ForcesReplacement("key_schema"))
	assert.False(t, schema.ForcesReplacement("billing_mode"))

	_, err = p.Schema("aws_lambda_function")
	assert.ErrorContains(t, err, `unknown resource type "aws_lambda_function"`)
}

func TestUnknownTypeRejectedBeforeClientInit(t *testing.T) {
	p := New()
	ctx := context.Background()

	_, _, err := p.Create(ctx, "aws_nonesuch", map[string]any{})
	assert.ErrorContains(t, err, "unknown resource type")

	_, err = p.Read(ctx, "aws_nonesuch", "id")
	assert.ErrorContains(t, err, "unknown resource type")

	_, err = p.Update(ctx, "aws_nonesuch", "id", map[string]any{})
	assert.ErrorContains(t, err, "unknown resource type")

	err = p.Delete(ctx, "aws_nonesuch", "id")
	assert.ErrorContains(t, err, "unknown resource type")
}

func TestErrCode(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "NotFound", Message: "no such bucket"}

	assert.True(t, errCode(apiErr, "NotFound"))
	assert.True(t, errCode(apiErr, "NoSuchBucket", "NotFound"))
	assert.False(t, errCode(apiErr, "NoSuchBucket"))
	assert.False(t, errCode(errors.New("plain"), "NotFound"))
	assert.False(t, errCode(nil, "NotFound"))
}

func TestWrapErrMarksThrottlingTransient(t *testing.T) {
	throttled := wrapErr("failed to create queue", &smithy.GenericAPIError{Code: "ThrottlingException"})
	assert.True(t, provider.IsTransient(throttled))

	denied := wrapErr("failed to create queue", &smithy.GenericAPIError{Code: "AccessDenied"})
	assert.False(t, provider.IsTransient(denied))
	assert.ErrorContains(t, denied, "failed to create queue")
}

func TestAttrAccessors(t *testing.T) {
	attrs := map[string]any{
		"name":    "app",
		"count":   float64(3),
		"enabled": true,
		"tags":    map[string]any{"env": "prod", "cost": float64(42)},
		"attributes": []any{
			map[string]any{"name": "pk", "type": "S"},
			"not-a-map",
		},
	}

	assert.Equal(t, "app", strAttr(attrs, "name"))
	assert.Equal(t, "", strAttr(attrs, "missing"))
	assert.Equal(t, 3, intAttr(attrs, "count"))
	assert.Equal(t, 0, intAttr(attrs, "name"))
	assert.True(t, boolAttr(attrs, "enabled"))
	assert.False(t, boolAttr(attrs, "missing"))

	tags := tagsAttr(attrs, "tags")
	assert.Equal(t, map[string]string{"env": "prod", "cost": "42"}, tags)
	assert.Nil(t, tagsAttr(attrs, "missing"))

	list := listAttr(attrs, "attributes")
	require.Len(t, list, 1)
	assert.Equal(t, "pk", strAttr(list[0], "name"))
}

func TestQueueAttributes(t *testing.T) {
	qa := queueAttributes(map[string]any{
		"queue_name":         "jobs",
		"visibility_timeout": float64(60),
		"delay_seconds":      float64(0),
		"fifo_queue":         true,
		"redrive_policy":     `{"maxReceiveCount":5}`,
	})

	assert.Equal(t, map[string]string{
		"VisibilityTimeout": "60",
		"DelaySeconds":      "0",
		"FifoQueue":         "true",
		"RedrivePolicy":     `{"maxReceiveCount":5}`,
	}, qa)

	// Unset attributes stay unset rather than being sent as zero.
	assert.Empty(t, queueAttributes(map[string]any{"queue_name": "jobs"}))
}

func TestTopicAttributes(t *testing.T) {
	ta := topicAttributes(map[string]any{
		"name":         "alerts",
		"display_name": "Alerts",
		"fifo_topic":   true,
	})
	assert.Equal(t, map[string]string{
		"DisplayName": "Alerts",
		"FifoTopic":   "true",
	}, ta)
}
