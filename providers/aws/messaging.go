package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	typesSNS "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	typesSQS "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/converge-io/converge/internal/provider"
)

// queueAttributes maps declaration attributes onto the SQS attribute
// strings, sending only what the declaration actually sets so service
// defaults stay in force for the rest.
func queueAttributes(attrs map[string]any) map[string]string {
	out := make(map[string]string)
	for key, name := range map[string]string{
		"visibility_timeout":                "VisibilityTimeout",
		"message_retention_period":          "MessageRetentionPeriod",
		"delay_seconds":                     "DelaySeconds",
		"receive_message_wait_time_seconds": "ReceiveMessageWaitTimeSeconds",
	} {
		if _, ok := attrs[key]; ok {
			out[name] = fmt.Sprintf("%d", intAttr(attrs, key))
		}
	}
	if boolAttr(attrs, "fifo_queue") {
		out["FifoQueue"] = "true"
	}
	if boolAttr(attrs, "content_based_deduplication") {
		out["ContentBasedDeduplication"] = "true"
	}
	if policy := strAttr(attrs, "redrive_policy"); policy != "" {
		out["RedrivePolicy"] = policy
	}
	return out
}

func (p *Provider) createQueue(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "queue_name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_sqs_queue: missing required attribute %q", "queue_name")
	}

	resp, err := p.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  &name,
		Attributes: queueAttributes(attrs),
		Tags:       tagsAttr(attrs, "tags"),
	})
	if err != nil {
		return "", nil, wrapErr("failed to create queue", err)
	}

	out, err := p.readQueue(ctx, *resp.QueueUrl)
	return *resp.QueueUrl, out, err
}

func (p *Provider) readQueue(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: &id,
		AttributeNames: []typesSQS.QueueAttributeName{
			typesSQS.QueueAttributeNameQueueArn,
		},
	})
	if err != nil {
		if errCode(err, "QueueDoesNotExist", "AWS.SimpleQueueService.NonExistentQueue") {
			return nil, &provider.NotFoundError{Type: typeQueue, ID: id}
		}
		return nil, wrapErr("failed to get queue attributes", err)
	}

	out := map[string]any{"url": id}
	if arn, ok := resp.Attributes[string(typesSQS.QueueAttributeNameQueueArn)]; ok {
		out["arn"] = arn
	}
	return out, nil
}

func (p *Provider) updateQueue(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if qa := queueAttributes(attrs); len(qa) > 0 {
		_, err := p.sqsClient.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
			QueueUrl:   &id,
			Attributes: qa,
		})
		if err != nil {
			return nil, wrapErr("failed to set queue attributes", err)
		}
	}
	return p.readQueue(ctx, id)
}

func (p *Provider) deleteQueue(ctx context.Context, id string) error {
	_, err := p.sqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{
		QueueUrl: &id,
	})
	if err != nil && !errCode(err, "QueueDoesNotExist", "AWS.SimpleQueueService.NonExistentQueue") {
		return wrapErr("failed to delete queue", err)
	}
	return nil
}

func topicAttributes(attrs map[string]any) map[string]string {
	out := make(map[string]string)
	if display := strAttr(attrs, "display_name"); display != "" {
		out["DisplayName"] = display
	}
	if boolAttr(attrs, "fifo_topic") {
		out["FifoTopic"] = "true"
	}
	if boolAttr(attrs, "content_based_deduplication") {
		out["ContentBasedDeduplication"] = "true"
	}
	if key := strAttr(attrs, "kms_master_key_id"); key != "" {
		out["KmsMasterKeyId"] = key
	}
	return out
}

func (p *Provider) createTopic(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_sns_topic: missing required attribute %q", "name")
	}

	input := &sns.CreateTopicInput{
		Name:       &name,
		Attributes: topicAttributes(attrs),
	}
	for k, v := range tagsAttr(attrs, "tags") {
		key, value := k, v
		input.Tags = append(input.Tags, typesSNS.Tag{Key: &key, Value: &value})
	}

	resp, err := p.snsClient.CreateTopic(ctx, input)
	if err != nil {
		return "", nil, wrapErr("failed to create topic", err)
	}

	out, err := p.readTopic(ctx, *resp.TopicArn)
	return *resp.TopicArn, out, err
}

func (p *Provider) readTopic(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.snsClient.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{
		TopicArn: &id,
	})
	if err != nil {
		if errCode(err, "NotFound", "NotFoundException") {
			return nil, &provider.NotFoundError{Type: typeTopic, ID: id}
		}
		return nil, wrapErr("failed to get topic attributes", err)
	}

	out := map[string]any{
		"arn":  id,
		"name": id[strings.LastIndex(id, ":")+1:],
	}
	if display := resp.Attributes["DisplayName"]; display != "" {
		out["display_name"] = display
	}
	return out, nil
}

func (p *Provider) updateTopic(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if _, ok := attrs["display_name"]; ok {
		name := "DisplayName"
		value := strAttr(attrs, "display_name")
		_, err := p.snsClient.SetTopicAttributes(ctx, &sns.SetTopicAttributesInput{
			TopicArn:       &id,
			AttributeName:  &name,
			AttributeValue: &value,
		})
		if err != nil {
			return nil, wrapErr("failed to set topic attributes", err)
		}
	}
	return p.readTopic(ctx, id)
}

func (p *Provider) deleteTopic(ctx context.Context, id string) error {
	_, err := p.snsClient.DeleteTopic(ctx, &sns.DeleteTopicInput{
		TopicArn: &id,
	})
	if err != nil && !errCode(err, "NotFound", "NotFoundException") {
		return wrapErr("failed to delete topic", err)
	}
	return nil
}
