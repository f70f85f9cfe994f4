package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/converge-io/converge/internal/provider"
)

func (p *Provider) createLogGroup(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "name")
	if name == "" {
		return "", nil, fmt.Errorf("aws_cloudwatch_log_group: missing required attribute %q", "name")
	}

	_, err := p.cloudwatchlogsClient.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: &name,
	})
	if err != nil && !errCode(err, "ResourceAlreadyExistsException") {
		return "", nil, wrapErr("failed to create log group", err)
	}

	if retention := intAttr(attrs, "retention_in_days"); retention > 0 {
		_, err = p.cloudwatchlogsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    &name,
			RetentionInDays: int32Ptr(int32(retention)),
		})
		if err != nil {
			return "", nil, wrapErr("failed to put retention policy", err)
		}
	}

	out, err := p.readLogGroup(ctx, name)
	return name, out, err
}

// DescribeLogGroups only filters by prefix, so the exact name still has
// to be matched out of the page.
func (p *Provider) readLogGroup(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.cloudwatchlogsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: &id,
	})
	if err != nil {
		return nil, wrapErr("failed to describe log groups", err)
	}

	for _, lg := range resp.LogGroups {
		if lg.LogGroupName == nil || *lg.LogGroupName != id {
			continue
		}
		out := map[string]any{
			"name":              id,
			"retention_in_days": 0,
		}
		if lg.Arn != nil {
			out["arn"] = *lg.Arn
		}
		if lg.RetentionInDays != nil {
			out["retention_in_days"] = int(*lg.RetentionInDays)
		}
		return out, nil
	}
	return nil, &provider.NotFoundError{Type: typeLogGroup, ID: id}
}

func (p *Provider) updateLogGroup(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	if _, ok := attrs["retention_in_days"]; ok {
		if retention := intAttr(attrs, "retention_in_days"); retention > 0 {
			_, err := p.cloudwatchlogsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
				LogGroupName:    &id,
				RetentionInDays: int32Ptr(int32(retention)),
			})
			if err != nil {
				return nil, wrapErr("failed to put retention policy", err)
			}
		} else {
			_, err := p.cloudwatchlogsClient.DeleteRetentionPolicy(ctx, &cloudwatchlogs.DeleteRetentionPolicyInput{
				LogGroupName: &id,
			})
			if err != nil && !errCode(err, "ResourceNotFoundException") {
				return nil, wrapErr("failed to delete retention policy", err)
			}
		}
	}
	return p.readLogGroup(ctx, id)
}

func (p *Provider) deleteLogGroup(ctx context.Context, id string) error {
	_, err := p.cloudwatchlogsClient.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: &id,
	})
	if err != nil && !errCode(err, "ResourceNotFoundException") {
		return wrapErr("failed to delete log group", err)
	}
	return nil
}
