package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/converge-io/converge/internal/provider"
)

// Bucket names are global, so creation tolerates BucketAlreadyOwnedByYou:
// re-running an apply against a half-recorded bucket must converge, not
// fail.
func (p *Provider) createBucket(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := strAttr(attrs, "bucket")
	if name == "" {
		return "", nil, fmt.Errorf("aws_s3_bucket: missing required attribute %q", "bucket")
	}

	_, err := p.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &name,
	})
	if err != nil && !errCode(err, "BucketAlreadyOwnedByYou") {
		return "", nil, wrapErr("failed to create bucket", err)
	}

	out, err := p.readBucket(ctx, name)
	return name, out, err
}

func (p *Provider) readBucket(ctx context.Context, id string) (map[string]any, error) {
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &id,
	})
	if err != nil {
		if errCode(err, "NotFound", "NoSuchBucket") {
			return nil, &provider.NotFoundError{Type: typeBucket, ID: id}
		}
		return nil, wrapErr("failed to check bucket existence", err)
	}

	return map[string]any{
		"bucket": id,
		"arn":    fmt.Sprintf("arn:aws:s3:::%s", id),
	}, nil
}

// The only mutable bucket attribute, force_destroy, lives entirely on our
// side of the wire. Nothing to push.
func (p *Provider) updateBucket(ctx context.Context, id string, attrs map[string]any) (map[string]any, error) {
	return p.readBucket(ctx, id)
}

func (p *Provider) deleteBucket(ctx context.Context, id string) error {
	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: &id,
	})
	if err != nil && !errCode(err, "NotFound", "NoSuchBucket") {
		return wrapErr("failed to delete bucket", err)
	}
	return nil
}
