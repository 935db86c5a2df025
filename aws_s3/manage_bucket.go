package aws_s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sharedcode/latch/refcount"
)

type manageBucket struct {
	S3Client *s3.Client
	region   string
}

// NewManageBucket creates and removes buckets, the "container then blob"
// target of the reference counted attachments.
func NewManageBucket(s3Client *s3.Client, region string) (*manageBucket, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	return &manageBucket{
		S3Client: s3Client,
		region:   region,
	}, nil
}

func (mb *manageBucket) CreateBucket(ctx context.Context, bucketName string) error {
	_, err := mb.S3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(mb.region),
		},
	})
	if err != nil {
		return fmt.Errorf("couldn't create bucket %s in Region %s, details: %v", bucketName, mb.region, err)
	}
	return nil
}

func (mb *manageBucket) RemoveBucket(ctx context.Context, bucketName string) error {
	_, err := mb.S3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		return fmt.Errorf("couldn't remove bucket %s, details: %v", bucketName, err)
	}
	return nil
}

// RemoveBucketGuarded removes the bucket through the reference count tracker:
// while dependents remain attached it fails with a StillReferencedError and
// the bucket stays.
func (mb *manageBucket) RemoveBucketGuarded(ctx context.Context, tracker *refcount.Tracker, bucketName string) error {
	return tracker.Delete(ctx, bucketName, func(ctx context.Context) error {
		return mb.RemoveBucket(ctx, bucketName)
	})
}
