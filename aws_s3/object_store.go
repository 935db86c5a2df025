package aws_s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/latch"
)

// ObjectStore moves (possibly large) object payloads in and out of buckets
// using the S3 transfer manager, which splits big payloads into parallel
// part up/downloads. Transient transport errors are retried with backoff.
type ObjectStore struct {
	S3Client   *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

func NewObjectStore(s3Client *s3.Client) (*ObjectStore, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	return &ObjectStore{
		S3Client:   s3Client,
		uploader:   manager.NewUploader(s3Client),
		downloader: manager.NewDownloader(s3Client),
	}, nil
}

// Upload writes the payload under name in the given bucket.
func (os *ObjectStore) Upload(ctx context.Context, bucketName string, name string, ba []byte) error {
	return latch.Retry(ctx, func(ctx context.Context) error {
		_, err := os.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(name),
			Body:   bytes.NewReader(ba),
		})
		if err == nil {
			return nil
		}
		err = fmt.Errorf("couldn't upload %s to bucket %s, details: %v", name, bucketName, err)
		if latch.ShouldRetry(err) {
			return retry.RetryableError(latch.Error[string]{
				Code:     latch.ObjectIOError,
				Err:      err,
				UserData: name,
			})
		}
		return err
	}, nil)
}

// Download fetches the payload stored under name in the given bucket.
func (os *ObjectStore) Download(ctx context.Context, bucketName string, name string) ([]byte, error) {
	var ba []byte
	err := latch.Retry(ctx, func(ctx context.Context) error {
		buf := manager.NewWriteAtBuffer([]byte{})
		_, err := os.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(name),
		})
		if err == nil {
			ba = buf.Bytes()
			return nil
		}
		err = fmt.Errorf("couldn't download %s from bucket %s, details: %v", name, bucketName, err)
		if latch.ShouldRetry(err) {
			return retry.RetryableError(latch.Error[string]{
				Code:     latch.ObjectIOError,
				Err:      err,
				UserData: name,
			})
		}
		return err
	}, nil)
	if err != nil {
		return nil, err
	}
	return ba, nil
}

// Delete removes the named objects from the given bucket.
func (os *ObjectStore) Delete(ctx context.Context, bucketName string, names ...string) error {
	for _, name := range names {
		_, err := os.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(name),
		})
		if err != nil {
			return fmt.Errorf("couldn't delete %s from bucket %s, details: %v", name, bucketName, err)
		}
	}
	return nil
}
