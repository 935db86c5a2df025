package aws_s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/sharedcode/latch"
)

// storedRecord is the JSON object body kept per record. Version rides in the
// body while the object's ETag enforces the write precondition.
type storedRecord struct {
	Fields  map[string]string `json:"fields"`
	Version int64             `json:"version"`
}

type recordStore struct {
	S3Client   *s3.Client
	bucketName string
	marshaler  latch.Marshaler
}

// NewRecordStore manages records as JSON objects in the given bucket, one
// object per record, conditioned via If-None-Match on create and If-Match on
// update so a concurrent writer surfaces as a latch.ConflictError.
func NewRecordStore(s3Client *s3.Client, bucketName string) (latch.RecordStore, error) {
	if s3Client == nil {
		return nil, fmt.Errorf("s3Client parameter can't be nil")
	}
	if bucketName == "" {
		return nil, fmt.Errorf("bucketName parameter can't be empty")
	}
	return &recordStore{
		S3Client:   s3Client,
		bucketName: bucketName,
		marshaler:  latch.DefaultMarshaler,
	}, nil
}

func (rs *recordStore) Read(ctx context.Context, key latch.Key) (*latch.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	rec, _, err := rs.read(ctx, key)
	return rec, err
}

// read returns the record plus the object's ETag for conditioning the
// follow up write.
func (rs *recordStore) read(ctx context.Context, key latch.Key) (*latch.Record, string, error) {
	out, err := rs.S3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(rs.bucketName),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("couldn't read record %s, details: %v", key.String(), err)
	}
	defer out.Body.Close()
	ba, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	var sr storedRecord
	if err := rs.marshaler.Unmarshal(ba, &sr); err != nil {
		return nil, "", err
	}
	return &latch.Record{Key: key, Fields: sr.Fields, Version: sr.Version}, aws.ToString(out.ETag), nil
}

func (rs *recordStore) Write(ctx context.Context, record *latch.Record, mode latch.WriteMode) (*latch.Record, error) {
	if err := record.Key.Validate(); err != nil {
		return nil, err
	}

	if record.Version == 0 {
		// Record must not exist yet; If-None-Match lets S3 arbitrate the race.
		written := record.Clone()
		written.Version = 1
		ba, err := rs.marshaler.Marshal(storedRecord{Fields: written.Fields, Version: written.Version})
		if err != nil {
			return nil, err
		}
		_, err = rs.S3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(rs.bucketName),
			Key:         aws.String(record.Key.String()),
			Body:        bytes.NewReader(ba),
			IfNoneMatch: aws.String("*"),
		})
		if err != nil {
			if isPreconditionFailure(err) {
				return nil, &latch.ConflictError{Key: record.Key, Err: err}
			}
			return nil, err
		}
		return written, nil
	}

	current, etag, err := rs.read(ctx, record.Key)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("record no longer exists")}
	}
	if current.Version != record.Version {
		return nil, &latch.ConflictError{Key: record.Key, Err: fmt.Errorf("version %d is stale, stored is %d", record.Version, current.Version)}
	}

	written := record.Clone()
	if mode == latch.InsertOrMerge {
		merged := current.Clone()
		for k, v := range record.Fields {
			merged.Fields[k] = v
		}
		written = merged
	}
	written.Version = record.Version + 1
	ba, err := rs.marshaler.Marshal(storedRecord{Fields: written.Fields, Version: written.Version})
	if err != nil {
		return nil, err
	}
	_, err = rs.S3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:  aws.String(rs.bucketName),
		Key:     aws.String(record.Key.String()),
		Body:    bytes.NewReader(ba),
		IfMatch: aws.String(etag),
	})
	if err != nil {
		if isPreconditionFailure(err) {
			return nil, &latch.ConflictError{Key: record.Key, Err: err}
		}
		return nil, err
	}
	return written, nil
}

func (rs *recordStore) Remove(ctx context.Context, key latch.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := rs.S3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(rs.bucketName),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		return fmt.Errorf("couldn't remove record %s, details: %v", key.String(), err)
	}
	return nil
}

// isPreconditionFailure detects a conditional write the service rejected
// because the object changed (or appeared) underneath us.
func isPreconditionFailure(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
