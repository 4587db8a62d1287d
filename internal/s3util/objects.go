// Package s3util provides the S3 helpers shared by the ingress trigger and the
// stage workers.
//
// Every helper takes the narrow API interface rather than *s3.Client so that
// tests can substitute the in-memory fake in s3fake.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// API is the subset of the S3 client used by the pipeline.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Compile-time interface check.
var _ API = (*s3.Client)(nil)

// ObjectInfo describes an object without its body.
type ObjectInfo struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// IsNotFound reports whether err means the object (or bucket) does not exist.
// GetObject reports NoSuchKey, HeadObject a bare 404 NotFound.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// Fetch reads an entire object into memory.
func Fetch(ctx context.Context, client API, bucket, key string) ([]byte, ObjectInfo, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Fetching from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("read %s: %w", key, err)
	}
	return data, ObjectInfo{
		Size:        int64(len(data)),
		ContentType: aws.ToString(result.ContentType),
		Metadata:    result.Metadata,
	}, nil
}

// Head returns an object's size, content type, and user metadata.
func Head(ctx context.Context, client API, bucket, key string) (ObjectInfo, error) {
	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("S3 HeadObject %s: %w", key, err)
	}
	return ObjectInfo{
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: aws.ToString(result.ContentType),
		Metadata:    result.Metadata,
	}, nil
}

// Put stores data under key with the project cost-allocation tag.
func Put(ctx context.Context, client API, bucket, key string, data []byte, contentType string) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Tagging:     ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("size", len(data)).Msg("Stored object in S3")
	return nil
}

// Copy performs a server-side copy within bucket.
func Copy(ctx context.Context, client API, bucket, srcKey, dstKey string) error {
	_, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:           &bucket,
		Key:              &dstKey,
		CopySource:       aws.String(CopySource(bucket, srcKey)),
		Tagging:          ProjectTagging(),
		TaggingDirective: s3types.TaggingDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("S3 CopyObject %s -> %s: %w", srcKey, dstKey, err)
	}
	log.Debug().Str("src", srcKey).Str("dst", dstKey).Msg("Copied object in S3")
	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func Delete(ctx context.Context, client API, bucket, key string) error {
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("S3 DeleteObject %s: %w", key, err)
	}
	return nil
}

// CopySource builds the URL-encoded "bucket/key" value CopyObject expects.
func CopySource(bucket, key string) string {
	return (&url.URL{Path: bucket + "/" + key}).EscapedPath()
}
