// Package s3fake is an in-memory implementation of s3util.API for tests and
// for running the pipeline locally without a bucket.
package s3fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fpang/photo-pipeline/internal/s3util"
)

// Object is a stored object.
type Object struct {
	Body        []byte
	ContentType string
	Metadata    map[string]string
}

// Client stores objects in a map keyed by "bucket/key".
//
// The Fail* maps inject an error for a given key on the matching operation;
// the injected error is returned on every call until removed.
type Client struct {
	mu      sync.Mutex
	objects map[string]Object

	FailGet    map[string]error
	FailPut    map[string]error
	FailCopy   map[string]error // keyed by destination key
	FailDelete map[string]error

	Calls []string
}

var _ s3util.API = (*Client)(nil)

// New returns an empty fake.
func New() *Client {
	return &Client{
		objects:    make(map[string]Object),
		FailGet:    make(map[string]error),
		FailPut:    make(map[string]error),
		FailCopy:   make(map[string]error),
		FailDelete: make(map[string]error),
	}
}

func id(bucket, key string) string { return bucket + "/" + key }

// Seed stores an object directly.
func (c *Client) Seed(bucket, key string, body []byte, metadata map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[id(bucket, key)] = Object{Body: append([]byte(nil), body...), Metadata: metadata}
}

// Object returns a stored object.
func (c *Client) Object(bucket, key string) (Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[id(bucket, key)]
	return o, ok
}

// Keys returns every stored key in bucket.
func (c *Client) Keys(bucket string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.objects {
		if rest, ok := strings.CutPrefix(k, bucket+"/"); ok {
			keys = append(keys, rest)
		}
	}
	return keys
}

func (c *Client) record(op, key string) {
	c.Calls = append(c.Calls, op+" "+key)
}

func (c *Client) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := aws.ToString(in.Key)
	c.record("GetObject", key)
	if err := c.FailGet[key]; err != nil {
		return nil, err
	}
	o, ok := c.objects[id(aws.ToString(in.Bucket), key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.Body)),
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
		Metadata:      o.Metadata,
	}, nil
}

func (c *Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := aws.ToString(in.Key)
	c.record("HeadObject", key)
	if err := c.FailGet[key]; err != nil {
		return nil, err
	}
	o, ok := c.objects[id(aws.ToString(in.Bucket), key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
		Metadata:      o.Metadata,
	}, nil
}

func (c *Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	var body []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PutObject", key)
	if err := c.FailPut[key]; err != nil {
		return nil, err
	}
	c.objects[id(aws.ToString(in.Bucket), key)] = Object{
		Body:        body,
		ContentType: aws.ToString(in.ContentType),
		Metadata:    in.Metadata,
	}
	return &s3.PutObjectOutput{}, nil
}

func (c *Client) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := aws.ToString(in.Key)
	c.record("CopyObject", dst)
	if err := c.FailCopy[dst]; err != nil {
		return nil, err
	}
	src, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, fmt.Errorf("bad copy source: %w", err)
	}
	o, ok := c.objects[src]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	c.objects[id(aws.ToString(in.Bucket), dst)] = Object{
		Body:        append([]byte(nil), o.Body...),
		ContentType: o.ContentType,
		Metadata:    o.Metadata,
	}
	return &s3.CopyObjectOutput{}, nil
}

func (c *Client) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := aws.ToString(in.Key)
	c.record("DeleteObject", key)
	if err := c.FailDelete[key]; err != nil {
		return nil, err
	}
	delete(c.objects, id(aws.ToString(in.Bucket), key))
	return &s3.DeleteObjectOutput{}, nil
}
