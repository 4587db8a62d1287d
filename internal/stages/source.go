// Package stages implements the three stage workers a processing run fans out
// to: Resize, Identify and Detect-Labels.
//
// Stages are stateless and never call each other. Each reads the uploaded
// object, and because Resize removes the raw upload once its derived copies
// are stored, Identify and Detect-Labels fall back to the full-size copy when
// the raw key is already gone. That keeps the three branches independent of
// the order they run in.
package stages

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/s3util"
)

// ErrSourceMissing is returned by a LabelDetector when the object it was
// pointed at does not exist.
var ErrSourceMissing = errors.New("source object missing")

// fullsizeFallback returns the full-size key Resize relocates key to, or ""
// if key is not an upload key.
func fullsizeFallback(key, segment string) string {
	_, full, err := photo.DerivedKeys(key, segment)
	if err != nil {
		return ""
	}
	return full
}

// fetchSource reads the upload, or its full-size copy if the upload has
// already been removed. It returns the key actually read.
func fetchSource(ctx context.Context, client s3util.API, bucket, key, segment string) ([]byte, string, error) {
	data, _, err := s3util.Fetch(ctx, client, bucket, key)
	if err == nil {
		return data, key, nil
	}
	if !s3util.IsNotFound(err) {
		return nil, key, err
	}

	full := fullsizeFallback(key, segment)
	if full == "" {
		return nil, key, err
	}
	data, _, ferr := s3util.Fetch(ctx, client, bucket, full)
	if ferr != nil {
		if s3util.IsNotFound(ferr) {
			return nil, key, err
		}
		return nil, full, ferr
	}
	log.Debug().Str("key", key).Str("fallback", full).Msg("Upload already relocated, reading full-size copy")
	return data, full, nil
}

func segmentOrDefault(s string) string {
	if s == "" {
		return photo.DefaultUploadSegment
	}
	return s
}
