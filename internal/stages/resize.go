package stages

import (
	"bytes"
	"context"
	"image"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/photo-pipeline/internal/imaging"
	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/s3util"
)

// Resizer produces the thumbnail and full-size copy of an upload, then removes
// the raw upload.
type Resizer struct {
	S3            s3util.API
	Width         int
	Height        int
	UploadSegment string
}

// NewResizer returns a Resizer with the default thumbnail size.
func NewResizer(client s3util.API) *Resizer {
	return &Resizer{
		S3:     client,
		Width:  imaging.DefaultThumbnailWidth,
		Height: imaging.DefaultThumbnailHeight,
	}
}

// Resize runs the stage. Both derived objects are stored before the raw upload
// is deleted; if either store fails, whatever landed is removed and the upload
// is kept.
func (r *Resizer) Resize(ctx context.Context, in photo.StageInput) (*photo.ResizeOutput, error) {
	start := time.Now()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	logger := log.With().Str("stage", photo.StageResize).Str("bucket", in.Bucket).Str("key", in.Key).Logger()

	segment := segmentOrDefault(r.UploadSegment)
	thumbKey, fullKey, err := photo.DerivedKeys(in.Key, segment)
	if err != nil {
		return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "not an upload key", Err: err}
	}

	data, _, err := s3util.Fetch(ctx, r.S3, in.Bucket, in.Key)
	if err != nil {
		if s3util.IsNotFound(err) {
			return r.committed(ctx, in, thumbKey, fullKey)
		}
		return nil, &photo.ExternalServiceError{Service: "s3", Op: "GetObject", Err: err}
	}

	img, format, err := imaging.Decode(data)
	if err != nil {
		return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "undecodable image", Err: err}
	}

	thumbData, contentType, err := imaging.Thumbnail(img, format, r.Width, r.Height)
	if err != nil {
		return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "thumbnail", Err: err}
	}
	// Formats without an encoder are stored as JPEG under a .jpg key.
	thumbKey = imaging.ThumbnailKey(thumbKey, contentType)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s3util.Put(gctx, r.S3, in.Bucket, thumbKey, thumbData, contentType)
	})
	g.Go(func() error {
		return s3util.Copy(gctx, r.S3, in.Bucket, in.Key, fullKey)
	})
	if err := g.Wait(); err != nil {
		r.cleanup(ctx, in.Bucket, thumbKey, fullKey)
		logger.Error().Err(err).Msg("Failed to store derived images")
		return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "store derived images", Err: err}
	}

	// Both derived objects are committed; a failed delete does not fail the stage.
	if err := s3util.Delete(ctx, r.S3, in.Bucket, in.Key); err != nil {
		logger.Warn().Err(err).Msg("Failed to delete raw upload after resize")
	}

	out := &photo.ResizeOutput{
		Thumbnail: photo.ImageRef{Key: thumbKey, Width: r.Width, Height: r.Height},
		Fullsize:  photo.ImageRef{Key: fullKey, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()},
	}

	logger.Info().
		Str("thumbKey", thumbKey).
		Str("fullKey", fullKey).
		Int("width", out.Fullsize.Width).
		Int("height", out.Fullsize.Height).
		Dur("duration", time.Since(start)).
		Msg("Resize complete")

	return out, nil
}

// committed handles a redelivered request whose earlier attempt already stored
// both derived objects and removed the upload.
func (r *Resizer) committed(ctx context.Context, in photo.StageInput, thumbKey, fullKey string) (*photo.ResizeOutput, error) {
	full, err := r.measure(ctx, in.Bucket, fullKey)
	if err != nil {
		return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "source object missing", Err: err}
	}
	var thumb photo.ImageRef
	for _, key := range imaging.ThumbnailKeys(thumbKey) {
		thumb, err = r.measure(ctx, in.Bucket, key)
		if err == nil || !s3util.IsNotFound(err) {
			break
		}
	}
	if err != nil {
		return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "source object missing", Err: err}
	}
	log.Info().Str("stage", photo.StageResize).Str("key", in.Key).Msg("Upload already resized, returning stored result")
	return &photo.ResizeOutput{Thumbnail: thumb, Fullsize: full}, nil
}

func (r *Resizer) measure(ctx context.Context, bucket, key string) (photo.ImageRef, error) {
	data, _, err := s3util.Fetch(ctx, r.S3, bucket, key)
	if err != nil {
		return photo.ImageRef{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return photo.ImageRef{}, err
	}
	return photo.ImageRef{Key: key, Width: cfg.Width, Height: cfg.Height}, nil
}

// cleanup removes derived objects after a partial failure. Best effort: the
// request context may already be cancelled.
func (r *Resizer) cleanup(ctx context.Context, bucket string, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s3util.Delete(ctx, r.S3, bucket, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to remove partial resize output")
		}
	}
}
