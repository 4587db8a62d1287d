package stages

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/imaging"
	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/s3util"
)

// Identifier extracts format, dimensions and EXIF metadata from an upload.
type Identifier struct {
	S3            s3util.API
	UploadSegment string
}

// Identify runs the stage.
func (i *Identifier) Identify(ctx context.Context, in photo.StageInput) (*photo.IdentifyOutput, error) {
	start := time.Now()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	data, readKey, err := fetchSource(ctx, i.S3, in.Bucket, in.Key, segmentOrDefault(i.UploadSegment))
	if err != nil {
		if s3util.IsNotFound(err) {
			return nil, &photo.ImageIdentifyError{Key: in.Key, Reason: "source object missing", Err: err}
		}
		return nil, &photo.ExternalServiceError{Service: "s3", Op: "GetObject", Err: err}
	}

	info, err := imaging.Identify(data)
	if err != nil {
		reason := "unrecognized image"
		if errors.Is(err, imaging.ErrEmpty) {
			reason = "empty body"
		}
		return nil, &photo.ImageIdentifyError{Key: readKey, Reason: reason, Err: err}
	}

	out := &photo.IdentifyOutput{
		Format:     info.Format,
		Dimensions: photo.Dimensions{Width: info.Width, Height: info.Height},
		ExifMake:   info.CameraMake,
		ExifModel:  info.CameraModel,
		Geo:        info.GPS,
	}

	log.Info().
		Str("stage", photo.StageIdentify).
		Str("key", readKey).
		Str("format", out.Format).
		Bool("hasGeo", out.Geo != nil).
		Dur("duration", time.Since(start)).
		Msg("Identify complete")

	return out, nil
}
