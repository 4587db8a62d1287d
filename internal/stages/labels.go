package stages

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// Label detection bounds used when the request leaves them unset.
const (
	DefaultMaxLabels     = 10
	DefaultMinConfidence = 60.0
)

// LabelDetector detects objects in an image stored at bucket/key. It returns
// ErrSourceMissing (possibly wrapped) when the object does not exist.
type LabelDetector interface {
	DetectLabels(ctx context.Context, bucket, key string, maxLabels int, minConfidence float64) ([]photo.Label, error)
}

// LabelStage runs label detection against an upload.
type LabelStage struct {
	Detector      LabelDetector
	MaxLabels     int
	MinConfidence float64
	UploadSegment string
}

// Detect runs the stage. Detector failures other than a missing source are
// returned as ExternalServiceError so the orchestrator's retry policy applies.
func (s *LabelStage) Detect(ctx context.Context, in photo.StageInput) (*photo.LabelsOutput, error) {
	start := time.Now()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	maxLabels := firstPositive(in.MaxLabels, s.MaxLabels, DefaultMaxLabels)
	minConfidence := in.MinConfidence
	if minConfidence == 0 {
		minConfidence = s.MinConfidence
	}
	if minConfidence == 0 {
		minConfidence = DefaultMinConfidence
	}

	key := in.Key
	labels, err := s.Detector.DetectLabels(ctx, in.Bucket, key, maxLabels, minConfidence)
	if errors.Is(err, ErrSourceMissing) {
		if full := fullsizeFallback(in.Key, segmentOrDefault(s.UploadSegment)); full != "" {
			key = full
			labels, err = s.Detector.DetectLabels(ctx, in.Bucket, key, maxLabels, minConfidence)
		}
	}
	if err != nil {
		if errors.Is(err, ErrSourceMissing) {
			return nil, &photo.ImageProcessingError{Key: in.Key, Reason: "source object missing", Err: err}
		}
		var ext *photo.ExternalServiceError
		if errors.As(err, &ext) {
			return nil, ext
		}
		return nil, &photo.ExternalServiceError{Service: "labels", Op: "DetectLabels", Err: err}
	}

	if labels == nil {
		labels = []photo.Label{}
	}

	log.Info().
		Str("stage", photo.StageLabels).
		Str("key", key).
		Int("labels", len(labels)).
		Int("maxLabels", maxLabels).
		Float64("minConfidence", minConfidence).
		Dur("duration", time.Since(start)).
		Msg("Label detection complete")

	return &photo.LabelsOutput{Labels: labels}, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
