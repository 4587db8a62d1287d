// Package labels adapts Amazon Rekognition DetectLabels to the label stage.
package labels

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rktypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/stages"
)

// API is the subset of the Rekognition client used here.
type API interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

var _ API = (*rekognition.Client)(nil)

// Rekognition detects labels on S3 objects in place; image bytes never pass
// through the Lambda.
type Rekognition struct {
	client API
}

var _ stages.LabelDetector = (*Rekognition)(nil)

// NewRekognition wraps a Rekognition client.
func NewRekognition(client API) *Rekognition {
	return &Rekognition{client: client}
}

// DetectLabels returns labels in the order the service ranks them. The service
// enforces maxLabels and minConfidence.
func (r *Rekognition) DetectLabels(ctx context.Context, bucket, key string, maxLabels int, minConfidence float64) ([]photo.Label, error) {
	out, err := r.client.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image: &rktypes.Image{
			S3Object: &rktypes.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
		MaxLabels:     aws.Int32(int32(maxLabels)),
		MinConfidence: aws.Float32(float32(minConfidence)),
	})
	if err != nil {
		var invalid *rktypes.InvalidS3ObjectException
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("rekognition %s: %w", key, stages.ErrSourceMissing)
		}
		return nil, &photo.ExternalServiceError{Service: "rekognition", Op: "DetectLabels", Err: err}
	}

	labels := make([]photo.Label, 0, len(out.Labels))
	for _, l := range out.Labels {
		name := aws.ToString(l.Name)
		if name == "" {
			continue
		}
		labels = append(labels, photo.Label{
			Name:       name,
			Confidence: float64(aws.ToFloat32(l.Confidence)),
		})
	}

	log.Debug().Str("key", key).Int("count", len(labels)).Msg("Rekognition labels detected")
	return labels, nil
}
