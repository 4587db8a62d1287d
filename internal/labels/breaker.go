package labels

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/stages"
)

// Breaker defaults.
const (
	DefaultTripAfter   = 5
	DefaultOpenTimeout = 30 * time.Second
)

// Breaker stops calling the detector after repeated service failures. While
// open it fails immediately with an ExternalServiceError, which the state
// machine retries with backoff. It never retries itself.
type Breaker struct {
	next stages.LabelDetector
	cb   *gobreaker.CircuitBreaker[[]photo.Label]
}

var _ stages.LabelDetector = (*Breaker)(nil)

// NewBreaker wraps next. The breaker opens after tripAfter consecutive
// failures and half-opens after openTimeout. Zero values take the defaults.
func NewBreaker(next stages.LabelDetector, tripAfter uint32, openTimeout time.Duration) *Breaker {
	if tripAfter == 0 {
		tripAfter = DefaultTripAfter
	}
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker[[]photo.Label](gobreaker.Settings{
			Name:        "rekognition",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= tripAfter
			},
			// A missing object says nothing about the service.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, stages.ErrSourceMissing) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			},
		}),
	}
}

func (b *Breaker) DetectLabels(ctx context.Context, bucket, key string, maxLabels int, minConfidence float64) ([]photo.Label, error) {
	labels, err := b.cb.Execute(func() ([]photo.Label, error) {
		return b.next.DetectLabels(ctx, bucket, key, maxLabels, minConfidence)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &photo.ExternalServiceError{Service: "rekognition", Op: "DetectLabels", Err: err}
	}
	return labels, err
}
