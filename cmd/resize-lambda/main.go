// Package main is the resize stage Lambda, invoked by the processing state
// machine's parallel branch. It writes the thumbnail and full-size copy of an
// upload and removes the raw object.
//
// Errors are returned as typed values; the state machine retries
// ExternalServiceError and catches the image errors into the aggregator.
//
// Memory: 1 GB
// Timeout: 2 minutes
package main

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/lambdaboot"
	"github.com/fpang/photo-pipeline/internal/logging"
	"github.com/fpang/photo-pipeline/internal/metrics"
	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/stages"
)

var (
	commitHash = "dev"     // overridden by -ldflags at build
	buildTime  = "unknown" // overridden by -ldflags at build
)

var (
	resizer   *stages.Resizer
	coldStart = true
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	resizer = stages.NewResizer(lambdaboot.InitS3(lambdaboot.InitAWS()))
	resizer.Width = cfg.ThumbnailWidth
	resizer.Height = cfg.ThumbnailHeight
	resizer.UploadSegment = cfg.UploadSegment

	lambdaboot.StartupLog("resize-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("thumbnailWidth", strconv.Itoa(cfg.ThumbnailWidth)).
		Config("thumbnailHeight", strconv.Itoa(cfg.ThumbnailHeight)).
		Config("uploadSegment", cfg.UploadSegment).
		Log()
}

func handler(ctx context.Context, event photo.StageInput) (*photo.ResizeOutput, error) {
	start := time.Now()
	if coldStart {
		coldStart = false
		log.Info().Str("function", "resize-lambda").Msg("Cold start, first invocation")
	}

	out, err := resizer.Resize(ctx, event)
	metrics.Stage(photo.StageResize, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func main() {
	lambda.Start(handler)
}
