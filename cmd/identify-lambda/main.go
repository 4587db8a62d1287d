// Package main is the identify stage Lambda. It reads an upload's format,
// dimensions and EXIF camera and GPS fields.
//
// Memory: 512 MB
// Timeout: 1 minute
package main

import (
	"context"
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
	identifier *stages.Identifier
	coldStart  = true
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	identifier = &stages.Identifier{
		S3:            lambdaboot.InitS3(lambdaboot.InitAWS()),
		UploadSegment: cfg.UploadSegment,
	}

	lambdaboot.StartupLog("identify-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("uploadSegment", cfg.UploadSegment).
		Log()
}

func handler(ctx context.Context, event photo.StageInput) (*photo.IdentifyOutput, error) {
	start := time.Now()
	if coldStart {
		coldStart = false
		log.Info().Str("function", "identify-lambda").Msg("Cold start, first invocation")
	}

	out, err := identifier.Identify(ctx, event)
	metrics.Stage(photo.StageIdentify, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func main() {
	lambda.Start(handler)
}
