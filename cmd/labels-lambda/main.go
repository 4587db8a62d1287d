// Package main is the detect-labels stage Lambda. It asks Rekognition for
// the objects in an upload, bounded by MAX_LABELS and MIN_CONFIDENCE.
//
// Memory: 256 MB
// Timeout: 1 minute
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
	detector  *stages.LabelStage
	coldStart = true
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	detector = &stages.LabelStage{
		Detector:      lambdaboot.InitRekognition(lambdaboot.InitAWS()),
		MaxLabels:     cfg.MaxLabels,
		MinConfidence: cfg.MinConfidence,
		UploadSegment: cfg.UploadSegment,
	}

	lambdaboot.StartupLog("labels-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("maxLabels", strconv.Itoa(cfg.MaxLabels)).
		Config("minConfidence", strconv.FormatFloat(cfg.MinConfidence, 'f', -1, 64)).
		Log()
}

func handler(ctx context.Context, event photo.StageInput) (*photo.LabelsOutput, error) {
	start := time.Now()
	if coldStart {
		coldStart = false
		log.Info().Str("function", "labels-lambda").Msg("Cold start, first invocation")
	}

	out, err := detector.Detect(ctx, event)
	metrics.Stage(photo.StageLabels, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func main() {
	lambda.Start(handler)
}
