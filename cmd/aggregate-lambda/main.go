// Package main is the aggregator Lambda, the last state of a processing
// execution. It receives the parallel state's branch results (caught errors
// included) and finalises the photo record as SUCCEEDED or FAILED.
//
// Memory: 256 MB
// Timeout: 30 seconds
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/aggregate"
	"github.com/fpang/photo-pipeline/internal/lambdaboot"
	"github.com/fpang/photo-pipeline/internal/logging"
	"github.com/fpang/photo-pipeline/internal/metrics"
	"github.com/fpang/photo-pipeline/internal/photo"
)

var (
	commitHash = "dev"     // overridden by -ldflags at build
	buildTime  = "unknown" // overridden by -ldflags at build
)

var (
	aggregator *aggregate.Aggregator
	coldStart  = true
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	aggregator = aggregate.New(lambdaboot.InitPhotoStore(lambdaboot.InitAWS(), cfg))

	lambdaboot.StartupLog("aggregate-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		DynamoTable("photos", cfg.TableName).
		EventBus("changes", cfg.EventBusName).
		Feature("changeEvents", cfg.EventBusName != "").
		Log()
}

func handler(ctx context.Context, event photo.AggregateInput) (*aggregate.Outcome, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "aggregate-lambda").Msg("Cold start, first invocation")
	}

	out, err := aggregator.Aggregate(ctx, event)
	if err != nil {
		return nil, err
	}
	metrics.Run(string(out.Status), out.Stale)
	return out, nil
}

func main() {
	lambda.Start(handler)
}
