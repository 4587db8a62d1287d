// Package main is the ingress Lambda. It is subscribed to object-created
// notifications on the photo bucket; for each new upload it writes the
// RUNNING record and starts a processing execution.
//
// Memory: 256 MB
// Timeout: 30 seconds
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/ingress"
	"github.com/fpang/photo-pipeline/internal/lambdaboot"
	"github.com/fpang/photo-pipeline/internal/logging"
	"github.com/fpang/photo-pipeline/internal/metrics"
)

var (
	commitHash = "dev"     // overridden by -ldflags at build
	buildTime  = "unknown" // overridden by -ldflags at build
)

var (
	trigger   *ingress.Trigger
	coldStart = true
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg := lambdaboot.LoadConfig()
	ids, err := ingress.ParseIDStrategy(cfg.IDStrategy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ID_STRATEGY")
	}

	awsCfg := lambdaboot.InitAWS()
	trigger = &ingress.Trigger{
		S3:            lambdaboot.InitS3(awsCfg),
		Store:         lambdaboot.InitPhotoStore(awsCfg, cfg),
		Runs:          lambdaboot.InitStepFunctions(awsCfg, cfg),
		IDs:           ids,
		UploadSegment: cfg.UploadSegment,
	}

	lambdaboot.StartupLog("ingress-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		DynamoTable("photos", cfg.TableName).
		StateMachine("processing", cfg.StateMachineARN).
		EventBus("changes", cfg.EventBusName).
		Feature("changeEvents", cfg.EventBusName != "").
		Config("idStrategy", string(ids)).
		Config("uploadSegment", cfg.UploadSegment).
		Log()
}

func handler(ctx context.Context, event events.S3Event) (ingress.Summary, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "ingress-lambda").Msg("Cold start, first invocation")
	}
	log.Debug().Int("records", len(event.Records)).Msg("Notification received")

	sum, err := trigger.HandleEvent(ctx, event)
	metrics.Ingress(sum.Accepted, sum.Skipped+sum.Invalid, sum.Duplicates)
	if err != nil {
		// Returning the error makes the notification redeliver; records
		// already accepted come back as duplicates.
		log.Error().Err(err).Interface("summary", sum).Msg("Notification partially failed")
		return sum, err
	}
	log.Info().Interface("summary", sum).Msg("Notification processed")
	return sum, nil
}

func main() {
	lambda.Start(handler)
}
