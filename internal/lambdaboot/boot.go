// Package lambdaboot holds the cold-start bootstrap shared by the pipeline
// functions. Each function's init() composes the helpers it needs; a missing
// required setting is fatal so a misconfigured function never takes traffic.
package lambdaboot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/config"
	"github.com/fpang/photo-pipeline/internal/labels"
	"github.com/fpang/photo-pipeline/internal/logging"
	"github.com/fpang/photo-pipeline/internal/notify"
	"github.com/fpang/photo-pipeline/internal/orchestrator"
	"github.com/fpang/photo-pipeline/internal/stages"
	"github.com/fpang/photo-pipeline/internal/store"
)

// LoadConfig reads the pipeline settings. Fatals on invalid values.
func LoadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

// InitAWS loads the default AWS config.
func InitAWS() aws.Config {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg
}

// InitS3 creates an S3 client.
func InitS3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// InitPhotoStore creates the DynamoDB record store. When EVENT_BUS_NAME is
// set, successful writes are also published as change events. Fatals if
// PHOTO_TABLE_NAME is empty.
func InitPhotoStore(cfg aws.Config, c config.Config) store.Gateway {
	if c.TableName == "" {
		log.Fatal().Str("envVar", "PHOTO_TABLE_NAME").Msg("DynamoDB table environment variable is required")
	}
	g := store.Gateway(store.NewDynamoStore(dynamodb.NewFromConfig(cfg), c.TableName))
	if c.EventBusName == "" {
		log.Warn().Str("envVar", "EVENT_BUS_NAME").Msg("Event bus not set, change events disabled")
		return g
	}
	return notify.Wrap(g, notify.NewEventBridge(eventbridge.NewFromConfig(cfg), c.EventBusName))
}

// InitStepFunctions creates the run starter. Fatals if STATE_MACHINE_ARN is
// empty.
func InitStepFunctions(cfg aws.Config, c config.Config) *orchestrator.StepFunctions {
	if c.StateMachineARN == "" {
		log.Fatal().Str("envVar", "STATE_MACHINE_ARN").Msg("State machine environment variable is required")
	}
	return orchestrator.NewStepFunctions(sfn.NewFromConfig(cfg), c.StateMachineARN)
}

// InitRekognition creates the label detector behind a circuit breaker.
func InitRekognition(cfg aws.Config) stages.LabelDetector {
	return labels.NewBreaker(labels.NewRekognition(rekognition.NewFromConfig(cfg)), labels.DefaultTripAfter, labels.DefaultOpenTimeout)
}

// StartupLog starts a startup logger with the init duration filled in.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
