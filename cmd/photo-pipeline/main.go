// Package main is the photo-pipeline operator CLI. It processes an upload
// in process (the same stages and aggregator the Lambdas run, joined by a
// local runner), starts a state machine execution for one, or prints a
// photo record.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/photo-pipeline/internal/aggregate"
	"github.com/fpang/photo-pipeline/internal/cli"
	"github.com/fpang/photo-pipeline/internal/config"
	"github.com/fpang/photo-pipeline/internal/ingress"
	"github.com/fpang/photo-pipeline/internal/lambdaboot"
	"github.com/fpang/photo-pipeline/internal/logging"
	"github.com/fpang/photo-pipeline/internal/orchestrator"
	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/pipeline"
	"github.com/fpang/photo-pipeline/internal/stages"
	"github.com/fpang/photo-pipeline/internal/store"
)

// CLI flags
var (
	bucketFlag    string
	keyFlag       string
	sequencerFlag string
	idFlag        string
	memoryFlag    bool
	jsonFlag      bool
)

var rootCmd = &cobra.Command{
	Use:           "photo-pipeline",
	Short:         "Run and inspect the photo processing pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `photo-pipeline drives the photo processing workflow from a terminal.

Examples:
  photo-pipeline process --bucket photos --key album1/upload/beach.jpg
  photo-pipeline process --bucket photos --key album1/upload/beach.jpg --memory
  photo-pipeline start --bucket photos --key album1/upload/beach.jpg
  photo-pipeline status --id 2f1c0e4e-0b8e-5d6e-9c41-2a7f0e1b9d33`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("PHOTO_LOG_CONSOLE") == "" {
			os.Setenv("PHOTO_LOG_CONSOLE", "1")
		}
		logging.Init()
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process an upload in this process and print the resulting record",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd.Context(), true)
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Accept an upload and start its state machine execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd.Context(), false)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a photo record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		g := lambdaboot.InitPhotoStore(lambdaboot.InitAWS(), cfg)
		p, err := g.Get(cmd.Context(), idFlag)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("photo %s not found", idFlag)
		}
		return printRecord(p)
	},
}

func init() {
	for _, c := range []*cobra.Command{processCmd, startCmd} {
		c.Flags().StringVarP(&bucketFlag, "bucket", "b", "", "Bucket holding the upload")
		c.Flags().StringVarP(&keyFlag, "key", "k", "", "Object key of the upload")
		c.Flags().StringVar(&sequencerFlag, "sequencer", "", "Notification sequencer, for the uuid ID strategy")
		_ = c.MarkFlagRequired("bucket")
		_ = c.MarkFlagRequired("key")
	}
	processCmd.Flags().BoolVar(&memoryFlag, "memory", false, "Keep the record in memory instead of DynamoDB")
	statusCmd.Flags().StringVar(&idFlag, "id", "", "Photo ID")
	_ = statusCmd.MarkFlagRequired("id")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print records as JSON")

	rootCmd.AddCommand(processCmd, startCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.Explain(err))
		os.Exit(1)
	}
}

// runUpload feeds one synthetic object-created notification through the
// ingress trigger. local selects the in-process runner over Step Functions.
func runUpload(ctx context.Context, local bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ids, err := ingress.ParseIDStrategy(cfg.IDStrategy)
	if err != nil {
		return err
	}

	awsCfg := lambdaboot.InitAWS()
	s3Client := lambdaboot.InitS3(awsCfg)

	var g store.Gateway
	if memoryFlag {
		g = store.NewMemoryStore()
	} else {
		g = lambdaboot.InitPhotoStore(awsCfg, cfg)
	}

	var runs orchestrator.Starter
	if local {
		resizer := stages.NewResizer(s3Client)
		resizer.Width, resizer.Height = cfg.ThumbnailWidth, cfg.ThumbnailHeight
		resizer.UploadSegment = cfg.UploadSegment
		runs = &pipeline.Runner{
			Resize:   resizer,
			Identify: &stages.Identifier{S3: s3Client, UploadSegment: cfg.UploadSegment},
			Labels: &stages.LabelStage{
				Detector:      lambdaboot.InitRekognition(awsCfg),
				MaxLabels:     cfg.MaxLabels,
				MinConfidence: cfg.MinConfidence,
				UploadSegment: cfg.UploadSegment,
			},
			Aggregate: aggregate.New(g),
			Deadline:  cfg.RunDeadline,
		}
	} else {
		runs = lambdaboot.InitStepFunctions(awsCfg, cfg)
	}

	trigger := &ingress.Trigger{S3: s3Client, Store: g, Runs: runs, IDs: ids, UploadSegment: cfg.UploadSegment}
	rec := ingress.Record{
		Bucket:    bucketFlag,
		Key:       url.QueryEscape(keyFlag), // notifications carry encoded keys
		EventName: "ObjectCreated:Put",
		Sequencer: sequencerFlag,
		EventTime: time.Now().UTC(),
	}

	start := time.Now()
	outcome, err := trigger.Handle(ctx, rec)
	if err != nil {
		return err
	}
	log.Info().Str("outcome", string(outcome)).Dur("elapsed", time.Since(start)).Msg("Upload handled")
	if outcome == ingress.Skipped || outcome == ingress.Invalid {
		return fmt.Errorf("upload %s/%s was %s, see log", bucketFlag, keyFlag, outcome)
	}

	p, err := g.Get(ctx, ids.NewID(bucketFlag, keyFlag, sequencerFlag))
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("no record written for %s/%s", bucketFlag, keyFlag)
	}
	return printRecord(p)
}

func printRecord(p *photo.Photo) error {
	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	}
	cli.WriteReport(os.Stdout, p)
	return nil
}
