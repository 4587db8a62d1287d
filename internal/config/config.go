// Package config reads pipeline settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	TableName       string
	StateMachineARN string
	EventBusName    string

	ThumbnailWidth  int
	ThumbnailHeight int

	MaxLabels     int
	MinConfidence float64

	IDStrategy    string
	UploadSegment string

	RunDeadline time.Duration
}

// Load reads the environment. Unset variables take their defaults; values
// that are set but malformed or out of range are reported together.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		TableName:       envOr("PHOTO_TABLE_NAME", ""),
		StateMachineARN: envOr("STATE_MACHINE_ARN", ""),
		EventBusName:    envOr("EVENT_BUS_NAME", ""),

		ThumbnailWidth:  envInt("THUMBNAIL_WIDTH", 80, &errs),
		ThumbnailHeight: envInt("THUMBNAIL_HEIGHT", 80, &errs),

		MaxLabels:     envInt("MAX_LABELS", 10, &errs),
		MinConfidence: envFloat("MIN_CONFIDENCE", 60, &errs),

		IDStrategy:    envOr("ID_STRATEGY", "uuid"),
		UploadSegment: envOr("UPLOAD_SEGMENT", "upload"),

		RunDeadline: envDuration("RUN_DEADLINE", 5*time.Minute, &errs),
	}

	if cfg.ThumbnailWidth <= 0 || cfg.ThumbnailHeight <= 0 {
		errs = append(errs, fmt.Errorf("thumbnail size must be positive, got %dx%d", cfg.ThumbnailWidth, cfg.ThumbnailHeight))
	}
	if cfg.MaxLabels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LABELS must be positive, got %d", cfg.MaxLabels))
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 100 {
		errs = append(errs, fmt.Errorf("MIN_CONFIDENCE must be within 0-100, got %g", cfg.MinConfidence))
	}
	if cfg.RunDeadline <= 0 {
		errs = append(errs, fmt.Errorf("RUN_DEADLINE must be positive, got %s", cfg.RunDeadline))
	}
	return cfg, errors.Join(errs...)
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
