package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PHOTO_TABLE_NAME", "THUMBNAIL_WIDTH", "THUMBNAIL_HEIGHT", "MAX_LABELS", "MIN_CONFIDENCE", "ID_STRATEGY", "UPLOAD_SEGMENT", "RUN_DEADLINE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ThumbnailWidth != 80 || cfg.ThumbnailHeight != 80 {
		t.Errorf("thumbnail = %dx%d, want 80x80", cfg.ThumbnailWidth, cfg.ThumbnailHeight)
	}
	if cfg.MaxLabels != 10 || cfg.MinConfidence != 60 {
		t.Errorf("labels = %d/%g, want 10/60", cfg.MaxLabels, cfg.MinConfidence)
	}
	if cfg.IDStrategy != "uuid" || cfg.UploadSegment != "upload" || cfg.RunDeadline != 5*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PHOTO_TABLE_NAME", "photos")
	t.Setenv("THUMBNAIL_WIDTH", "120")
	t.Setenv("MIN_CONFIDENCE", "75.5")
	t.Setenv("RUN_DEADLINE", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TableName != "photos" || cfg.ThumbnailWidth != 120 || cfg.MinConfidence != 75.5 || cfg.RunDeadline != 90*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"THUMBNAIL_WIDTH", "wide"},
		{"THUMBNAIL_HEIGHT", "0"},
		{"MAX_LABELS", "-1"},
		{"MIN_CONFIDENCE", "101"},
		{"RUN_DEADLINE", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}
