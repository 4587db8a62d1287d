// Package aggregate merges the branch results of a processing run into a
// single conditional update of the Photo record.
//
// The merge is keyed by stage name, so it yields the same patch whatever
// order the branches arrive in. A run finalises SUCCEEDED only when all three
// stages produced output; otherwise it finalises FAILED, keeping whatever the
// successful stages produced. Finalising a record that is no longer RUNNING
// is a no-op.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/store"
)

// Outcome is what the aggregator reports back to the orchestrator.
type Outcome struct {
	ID           string       `json:"id"`
	Status       photo.Status `json:"status"`
	FailedStages []string     `json:"failedStages,omitempty"`

	// Stale is set when the record had already left RUNNING and nothing was
	// written.
	Stale bool `json:"stale,omitempty"`
}

// Aggregator finalises runs against the record store.
type Aggregator struct {
	Store store.Gateway
}

// New returns an Aggregator writing to g.
func New(g store.Gateway) *Aggregator {
	return &Aggregator{Store: g}
}

// Merge builds the patch for a set of branch results. Stages with no entry
// count as failed.
func Merge(results []photo.BranchResult) (photo.Patch, error) {
	byStage := make(map[string]photo.BranchResult, len(results))
	for _, r := range results {
		if !slices.Contains(photo.Stages, r.Stage) {
			return photo.Patch{}, &photo.ValidationError{Field: "results", Reason: fmt.Sprintf("unknown stage %q", r.Stage)}
		}
		if _, dup := byStage[r.Stage]; dup {
			return photo.Patch{}, &photo.ValidationError{Field: "results", Reason: fmt.Sprintf("duplicate result for stage %q", r.Stage)}
		}
		byStage[r.Stage] = r
	}

	var patch photo.Patch
	var reasons []string

	// Walk stages in a fixed order so the failure list is deterministic.
	for _, stage := range photo.Stages {
		r, ok := byStage[stage]
		if !ok {
			patch.FailedStages = append(patch.FailedStages, stage)
			reasons = append(reasons, stage+": no result")
			continue
		}
		if r.Failed() {
			patch.FailedStages = append(patch.FailedStages, stage)
			reasons = append(reasons, stage+": "+describe(r.Error))
			continue
		}
		switch stage {
		case photo.StageResize:
			thumb, full := r.Resize.Thumbnail, r.Resize.Fullsize
			patch.Thumbnail = &thumb
			patch.Fullsize = &full
		case photo.StageIdentify:
			patch.Format = r.Identify.Format
			patch.ExifMake = r.Identify.ExifMake
			patch.ExifModel = r.Identify.ExifModel
			if r.Identify.Geo != nil {
				patch.GeoLocation = photo.NewGeoLocation(*r.Identify.Geo)
			}
		case photo.StageLabels:
			names := make([]string, 0, len(r.Labels.Labels))
			for _, l := range r.Labels.Labels {
				names = append(names, l.Name)
			}
			patch.ObjectDetected = names
		}
	}

	if len(patch.FailedStages) == 0 {
		patch.Status = photo.StatusSucceeded
	} else {
		patch.Status = photo.StatusFailed
		patch.FailureReason = strings.Join(reasons, "; ")
	}
	return patch, nil
}

// Aggregate merges in.Results and finalises the record. A conflict (record
// already terminal, or missing) is reported as a stale outcome, not an error.
func (a *Aggregator) Aggregate(ctx context.Context, in photo.AggregateInput) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	logger := log.With().Str("id", in.ID).Str("key", in.Key).Logger()

	patch, err := Merge(in.Results)
	if err != nil {
		return nil, err
	}

	rec, err := a.Store.Update(ctx, in.ID, patch, photo.StatusRunning)
	if err != nil {
		if photo.IsConflict(err) {
			logger.Info().Err(err).Msg("Record no longer RUNNING, aggregation skipped")
			return &Outcome{ID: in.ID, Status: patch.Status, FailedStages: patch.FailedStages, Stale: true}, nil
		}
		logger.Error().Err(err).Msg("Failed to finalise photo record")
		return nil, err
	}

	if rec.ProcessingStatus == photo.StatusFailed {
		logger.Warn().
			Strs("failedStages", rec.FailedStages).
			Str("reason", rec.FailureReason).
			Msg("Photo processing failed")
	} else {
		logger.Info().Msg("Photo processing succeeded")
	}

	return &Outcome{ID: in.ID, Status: rec.ProcessingStatus, FailedStages: patch.FailedStages}, nil
}

// describe renders a branch error. A Lambda task failure caught by the state
// machine carries the function's error payload as a JSON Cause.
func describe(e *photo.BranchError) string {
	if e == nil {
		return "no output"
	}
	cause := e.Cause
	var lambdaErr struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal([]byte(cause), &lambdaErr) == nil && lambdaErr.ErrorMessage != "" {
		cause = lambdaErr.ErrorMessage
	}
	if cause == "" {
		return e.Error
	}
	return e.Error + ": " + cause
}
