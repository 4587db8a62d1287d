// Package pipeline runs the processing workflow in process: it fans out to the
// three stages concurrently, waits for all of them or the run deadline, and
// hands the results to the aggregator. It stands in for the Step Functions
// state machine when running locally and in end-to-end tests.
package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/photo-pipeline/internal/aggregate"
	"github.com/fpang/photo-pipeline/internal/orchestrator"
	"github.com/fpang/photo-pipeline/internal/photo"
)

// DefaultDeadline bounds a whole run.
const DefaultDeadline = 5 * time.Minute

// Error names recorded for branches that did not finish, matching the names
// Step Functions uses.
const (
	errTimeout  = "States.Timeout"
	errNoOutput = "States.Runtime"
)

// Stage worker contracts.
type (
	Resizer interface {
		Resize(ctx context.Context, in photo.StageInput) (*photo.ResizeOutput, error)
	}
	Identifier interface {
		Identify(ctx context.Context, in photo.StageInput) (*photo.IdentifyOutput, error)
	}
	Detector interface {
		Detect(ctx context.Context, in photo.StageInput) (*photo.LabelsOutput, error)
	}
	Finalizer interface {
		Aggregate(ctx context.Context, in photo.AggregateInput) (*aggregate.Outcome, error)
	}
)

// Runner is an in-process orchestrator.
type Runner struct {
	Resize    Resizer
	Identify  Identifier
	Labels    Detector
	Aggregate Finalizer
	Deadline  time.Duration

	mu      sync.Mutex
	started map[string]bool
}

var _ orchestrator.Starter = (*Runner)(nil)

// RunRef returns the local handle for id.
func (r *Runner) RunRef(id string) string {
	return "local:" + orchestrator.ExecutionName(id)
}

// StartRun executes the run synchronously. Like a named execution, a second
// start for the same ID does nothing once a run has completed or is in
// flight. A run whose aggregation failed can be started again.
func (r *Runner) StartRun(ctx context.Context, in photo.RunInput) (string, error) {
	ref := r.RunRef(in.ID)
	r.mu.Lock()
	if r.started == nil {
		r.started = make(map[string]bool)
	}
	if r.started[in.ID] {
		r.mu.Unlock()
		log.Info().Str("id", in.ID).Msg("Run already started for photo")
		return ref, nil
	}
	r.started[in.ID] = true
	r.mu.Unlock()

	if _, err := r.Run(ctx, in); err != nil {
		// The record stays RUNNING, so a redelivery must be able to run again.
		r.mu.Lock()
		delete(r.started, in.ID)
		r.mu.Unlock()
		return ref, err
	}
	return ref, nil
}

// Run fans out to the stages, joins, and aggregates. Branch failures and
// branches still running at the deadline are passed to the aggregator as
// failed results; only aggregator errors are returned.
func (r *Runner) Run(ctx context.Context, in photo.RunInput) (*aggregate.Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	deadline := r.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	start := time.Now()
	logger := log.With().Str("id", in.ID).Str("key", in.Key).Logger()

	branchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	stageIn := photo.StageInput{Bucket: in.Bucket, Key: in.Key}
	var (
		mu      sync.Mutex
		results = make(map[string]photo.BranchResult, len(photo.Stages))
	)
	record := func(res photo.BranchResult) {
		mu.Lock()
		results[res.Stage] = res
		mu.Unlock()
	}

	// Branch errors are recorded, never returned, so one failure does not
	// cancel its siblings.
	var g errgroup.Group
	g.Go(func() error {
		out, err := r.Resize.Resize(branchCtx, stageIn)
		record(branch(photo.StageResize, err, func(b *photo.BranchResult) { b.Resize = out }))
		return nil
	})
	g.Go(func() error {
		out, err := r.Identify.Identify(branchCtx, stageIn)
		record(branch(photo.StageIdentify, err, func(b *photo.BranchResult) { b.Identify = out }))
		return nil
	})
	g.Go(func() error {
		out, err := r.Labels.Detect(branchCtx, stageIn)
		record(branch(photo.StageLabels, err, func(b *photo.BranchResult) { b.Labels = out }))
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-branchCtx.Done():
		logger.Warn().Dur("deadline", deadline).Msg("Run deadline reached before all stages finished")
	}

	mu.Lock()
	agg := photo.AggregateInput{ID: in.ID, Bucket: in.Bucket, Key: in.Key}
	for _, stage := range photo.Stages {
		res, ok := results[stage]
		if !ok {
			res = photo.BranchResult{Stage: stage, Error: &photo.BranchError{Error: errTimeout, Cause: "deadline exceeded"}}
		}
		agg.Results = append(agg.Results, res)
	}
	mu.Unlock()

	outcome, err := r.Aggregate.Aggregate(ctx, agg)
	if err != nil {
		logger.Error().Err(err).Msg("Aggregation failed")
		return nil, err
	}

	logger.Info().
		Str("status", string(outcome.Status)).
		Strs("failedStages", outcome.FailedStages).
		Dur("duration", time.Since(start)).
		Msg("Run complete")
	return outcome, nil
}

// branch builds a BranchResult from a stage's return values.
func branch(stage string, err error, setOutput func(*photo.BranchResult)) photo.BranchResult {
	b := photo.BranchResult{Stage: stage}
	if err != nil {
		b.Error = &photo.BranchError{Error: ErrorName(err), Cause: err.Error()}
		return b
	}
	setOutput(&b)
	if b.Failed() {
		b.Error = &photo.BranchError{Error: errNoOutput, Cause: "stage returned no output"}
	}
	return b
}

// ErrorName reports err the way the Lambda runtime does: the name of its
// concrete type, without the pointer.
func ErrorName(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return errTimeout
	}
	t := reflect.TypeOf(err)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
