package metrics

import "time"

// Stage emits one document for a stage invocation.
func Stage(stage string, elapsed time.Duration, err error) {
	stageTo(New(Namespace), stage, elapsed, err)
}

func stageTo(r *Recorder, stage string, elapsed time.Duration, err error) {
	r.Dimension("Stage", stage).
		Metric("StageDurationMs", float64(elapsed.Milliseconds()), UnitMilliseconds)
	if err != nil {
		r.Count("StageFailed").Property("error", err.Error())
	} else {
		r.Count("StageSucceeded")
	}
	r.Flush()
}

// Ingress emits the outcome counts for one notification batch.
func Ingress(accepted, skipped, duplicates int) {
	ingressTo(New(Namespace), accepted, skipped, duplicates)
}

func ingressTo(r *Recorder, accepted, skipped, duplicates int) {
	r.Counts("UploadsAccepted", accepted).
		Counts("UploadsSkipped", skipped).
		Counts("DuplicateDeliveries", duplicates).
		Flush()
}

// Run emits the final status of a processing run.
func Run(status string, stale bool) {
	runTo(New(Namespace), status, stale)
}

func runTo(r *Recorder, status string, stale bool) {
	switch {
	case stale:
		r.Count("StaleAggregations")
	case status == "SUCCEEDED":
		r.Count("RunsSucceeded")
	default:
		r.Count("RunsFailed")
	}
	r.Property("status", status).Flush()
}
