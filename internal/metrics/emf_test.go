package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("EMF output is not JSON: %v\nOutput: %s", err, buf.String())
	}
	return doc
}

func TestNew_FunctionNameDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "resize-lambda"
	defer func() { functionName = "" }()

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "resize-lambda" {
		t.Errorf("FunctionName dimension = %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_Flush(t *testing.T) {
	functionName = ""
	var buf bytes.Buffer

	NewTo(Namespace, &buf).
		Dimension("Stage", "resize").
		Metric("StageDurationMs", 1234.5, UnitMilliseconds).
		Count("StageSucceeded").
		Property("id", "p1").
		Flush()

	doc := decode(t, &buf)
	aws, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := aws["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cw, ok := aws["CloudWatchMetrics"].([]any)
	if !ok || len(cw) != 1 {
		t.Fatalf("CloudWatchMetrics = %v", aws["CloudWatchMetrics"])
	}
	if ns := cw[0].(map[string]any)["Namespace"]; ns != Namespace {
		t.Errorf("Namespace = %v", ns)
	}

	want := map[string]any{
		"Stage":           "resize",
		"StageDurationMs": 1234.5,
		"StageSucceeded":  float64(1),
		"id":              "p1",
	}
	for k, v := range want {
		if doc[k] != v {
			t.Errorf("%s = %v, want %v", k, doc[k], v)
		}
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewTo("Test", &buf).Dimension("Stage", "resize").Flush()
	if buf.Len() != 0 {
		t.Errorf("empty recorder wrote %q", buf.String())
	}
}

func TestStageDocument(t *testing.T) {
	functionName = ""
	tests := []struct {
		name    string
		err     error
		counter string
	}{
		{"succeeded", nil, "StageSucceeded"},
		{"failed", errors.New("decode failed"), "StageFailed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			stageTo(NewTo(Namespace, &buf), "identify", 250*time.Millisecond, tt.err)
			doc := decode(t, &buf)
			if doc[tt.counter] != float64(1) || doc["StageDurationMs"] != float64(250) || doc["Stage"] != "identify" {
				t.Errorf("doc = %v", doc)
			}
		})
	}
}

func TestIngressAndRunDocuments(t *testing.T) {
	functionName = ""
	var buf bytes.Buffer
	ingressTo(NewTo(Namespace, &buf), 2, 0, 1)
	doc := decode(t, &buf)
	if doc["UploadsAccepted"] != float64(2) || doc["UploadsSkipped"] != float64(0) || doc["DuplicateDeliveries"] != float64(1) {
		t.Errorf("ingress doc = %v", doc)
	}

	runs := []struct {
		status string
		stale  bool
		want   string
	}{
		{"SUCCEEDED", false, "RunsSucceeded"},
		{"FAILED", false, "RunsFailed"},
		{"SUCCEEDED", true, "StaleAggregations"},
	}
	for _, tt := range runs {
		buf.Reset()
		runTo(NewTo(Namespace, &buf), tt.status, tt.stale)
		if doc := decode(t, &buf); doc[tt.want] != float64(1) {
			t.Errorf("Run(%s, %v) doc = %v, want %s", tt.status, tt.stale, doc, tt.want)
		}
	}
}
