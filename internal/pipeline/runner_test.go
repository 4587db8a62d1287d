package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/photo-pipeline/internal/aggregate"
	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/s3util/s3fake"
	"github.com/fpang/photo-pipeline/internal/stages"
	"github.com/fpang/photo-pipeline/internal/store"
)

type staticDetector struct {
	labels []photo.Label
	err    error
	delay  time.Duration
}

func (d *staticDetector) DetectLabels(ctx context.Context, bucket, key string, maxLabels int, minConfidence float64) ([]photo.Label, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.labels, d.err
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func newRunner(fake *s3fake.Client, det stages.LabelDetector, m store.Gateway) *Runner {
	return &Runner{
		Resize:    stages.NewResizer(fake),
		Identify:  &stages.Identifier{S3: fake},
		Labels:    &stages.LabelStage{Detector: det},
		Aggregate: aggregate.New(m),
	}
}

func seedRunning(t *testing.T, m *store.MemoryStore, id string) {
	t.Helper()
	if _, err := m.Create(context.Background(), &photo.Photo{ID: id, Bucket: "photos", ProcessingStatus: photo.StatusRunning}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestRunSucceeded(t *testing.T) {
	ctx := context.Background()
	fake := s3fake.New()
	fake.Seed("photos", "album1/upload/beach.jpg", jpegBytes(t, 320, 240), nil)
	m := store.NewMemoryStore()
	seedRunning(t, m, "p1")

	det := &staticDetector{labels: []photo.Label{{Name: "Beach", Confidence: 97}, {Name: "Sea", Confidence: 91}}}
	out, err := newRunner(fake, det, m).Run(ctx, photo.RunInput{Bucket: "photos", Key: "album1/upload/beach.jpg", ID: "p1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != photo.StatusSucceeded {
		t.Fatalf("Run() status = %s (%v), want SUCCEEDED", out.Status, out.FailedStages)
	}

	rec, _ := m.Get(ctx, "p1")
	if rec.Thumbnail.Key != "album1/resized/beach.jpg" || rec.Thumbnail.Width != 80 {
		t.Errorf("thumbnail = %+v", rec.Thumbnail)
	}
	if rec.Fullsize.Key != "album1/fullsize/beach.jpg" || rec.Fullsize.Width != 320 || rec.Fullsize.Height != 240 {
		t.Errorf("fullsize = %+v", rec.Fullsize)
	}
	if rec.Format != "JPEG" || !reflect.DeepEqual(rec.ObjectDetected, []string{"Beach", "Sea"}) {
		t.Errorf("format=%q objectDetected=%v", rec.Format, rec.ObjectDetected)
	}
	if _, ok := fake.Object("photos", "album1/upload/beach.jpg"); ok {
		t.Error("raw upload should be removed")
	}
}

func TestRunLabelFailure(t *testing.T) {
	ctx := context.Background()
	fake := s3fake.New()
	fake.Seed("photos", "album1/upload/beach.jpg", jpegBytes(t, 64, 64), nil)
	m := store.NewMemoryStore()
	seedRunning(t, m, "p1")

	det := &staticDetector{err: &photo.ExternalServiceError{Service: "rekognition", Op: "DetectLabels", Err: errors.New("unavailable")}}
	out, err := newRunner(fake, det, m).Run(ctx, photo.RunInput{Bucket: "photos", Key: "album1/upload/beach.jpg", ID: "p1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != photo.StatusFailed || !reflect.DeepEqual(out.FailedStages, []string{photo.StageLabels}) {
		t.Errorf("Run() = %+v, want FAILED [labels]", out)
	}

	rec, _ := m.Get(ctx, "p1")
	if rec.ObjectDetected != nil || rec.Thumbnail == nil || rec.Format == "" {
		t.Errorf("record = %+v, want resize/identify fields only", rec)
	}
	if rec.FailureReason == "" {
		t.Error("failureReason not recorded")
	}
}

func TestRunDeadline(t *testing.T) {
	ctx := context.Background()
	fake := s3fake.New()
	fake.Seed("photos", "album1/upload/beach.jpg", jpegBytes(t, 64, 64), nil)
	m := store.NewMemoryStore()
	seedRunning(t, m, "p1")

	r := newRunner(fake, &staticDetector{delay: time.Minute}, m)
	r.Deadline = 200 * time.Millisecond

	start := time.Now()
	out, err := r.Run(ctx, photo.RunInput{Bucket: "photos", Key: "album1/upload/beach.jpg", ID: "p1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run() took %v, deadline not enforced", elapsed)
	}
	if out.Status != photo.StatusFailed || !reflect.DeepEqual(out.FailedStages, []string{photo.StageLabels}) {
		t.Errorf("Run() = %+v, want FAILED [labels]", out)
	}
	rec, _ := m.Get(ctx, "p1")
	if !strings.HasPrefix(rec.FailureReason, "labels: States.Timeout") {
		t.Errorf("failureReason = %q", rec.FailureReason)
	}
}

type countingFinalizer struct {
	calls atomic.Int32
}

func (c *countingFinalizer) Aggregate(ctx context.Context, in photo.AggregateInput) (*aggregate.Outcome, error) {
	c.calls.Add(1)
	return &aggregate.Outcome{ID: in.ID, Status: photo.StatusSucceeded}, nil
}

func TestStartRunOncePerID(t *testing.T) {
	fake := s3fake.New()
	fake.Seed("photos", "album1/upload/beach.jpg", jpegBytes(t, 16, 16), nil)
	fin := &countingFinalizer{}
	r := newRunner(fake, &staticDetector{}, store.NewMemoryStore())
	r.Aggregate = fin

	in := photo.RunInput{Bucket: "photos", Key: "album1/upload/beach.jpg", ID: "p1"}
	ref1, err := r.StartRun(context.Background(), in)
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	ref2, err := r.StartRun(context.Background(), in)
	if err != nil {
		t.Fatalf("second StartRun() error: %v", err)
	}
	if ref1 != ref2 || ref1 != r.RunRef("p1") {
		t.Errorf("refs = %s, %s, want %s", ref1, ref2, r.RunRef("p1"))
	}
	if n := fin.calls.Load(); n != 1 {
		t.Errorf("aggregator called %d times, want 1", n)
	}
}

// flakyFinalizer fails its first call.
type flakyFinalizer struct {
	calls atomic.Int32
}

func (f *flakyFinalizer) Aggregate(ctx context.Context, in photo.AggregateInput) (*aggregate.Outcome, error) {
	if f.calls.Add(1) == 1 {
		return nil, &photo.ExternalServiceError{Service: "dynamodb", Op: "UpdateItem", Err: errors.New("throttled")}
	}
	return &aggregate.Outcome{ID: in.ID, Status: photo.StatusSucceeded}, nil
}

func TestStartRunRetriesAfterFailure(t *testing.T) {
	fake := s3fake.New()
	fake.Seed("photos", "album1/upload/beach.jpg", jpegBytes(t, 16, 16), nil)
	fin := &flakyFinalizer{}
	r := newRunner(fake, &staticDetector{}, store.NewMemoryStore())
	r.Aggregate = fin

	in := photo.RunInput{Bucket: "photos", Key: "album1/upload/beach.jpg", ID: "p1"}
	if _, err := r.StartRun(context.Background(), in); err == nil {
		t.Fatal("StartRun() should return the aggregation error")
	}
	if _, err := r.StartRun(context.Background(), in); err != nil {
		t.Fatalf("second StartRun() error: %v", err)
	}
	if n := fin.calls.Load(); n != 2 {
		t.Errorf("aggregator called %d times, want 2", n)
	}
	if _, err := r.StartRun(context.Background(), in); err != nil {
		t.Fatalf("third StartRun() error: %v", err)
	}
	if n := fin.calls.Load(); n != 2 {
		t.Errorf("aggregator called %d times after success, want 2", n)
	}
}

func TestErrorName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&photo.ImageProcessingError{Key: "k"}, "ImageProcessingError"},
		{&photo.ExternalServiceError{Service: "s3", Err: errors.New("x")}, "ExternalServiceError"},
		{context.DeadlineExceeded, "States.Timeout"},
	}
	for _, tt := range tests {
		if got := ErrorName(tt.err); got != tt.want {
			t.Errorf("ErrorName(%T) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
