// Package ingress turns object-created notifications into processing runs.
//
// For each upload the trigger mints the photo ID, writes the RUNNING record
// and starts one orchestration run. Notifications are delivered at least
// once; the conditional create is what keeps a redelivery from starting a
// second run.
package ingress

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/fpang/photo-pipeline/internal/orchestrator"
	"github.com/fpang/photo-pipeline/internal/photo"
	"github.com/fpang/photo-pipeline/internal/s3util"
	"github.com/fpang/photo-pipeline/internal/store"
)

// User metadata keys set by the uploading client.
const (
	MetaOwner   = "owner"
	MetaAlbumID = "albumid"
)

// Record is one storage notification.
type Record struct {
	Bucket    string
	Key       string // as delivered, still URL-encoded
	EventName string
	Sequencer string
	EventTime time.Time
}

// Outcome of a single record.
type Outcome string

const (
	Accepted  Outcome = "accepted"
	Skipped   Outcome = "skipped"
	Duplicate Outcome = "duplicate"
	Invalid   Outcome = "invalid"
)

// Summary counts record outcomes for one notification batch.
type Summary struct {
	Accepted   int `json:"accepted"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Invalid    int `json:"invalid"`
}

func (s *Summary) add(o Outcome) {
	switch o {
	case Accepted:
		s.Accepted++
	case Skipped:
		s.Skipped++
	case Duplicate:
		s.Duplicates++
	case Invalid:
		s.Invalid++
	}
}

// Trigger handles upload notifications.
type Trigger struct {
	S3            s3util.API
	Store         store.Gateway
	Runs          orchestrator.Starter
	IDs           IDStrategy
	UploadSegment string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Records flattens an S3 notification.
func Records(ev events.S3Event) []Record {
	out := make([]Record, 0, len(ev.Records))
	for _, r := range ev.Records {
		out = append(out, Record{
			Bucket:    r.S3.Bucket.Name,
			Key:       r.S3.Object.Key,
			EventName: r.EventName,
			Sequencer: r.S3.Object.Sequencer,
			EventTime: r.EventTime,
		})
	}
	return out
}

// HandleEvent processes every record in ev. Records that are malformed or not
// uploads are logged and dropped. Errors that a redelivery could get past are
// joined and returned so the batch is retried; the retry is safe because
// accepted records are absorbed as duplicates.
func (t *Trigger) HandleEvent(ctx context.Context, ev events.S3Event) (Summary, error) {
	var sum Summary
	var errs []error
	for _, rec := range Records(ev) {
		out, err := t.Handle(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sum.add(out)
	}
	return sum, errors.Join(errs...)
}

// Handle processes one record.
func (t *Trigger) Handle(ctx context.Context, rec Record) (Outcome, error) {
	logger := log.With().Str("bucket", rec.Bucket).Str("rawKey", rec.Key).Logger()

	if !isObjectCreated(rec.EventName) {
		logger.Debug().Str("event", rec.EventName).Msg("Ignoring non-create event")
		return Skipped, nil
	}
	if rec.Bucket == "" || rec.Key == "" {
		logger.Warn().Msg("Dropping notification with empty bucket or key")
		return Invalid, nil
	}
	key, err := photo.DecodeKey(rec.Key)
	if err != nil {
		logger.Warn().Err(err).Msg("Dropping notification with undecodable key")
		return Invalid, nil
	}
	segment := t.UploadSegment
	if segment == "" {
		segment = photo.DefaultUploadSegment
	}
	if !photo.IsUploadKey(key, segment) {
		logger.Info().Err(&photo.NotAnUploadError{Key: key}).Msg("Ignoring object outside upload prefix")
		return Skipped, nil
	}
	logger = logger.With().Str("key", key).Logger()

	id := t.IDs.NewID(rec.Bucket, key, rec.Sequencer)
	if id == "" {
		logger.Warn().Msg("Dropping upload with no usable photo ID")
		return Invalid, nil
	}
	logger = logger.With().Str("id", id).Logger()

	info, err := s3util.Head(ctx, t.S3, rec.Bucket, key)
	if err != nil {
		if s3util.IsNotFound(err) {
			// Already processed (raw object removed by resize) or deleted by
			// the client before we got here.
			logger.Info().Msg("Upload no longer present, skipping")
			return Skipped, nil
		}
		return "", &photo.ExternalServiceError{Service: "s3", Op: "HeadObject", Err: err}
	}

	ref := t.Runs.RunRef(id)
	p := &photo.Photo{
		ID:               id,
		Owner:            metadata(info.Metadata, MetaOwner),
		AlbumID:          metadata(info.Metadata, MetaAlbumID),
		Bucket:           rec.Bucket,
		SourceKey:        key,
		UploadTime:       t.uploadTime(rec),
		OrchestrationRef: ref,
		ProcessingStatus: photo.StatusRunning,
	}

	if _, err := t.Store.Create(ctx, p); err != nil {
		if !photo.IsConflict(err) {
			logger.Error().Err(err).Msg("Failed to create photo record")
			return "", err
		}
		existing, gerr := t.Store.Get(ctx, id)
		if gerr != nil {
			return "", gerr
		}
		// A RUNNING record carrying our run handle means an earlier delivery
		// wrote the record and may have died before starting the run.
		if existing == nil || existing.ProcessingStatus != photo.StatusRunning || existing.OrchestrationRef != ref {
			logger.Info().Err(err).Msg("Duplicate delivery, record already exists")
			return Duplicate, nil
		}
		logger.Info().Msg("Record already RUNNING, ensuring run is started")
		if _, err := t.Runs.StartRun(ctx, photo.RunInput{Bucket: rec.Bucket, Key: key, ID: id}); err != nil {
			return "", err
		}
		return Duplicate, nil
	}

	if _, err := t.Runs.StartRun(ctx, photo.RunInput{Bucket: rec.Bucket, Key: key, ID: id}); err != nil {
		logger.Error().Err(err).Msg("Failed to start processing run")
		return "", err
	}
	logger.Info().Str("owner", p.Owner).Str("albumId", p.AlbumID).Msg("Upload accepted")
	return Accepted, nil
}

func (t *Trigger) uploadTime(rec Record) time.Time {
	if !rec.EventTime.IsZero() {
		return rec.EventTime.UTC()
	}
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func isObjectCreated(name string) bool {
	return strings.HasPrefix(strings.TrimPrefix(name, "s3:"), "ObjectCreated:")
}

// metadata looks up a user metadata key. S3 lower-cases metadata keys, but
// fakes and older SDKs may not.
func metadata(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
