package ingress

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// IDStrategy names how a photo ID is derived from an upload.
type IDStrategy string

const (
	// IDFromUpload derives a UUIDv5 from the bucket, key and the object's
	// sequencer: redelivered notifications for one upload share an ID, and
	// a later upload to the same key gets a new one.
	IDFromUpload IDStrategy = "uuid"

	// IDFromKey uses the filename stem, so a client can name its upload after
	// a record it created beforehand.
	IDFromKey IDStrategy = "key"
)

// ParseIDStrategy accepts "uuid" or "key"; empty selects uuid.
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch IDStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", IDFromUpload:
		return IDFromUpload, nil
	case IDFromKey:
		return IDFromKey, nil
	}
	return "", &photo.ValidationError{Field: "ID_STRATEGY", Reason: fmt.Sprintf("unknown strategy %q", s)}
}

// NewID returns the photo ID for an upload of key in bucket. key is the
// decoded object key.
func (s IDStrategy) NewID(bucket, key, sequencer string) string {
	if s == IDFromKey {
		return photo.KeyStem(key)
	}
	name := "s3://" + bucket + "/" + key + "#" + sequencer
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
