// Package photo defines the Photo record, its processing status state machine,
// and the request/response contracts exchanged between the ingress trigger,
// the stage workers, and the aggregator.
//
// Every other package in the pipeline depends on these types; nothing here
// performs I/O.
package photo

import (
	"time"
)

// ImageRef points at a derived image object in the object store.
type ImageRef struct {
	Key    string `json:"key" dynamodbav:"key"`
	Width  int    `json:"width" dynamodbav:"width"`
	Height int    `json:"height" dynamodbav:"height"`
}

// Photo is the persisted record for one uploaded image.
//
// Identity fields (ID, AlbumID, Owner, Bucket, UploadTime) are set at ingress.
// Derived fields are each owned by exactly one stage and written at most once;
// only ProcessingStatus changes after it is first set.
type Photo struct {
	ID         string    `json:"id" dynamodbav:"id"`
	AlbumID    string    `json:"albumId,omitempty" dynamodbav:"albumId,omitempty"`
	Owner      string    `json:"owner,omitempty" dynamodbav:"owner,omitempty"`
	Bucket     string    `json:"bucket,omitempty" dynamodbav:"bucket,omitempty"`
	SourceKey  string    `json:"sourceKey,omitempty" dynamodbav:"sourceKey,omitempty"`
	UploadTime time.Time `json:"uploadTime" dynamodbav:"uploadTime"`

	// Resize-owned.
	Fullsize  *ImageRef `json:"fullsize,omitempty" dynamodbav:"fullsize,omitempty"`
	Thumbnail *ImageRef `json:"thumbnail,omitempty" dynamodbav:"thumbnail,omitempty"`

	// Identify-owned.
	Format      string       `json:"format,omitempty" dynamodbav:"format,omitempty"`
	ExifMake    string       `json:"exifMake,omitempty" dynamodbav:"exifMake,omitempty"`
	ExifModel   string       `json:"exifModel,omitempty" dynamodbav:"exifModel,omitempty"`
	GeoLocation *GeoLocation `json:"geoLocation,omitempty" dynamodbav:"geoLocation,omitempty"`

	// Detect-labels-owned. Label names in service order.
	ObjectDetected []string `json:"objectDetected,omitempty" dynamodbav:"objectDetected,omitempty"`

	OrchestrationRef string `json:"orchestrationRef,omitempty" dynamodbav:"orchestrationRef,omitempty"`
	ProcessingStatus Status `json:"processingStatus" dynamodbav:"processingStatus"`

	// Set only together with StatusFailed.
	FailureReason string   `json:"failureReason,omitempty" dynamodbav:"failureReason,omitempty"`
	FailedStages  []string `json:"failedStages,omitempty" dynamodbav:"failedStages,omitempty"`

	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Patch is a partial update applied by the aggregator. Zero-valued fields are
// left untouched; a nil ObjectDetected means "not set" while an empty non-nil
// slice records that detection ran and found nothing.
type Patch struct {
	Status Status

	Fullsize  *ImageRef
	Thumbnail *ImageRef

	Format      string
	ExifMake    string
	ExifModel   string
	GeoLocation *GeoLocation

	ObjectDetected []string

	FailureReason string
	FailedStages  []string
}

// Complete reports whether every derived field a successful run must produce
// is populated.
func (p *Photo) Complete() bool {
	return p.Fullsize != nil && p.Thumbnail != nil && p.Format != "" && p.ObjectDetected != nil
}

// Apply merges patch into p following the write-once rule: a field already
// holding a value keeps it. Status is always taken from the patch.
func (p *Photo) Apply(patch Patch, now time.Time) {
	if p.Fullsize == nil && patch.Fullsize != nil {
		ref := *patch.Fullsize
		p.Fullsize = &ref
	}
	if p.Thumbnail == nil && patch.Thumbnail != nil {
		ref := *patch.Thumbnail
		p.Thumbnail = &ref
	}
	if p.Format == "" {
		p.Format = patch.Format
	}
	if p.ExifMake == "" {
		p.ExifMake = patch.ExifMake
	}
	if p.ExifModel == "" {
		p.ExifModel = patch.ExifModel
	}
	if p.GeoLocation == nil && patch.GeoLocation != nil {
		geo := *patch.GeoLocation
		p.GeoLocation = &geo
	}
	if p.ObjectDetected == nil && patch.ObjectDetected != nil {
		p.ObjectDetected = append([]string{}, patch.ObjectDetected...)
	}
	if p.FailureReason == "" {
		p.FailureReason = patch.FailureReason
	}
	if p.FailedStages == nil && patch.FailedStages != nil {
		p.FailedStages = append([]string{}, patch.FailedStages...)
	}
	if patch.Status != "" {
		p.ProcessingStatus = patch.Status
	}
	p.UpdatedAt = now
}

// Clone returns a deep copy of p.
func (p *Photo) Clone() *Photo {
	if p == nil {
		return nil
	}
	c := *p
	if p.Fullsize != nil {
		ref := *p.Fullsize
		c.Fullsize = &ref
	}
	if p.Thumbnail != nil {
		ref := *p.Thumbnail
		c.Thumbnail = &ref
	}
	if p.GeoLocation != nil {
		geo := *p.GeoLocation
		c.GeoLocation = &geo
	}
	if p.ObjectDetected != nil {
		c.ObjectDetected = append([]string{}, p.ObjectDetected...)
	}
	if p.FailedStages != nil {
		c.FailedStages = append([]string{}, p.FailedStages...)
	}
	return &c
}
