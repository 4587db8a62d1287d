package photo

import "strings"

// Stage names. They key branch results in the aggregator input.
const (
	StageResize   = "resize"
	StageIdentify = "identify"
	StageLabels   = "labels"
)

// Stages lists every stage a run fans out to.
var Stages = []string{StageResize, StageIdentify, StageLabels}

// RunInput starts one orchestration run.
type RunInput struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	ID     string `json:"id"`
}

// Validate checks that every field is present.
func (in RunInput) Validate() error {
	if err := (StageInput{Bucket: in.Bucket, Key: in.Key}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.ID) == "" {
		return &ValidationError{Field: "id", Reason: "required"}
	}
	return nil
}

// StageInput is the request every stage worker receives.
type StageInput struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`

	// Detect-labels only; zero means the configured default.
	MaxLabels     int     `json:"maxLabels,omitempty"`
	MinConfidence float64 `json:"minConfidence,omitempty"`
}

// Validate checks bucket and key.
func (in StageInput) Validate() error {
	if strings.TrimSpace(in.Bucket) == "" {
		return &ValidationError{Field: "bucket", Reason: "required"}
	}
	if strings.TrimSpace(in.Key) == "" {
		return &ValidationError{Field: "key", Reason: "required"}
	}
	if in.MaxLabels < 0 {
		return &ValidationError{Field: "maxLabels", Reason: "must not be negative"}
	}
	if in.MinConfidence < 0 || in.MinConfidence > 100 {
		return &ValidationError{Field: "minConfidence", Reason: "must be within 0..100"}
	}
	return nil
}

// ResizeOutput is produced by the Resize stage.
type ResizeOutput struct {
	Thumbnail ImageRef `json:"thumbnail"`
	Fullsize  ImageRef `json:"fullsize"`
}

// Dimensions of an image in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IdentifyOutput is produced by the Identify stage. Geo is nil when the
// image carries no GPS tags.
type IdentifyOutput struct {
	Format     string       `json:"format"`
	Dimensions Dimensions   `json:"dimensions"`
	ExifMake   string       `json:"exifMake,omitempty"`
	ExifModel  string       `json:"exifModel,omitempty"`
	Geo        *Coordinates `json:"geo,omitempty"`
}

// Label is one detected object.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// LabelsOutput is produced by the Detect-Labels stage, in service order.
type LabelsOutput struct {
	Labels []Label `json:"labels"`
}

// BranchError is how a failed branch is reported to the aggregator. The
// field names match what a Step Functions Catch writes into the state.
type BranchError struct {
	Error string `json:"Error"`
	Cause string `json:"Cause,omitempty"`
}

// BranchResult is the outcome of one stage branch. Exactly one of the
// output fields or Error is set.
type BranchResult struct {
	Stage    string          `json:"stage"`
	Resize   *ResizeOutput   `json:"resize,omitempty"`
	Identify *IdentifyOutput `json:"identify,omitempty"`
	Labels   *LabelsOutput   `json:"labels,omitempty"`
	Error    *BranchError    `json:"error,omitempty"`
}

// Failed reports whether the branch ended in error or produced nothing.
func (b BranchResult) Failed() bool {
	if b.Error != nil {
		return true
	}
	switch b.Stage {
	case StageResize:
		return b.Resize == nil
	case StageIdentify:
		return b.Identify == nil
	case StageLabels:
		return b.Labels == nil
	}
	return true
}

// AggregateInput is delivered to the aggregator after the join barrier.
// Results arrive in no particular order.
type AggregateInput struct {
	ID      string         `json:"id"`
	Bucket  string         `json:"bucket"`
	Key     string         `json:"key"`
	Results []BranchResult `json:"results"`
}

// Validate checks the identity fields; results may be empty or partial.
func (in AggregateInput) Validate() error {
	return RunInput{Bucket: in.Bucket, Key: in.Key, ID: in.ID}.Validate()
}
