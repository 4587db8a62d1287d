// Package cli holds the terminal output helpers for the photo-pipeline CLI.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// WriteReport prints a photo record for a terminal.
func WriteReport(w io.Writer, p *photo.Photo) {
	fmt.Fprintln(w, "============================================")
	fmt.Fprintf(w, "Photo %s\n", p.ID)
	fmt.Fprintln(w, "============================================")
	fmt.Fprintf(w, "Status:   %s\n", p.ProcessingStatus)
	row(w, "Owner", p.Owner)
	row(w, "Album", p.AlbumID)
	row(w, "Source", p.Bucket+"/"+p.SourceKey)
	if !p.UploadTime.IsZero() {
		fmt.Fprintf(w, "Uploaded: %s\n", p.UploadTime.Format(time.RFC3339))
		if p.ProcessingStatus.Terminal() && !p.UpdatedAt.IsZero() {
			fmt.Fprintf(w, "Took:     %s\n", FormatDurationShort(p.UpdatedAt.Sub(p.UploadTime)))
		}
	}
	row(w, "Run", p.OrchestrationRef)

	fmt.Fprintln(w, "--------------------------------------------")
	if p.Thumbnail != nil {
		fmt.Fprintf(w, "Thumb:    %s (%dx%d)\n", p.Thumbnail.Key, p.Thumbnail.Width, p.Thumbnail.Height)
	}
	if p.Fullsize != nil {
		fmt.Fprintf(w, "Full:     %s (%dx%d)\n", p.Fullsize.Key, p.Fullsize.Width, p.Fullsize.Height)
	}
	row(w, "Format", p.Format)
	row(w, "Camera", strings.TrimSpace(p.ExifMake+" "+p.ExifModel))
	if g := p.GeoLocation; g != nil {
		fmt.Fprintf(w, "Location: %s %s\n", dms(g.Latitude), dms(g.Longitude))
	}
	if p.ObjectDetected != nil {
		fmt.Fprintf(w, "Labels:   %s\n", strings.Join(p.ObjectDetected, ", "))
	}
	if p.ProcessingStatus == photo.StatusFailed {
		fmt.Fprintf(w, "Failed:   %s\n", strings.Join(p.FailedStages, ", "))
		row(w, "Reason", p.FailureReason)
	}
}

func row(w io.Writer, label, value string) {
	if value == "" || value == "/" {
		return
	}
	fmt.Fprintf(w, "%-9s %s\n", label+":", value)
}

func dms(d photo.DMS) string {
	return fmt.Sprintf("%d°%d'%.2f\"%s", d.Degrees, d.Minutes, d.Seconds, d.Direction)
}

// Explain turns a pipeline error into a one-line message for the operator.
func Explain(err error) string {
	var (
		validation *photo.ValidationError
		notUpload  *photo.NotAnUploadError
		external   *photo.ExternalServiceError
		conflict   *photo.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return "Invalid input: " + validation.Error()
	case errors.As(err, &notUpload):
		return fmt.Sprintf("Key %q is not under an upload directory", notUpload.Key)
	case errors.As(err, &conflict):
		return fmt.Sprintf("Photo %s is already %s", conflict.ID, conflict.Actual)
	case errors.As(err, &external):
		return fmt.Sprintf("%s call failed, check credentials and region: %v", external.Service, external.Err)
	default:
		return err.Error()
	}
}
