// Package imaging decodes uploaded photos, reads their EXIF metadata, and
// renders fixed-size thumbnails.
//
// Format detection and decoding go through the standard image registry, with
// golang.org/x/image adding WebP, TIFF and BMP. EXIF is read with
// evanoberholster/imagemeta, which only scans the metadata block rather than
// decoding pixels.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/fpang/photo-pipeline/internal/photo"
)

// ErrEmpty is returned for a zero-length image body.
var ErrEmpty = errors.New("empty image body")

// Info is what Identify learns about an image.
type Info struct {
	Format string // upper-case, e.g. "JPEG"
	Width  int
	Height int

	CameraMake  string
	CameraModel string
	GPS         *photo.Coordinates
}

// Identify reads the image header for format and dimensions and the EXIF block
// for camera and GPS data. Missing or unreadable EXIF is not an error.
func Identify(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	info := &Info{
		Format: strings.ToUpper(format),
		Width:  cfg.Width,
		Height: cfg.Height,
	}

	readExif(data, info)

	log.Debug().
		Str("format", info.Format).
		Int("width", info.Width).
		Int("height", info.Height).
		Bool("has_gps", info.GPS != nil).
		Msg("Image identified")

	return info, nil
}

// readExif fills camera and GPS fields from the EXIF block, if any.
func readExif(data []byte, info *Info) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("format", info.Format).Msg("No readable EXIF metadata")
		return
	}

	info.CameraMake = strings.TrimSpace(exifData.Make)
	info.CameraModel = strings.TrimSpace(exifData.Model)

	// A 0,0 fix is what untagged images report; treat it as absent.
	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		info.GPS = &photo.Coordinates{
			Latitude:  gps.Latitude(),
			Longitude: gps.Longitude(),
		}
	}
}
