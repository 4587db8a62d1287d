package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// Default thumbnail size in pixels.
const (
	DefaultThumbnailWidth  = 80
	DefaultThumbnailHeight = 80
)

const jpegQuality = 85

// Decode decodes a full image and returns it with its upper-case format name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, strings.ToUpper(format), nil
}

// Thumbnail renders src at exactly width x height. The source is
// centre-cropped to the target aspect ratio ("cover") and then scaled with
// Catmull-Rom. The result is encoded in the source format where an encoder
// exists, otherwise as JPEG.
func Thumbnail(src image.Image, format string, width, height int) ([]byte, string, error) {
	if width <= 0 || height <= 0 {
		return nil, "", fmt.Errorf("invalid thumbnail size %dx%d", width, height)
	}

	crop := coverRect(src.Bounds(), width, height)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	data, contentType, err := Encode(dst, format)
	if err != nil {
		return nil, "", err
	}

	log.Debug().
		Int("orig_width", src.Bounds().Dx()).
		Int("orig_height", src.Bounds().Dy()).
		Int("new_width", width).
		Int("new_height", height).
		Int("output_size", len(data)).
		Msg("Thumbnail generated")

	return data, contentType, nil
}

// Encode writes img in the named format. Formats without an encoder fall
// back to JPEG.
func Encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	contentType := ContentType(format)
	switch contentType {
	case "image/png":
		err = png.Encode(&buf, img)
	case "image/gif":
		err = gif.Encode(&buf, img, nil)
	default:
		contentType = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", contentType, err)
	}
	return buf.Bytes(), contentType, nil
}

// ContentType maps an upper-case format name to its MIME type.
func ContentType(format string) string {
	switch strings.ToUpper(format) {
	case "JPEG":
		return "image/jpeg"
	case "PNG":
		return "image/png"
	case "GIF":
		return "image/gif"
	case "WEBP":
		return "image/webp"
	case "TIFF":
		return "image/tiff"
	case "BMP":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}

// Thumbnail content types, in the order Encode prefers them.
var thumbnailTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Extension returns the file extension for a thumbnail content type.
func Extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// ThumbnailKey returns key with an extension matching contentType. Keys whose
// extension already names that format are returned unchanged.
func ThumbnailKey(key, contentType string) string {
	ext := path.Ext(key)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		if contentType == "image/jpeg" {
			return key
		}
	case ".png", ".gif":
		if Extension(contentType) == strings.ToLower(ext) {
			return key
		}
	}
	return strings.TrimSuffix(key, ext) + Extension(contentType)
}

// ThumbnailKeys lists every key ThumbnailKey can produce for key.
func ThumbnailKeys(key string) []string {
	keys := []string{key}
	for _, ct := range thumbnailTypes {
		if k := ThumbnailKey(key, ct); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// coverRect returns the largest centred region of b with the aspect ratio
// width:height.
func coverRect(b image.Rectangle, width, height int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 {
		return b
	}
	// Compare sw/sh with width/height without floating point.
	if sw*height > sh*width {
		cw := sh * width / height
		x0 := b.Min.X + (sw-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := sw * height / width
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}
