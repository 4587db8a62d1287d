package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(w, h)); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantFormat string
		wantW      int
		wantH      int
	}{
		{"jpeg landscape", encodeJPEG(t, 200, 120), "JPEG", 200, 120},
		{"png portrait", encodePNG(t, 50, 90), "PNG", 50, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Identify(tt.data)
			if err != nil {
				t.Fatalf("Identify() error: %v", err)
			}
			if info.Format != tt.wantFormat || info.Width != tt.wantW || info.Height != tt.wantH {
				t.Errorf("Identify() = %s %dx%d, want %s %dx%d",
					info.Format, info.Width, info.Height, tt.wantFormat, tt.wantW, tt.wantH)
			}
			if info.GPS != nil {
				t.Errorf("Identify() GPS = %+v, want nil for image without EXIF", info.GPS)
			}
			if info.CameraMake != "" || info.CameraModel != "" {
				t.Errorf("Identify() camera = %q/%q, want empty", info.CameraMake, info.CameraModel)
			}
		})
	}
}

func TestIdentifyErrors(t *testing.T) {
	if _, err := Identify(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Identify(nil) error = %v, want ErrEmpty", err)
	}
	if _, err := Identify([]byte("definitely not an image")); err == nil {
		t.Error("Identify(garbage) expected error")
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name     string
		w, h     int
		format   string
		wantType string
	}{
		{"wide jpeg", 400, 200, "JPEG", "image/jpeg"},
		{"tall png", 100, 300, "PNG", "image/png"},
		{"small webp falls back to jpeg", 40, 40, "WEBP", "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, contentType, err := Thumbnail(testImage(tt.w, tt.h), tt.format, 80, 80)
			if err != nil {
				t.Fatalf("Thumbnail() error: %v", err)
			}
			if contentType != tt.wantType {
				t.Errorf("content type = %s, want %s", contentType, tt.wantType)
			}
			cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("decode thumbnail: %v", err)
			}
			if cfg.Width != 80 || cfg.Height != 80 {
				t.Errorf("thumbnail = %dx%d, want 80x80", cfg.Width, cfg.Height)
			}
		})
	}

	if _, _, err := Thumbnail(testImage(10, 10), "JPEG", 0, 80); err == nil {
		t.Error("Thumbnail with zero width expected error")
	}
}

func TestCoverRect(t *testing.T) {
	tests := []struct {
		name string
		b    image.Rectangle
		w, h int
		want image.Rectangle
	}{
		{"wide to square", image.Rect(0, 0, 400, 200), 80, 80, image.Rect(100, 0, 300, 200)},
		{"tall to square", image.Rect(0, 0, 100, 300), 80, 80, image.Rect(0, 100, 100, 200)},
		{"same ratio", image.Rect(0, 0, 160, 160), 80, 80, image.Rect(0, 0, 160, 160)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coverRect(tt.b, tt.w, tt.h); got != tt.want {
				t.Errorf("coverRect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(encodePNG(t, 12, 7))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if format != "PNG" || img.Bounds().Dx() != 12 || img.Bounds().Dy() != 7 {
		t.Errorf("Decode() = %s %v, want PNG 12x7", format, img.Bounds())
	}
}

func TestThumbnailKey(t *testing.T) {
	tests := []struct {
		key         string
		contentType string
		want        string
	}{
		{"a/resized/beach.jpg", "image/jpeg", "a/resized/beach.jpg"},
		{"a/resized/beach.JPEG", "image/jpeg", "a/resized/beach.JPEG"},
		{"a/resized/logo.png", "image/png", "a/resized/logo.png"},
		{"a/resized/scan.webp", "image/jpeg", "a/resized/scan.jpg"},
		{"a/resized/scan.tiff", "image/jpeg", "a/resized/scan.jpg"},
		{"a/resized/old.bmp", "image/jpeg", "a/resized/old.jpg"},
		{"a/resized/noext", "image/jpeg", "a/resized/noext.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := ThumbnailKey(tt.key, tt.contentType); got != tt.want {
				t.Errorf("ThumbnailKey(%q, %s) = %q, want %q", tt.key, tt.contentType, got, tt.want)
			}
		})
	}

	keys := ThumbnailKeys("a/resized/scan.webp")
	if len(keys) != 4 || keys[0] != "a/resized/scan.webp" || keys[1] != "a/resized/scan.jpg" {
		t.Errorf("ThumbnailKeys = %v", keys)
	}
	if keys := ThumbnailKeys("a/resized/beach.jpg"); len(keys) != 3 {
		t.Errorf("ThumbnailKeys(jpg) = %v, want the key plus png and gif", keys)
	}
}
