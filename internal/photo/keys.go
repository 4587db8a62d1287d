package photo

import (
	"net/url"
	"path"
	"strings"
)

// DefaultUploadSegment is the path segment that marks a raw upload.
const DefaultUploadSegment = "upload"

// Path segments for derived objects, placed where the upload segment was.
const (
	ResizedSegment  = "resized"
	FullsizeSegment = "fullsize"
)

// DecodeKey turns an object key as delivered in a storage notification into
// the real key: '+' becomes a space, then percent-escapes are resolved.
func DecodeKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", &ValidationError{Field: "key", Reason: "undecodable object key", Err: err}
	}
	return key, nil
}

// splitUpload locates the first directory segment equal to segment and
// returns what precedes it and what follows it.
func splitUpload(key, segment string) (prefix, rest string, ok bool) {
	parts := strings.Split(key, "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] != segment {
			continue
		}
		rest = strings.Join(parts[i+1:], "/")
		if rest == "" {
			return "", "", false
		}
		return strings.Join(parts[:i], "/"), rest, true
	}
	return "", "", false
}

// IsUploadKey reports whether key lives under an upload directory segment
// and names an object beneath it.
func IsUploadKey(key, segment string) bool {
	_, _, ok := splitUpload(key, segment)
	return ok
}

// DerivedKeys returns the thumbnail and full-size keys for an upload key:
// the upload segment is replaced by "resized" and "fullsize" respectively.
func DerivedKeys(key, segment string) (thumbnail, fullsize string, err error) {
	prefix, rest, ok := splitUpload(key, segment)
	if !ok {
		return "", "", &NotAnUploadError{Key: key}
	}
	return joinKey(prefix, ResizedSegment, rest), joinKey(prefix, FullsizeSegment, rest), nil
}

func joinKey(prefix, dir, rest string) string {
	if prefix == "" {
		return dir + "/" + rest
	}
	return prefix + "/" + dir + "/" + rest
}

// KeyStem returns the filename of key up to its first dot, so
// "a/upload/beach.2024.jpg" gives "beach". A filename starting with a dot
// has an empty stem.
func KeyStem(key string) string {
	base, _, _ := strings.Cut(path.Base(key), ".")
	return base
}
