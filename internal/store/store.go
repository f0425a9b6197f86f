// Package store persists image overrides for asset slots.
//
// A Store never fails reads: missing, unreadable or corrupt entries are
// reported as absent so that callers fall back to their defaults. Writes
// report failures to the caller, who decides whether to surface them.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidKey    = errors.New("store: invalid asset key")
	ErrEmptyImage    = errors.New("store: empty image")
	ErrNotImage      = errors.New("store: data is not an image")
	ErrQuotaExceeded = errors.New("store: quota exceeded")
	ErrUnavailable   = errors.New("store: storage unavailable")
)

// MediaPrefix is where locally held asset bytes are served from.
const MediaPrefix = "/media/"

var keyPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidKey reports whether key is usable as a slot key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Image is the payload of a persisted entry: either a remote URL or raw bytes.
type Image struct {
	URL         string
	Data        []byte
	ContentType string
}

// Empty reports whether the image carries neither a URL nor bytes.
func (img Image) Empty() bool {
	return strings.TrimSpace(img.URL) == "" && len(img.Data) == 0
}

// Store is the durable key/value boundary for asset overrides.
type Store interface {
	// ListKeys returns every persisted key in sorted order. Storage failures
	// yield an empty slice.
	ListKeys(ctx context.Context) []string
	// Load resolves key to a displayable reference.
	Load(ctx context.Context, key string) (string, bool)
	// Save overwrites the entry for key.
	Save(ctx context.Context, key string, img Image) error
	// Blob returns the bytes of a locally persisted entry.
	Blob(ctx context.Context, key string) (*Image, bool)
}

// Checksum is the hex SHA-256 of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MediaPath is the reference under which the bytes for key are served.
// The version query changes with the content so browsers never show a stale image.
func MediaPath(key, checksum string) string {
	v := checksum
	if len(v) > 12 {
		v = v[:12]
	}
	return MediaPrefix + key + "?v=" + url.QueryEscape(v)
}

// SniffImage returns the detected content type of data and whether it is an image.
func SniffImage(data []byte) (string, bool) {
	ct := http.DetectContentType(data)
	return ct, strings.HasPrefix(ct, "image/")
}

// ValidRemoteURL reports whether ref is an absolute http(s) URL.
func ValidRemoteURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
