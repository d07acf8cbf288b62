// ABOUTME: Local-disk blob store for message attachments
// ABOUTME: Writes uploads under a configured directory and returns their public URL path

package blob

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/creatorconnect/chat-gateway/internal/store"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// LocalStore saves attachment uploads on the local filesystem. Stored
// names are prefixed with a fresh UUID so uploads never collide and
// client-supplied names cannot traverse outside the directory.
type LocalStore struct {
	dir      string
	baseURL  string
	maxBytes int64
	logger   *slog.Logger
}

// NewLocalStore creates the uploads directory if needed. baseURL is the
// public path prefix the gateway serves the directory under. maxBytes
// of zero means no limit.
func NewLocalStore(dir, baseURL string, maxBytes int64, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating uploads directory: %w", err)
	}
	return &LocalStore{
		dir:      dir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxBytes: maxBytes,
		logger:   logger.With("component", "blob"),
	}, nil
}

// Save writes the upload to disk and returns an attachment record with
// the public URL, the original filename, and the media type derived from
// contentType.
func (s *LocalStore) Save(r io.Reader, fileName, contentType string) (*store.Attachment, error) {
	// Strip any client-supplied directory components
	fileName = filepath.Base(fileName)
	if fileName == "." || fileName == string(filepath.Separator) || fileName == "" {
		fileName = "upload"
	}
	stored := uuid.New().String() + "-" + fileName

	f, err := os.Create(filepath.Join(s.dir, stored))
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}

	if s.maxBytes > 0 {
		r = io.LimitReader(r, s.maxBytes+1)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxBytes > 0 && size > s.maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(filepath.Join(s.dir, stored))
		return nil, fmt.Errorf("writing upload: %w", err)
	}

	s.logger.Debug("attachment stored",
		"file", stored,
		"size", size,
		"media_type", MediaTypeFor(contentType))

	return &store.Attachment{
		URL:       path.Join(s.baseURL, stored),
		FileName:  fileName,
		MediaType: MediaTypeFor(contentType),
		Size:      size,
	}, nil
}

// Dir returns the directory uploads are written to, for the gateway's
// static file handler.
func (s *LocalStore) Dir() string {
	return s.dir
}

// MediaTypeFor maps a MIME content type onto the coarse media categories
// messages carry: image, video, or file for everything else.
func MediaTypeFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return store.MediaTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return store.MediaTypeVideo
	default:
		return store.MediaTypeFile
	}
}
