// ABOUTME: Tests for the local blob store
// ABOUTME: Covers storage, URL shape, media type mapping, size limits, and name sanitization

package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorconnect/chat-gateway/internal/store"
)

func newTestBlobStore(t *testing.T, maxBytes int64) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"), "/uploads", maxBytes, nil)
	require.NoError(t, err)
	return s
}

func TestLocalStore_Save(t *testing.T) {
	s := newTestBlobStore(t, 0)

	att, err := s.Save(strings.NewReader("file-bytes"), "photo.jpg", "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, "photo.jpg", att.FileName)
	assert.Equal(t, store.MediaTypeImage, att.MediaType)
	assert.EqualValues(t, len("file-bytes"), att.Size)
	assert.True(t, strings.HasPrefix(att.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(att.URL, "-photo.jpg"))

	// The stored file is readable under the uploads dir
	data, err := os.ReadFile(filepath.Join(s.Dir(), filepath.Base(att.URL)))
	require.NoError(t, err)
	assert.Equal(t, "file-bytes", string(data))
}

func TestLocalStore_UniqueStoredNames(t *testing.T) {
	s := newTestBlobStore(t, 0)

	first, err := s.Save(strings.NewReader("one"), "doc.pdf", "application/pdf")
	require.NoError(t, err)
	second, err := s.Save(strings.NewReader("two"), "doc.pdf", "application/pdf")
	require.NoError(t, err)

	assert.NotEqual(t, first.URL, second.URL)
}

func TestLocalStore_SizeLimit(t *testing.T) {
	s := newTestBlobStore(t, 4)

	_, err := s.Save(strings.NewReader("too large"), "big.bin", "application/octet-stream")
	assert.ErrorIs(t, err, ErrTooLarge)

	// Rejected uploads leave nothing behind
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	att, err := s.Save(strings.NewReader("ok"), "small.bin", "application/octet-stream")
	require.NoError(t, err)
	assert.EqualValues(t, 2, att.Size)
}

func TestLocalStore_SanitizesFileName(t *testing.T) {
	s := newTestBlobStore(t, 0)

	att, err := s.Save(strings.NewReader("x"), "../../etc/passwd", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "passwd", att.FileName)
	assert.NotContains(t, att.URL, "..")
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, store.MediaTypeImage, MediaTypeFor("image/png"))
	assert.Equal(t, store.MediaTypeVideo, MediaTypeFor("video/mp4"))
	assert.Equal(t, store.MediaTypeFile, MediaTypeFor("application/pdf"))
	assert.Equal(t, store.MediaTypeFile, MediaTypeFor(""))
}
