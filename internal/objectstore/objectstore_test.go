package objectstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)

	key, err := s.Put(strings.NewReader(`{"grid":[[1]]}`), ".json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".json"))

	data, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, `{"grid":[[1]]}`, string(data))

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be gone")
}

func TestPutBytesKeysAreUnique(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	a, err := s.PutBytes([]byte("a"), ".zip")
	require.NoError(t, err)
	b, err := s.PutBytes([]byte("a"), ".zip")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMissingAndInvalidKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("nope.json")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, key := range []string{"", "../etc/passwd", "a/b", `a\b`} {
		_, err := s.Path(key)
		assert.Error(t, err, key)
	}
}

func TestDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	key, err := s.PutBytes([]byte("x"), ".bin")
	require.NoError(t, err)
	require.NoError(t, s.Delete(key))
	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
}
