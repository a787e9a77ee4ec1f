package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	local, err := NewLocalStorage(filepath.Join(t.TempDir(), "local"))
	require.NoError(t, err)

	db, err := NewSQLiteStorage(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Storage{
		"local":  local,
		"sqlite": db,
	}
}

func TestStorageReadWrite(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write("cam/timeline_1.json", []byte(`{"v":1}`)))

			data, err := s.Read("cam/timeline_1.json")
			require.NoError(t, err)
			assert.Equal(t, `{"v":1}`, string(data))

			// Overwrite replaces the object
			require.NoError(t, s.Write("cam/timeline_1.json", []byte(`{"v":2}`)))
			data, err = s.Read("cam/timeline_1.json")
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(data))

			exists, err := s.Exists("cam/timeline_1.json")
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestStorageMissingObjects(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Read("nope/timeline_1.json")
			assert.ErrorIs(t, err, ErrNotFound)

			exists, err := s.Exists("nope/timeline_1.json")
			require.NoError(t, err)
			assert.False(t, exists)

			assert.NoError(t, s.Delete("nope/timeline_1.json"))

			files, err := s.List("nope")
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestStorageListDirectChildren(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write("cam/timeline_2.json", []byte("2")))
			require.NoError(t, s.Write("cam/timeline_1.json", []byte("1")))
			require.NoError(t, s.Write("cam/nested/timeline_9.json", []byte("9")))
			require.NoError(t, s.Write("camera/timeline_1.json", []byte("x")))

			files, err := s.List("cam")
			require.NoError(t, err)
			assert.Equal(t, []string{"timeline_1.json", "timeline_2.json"}, files)

			require.NoError(t, s.Delete("cam/timeline_1.json"))
			files, err = s.List("cam")
			require.NoError(t, err)
			assert.Equal(t, []string{"timeline_2.json"}, files)
		})
	}
}

func TestLocalStorageRejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(root, "store"))
	require.NoError(t, err)

	for _, path := range []string{"../escaped/timeline_0.json", "..", "cam/../../escaped"} {
		t.Run(path, func(t *testing.T) {
			_, err := s.GetFullPath(path)
			assert.ErrorIs(t, err, ErrInvalidPath)

			assert.ErrorIs(t, s.Write(path, []byte("x")), ErrInvalidPath)
			_, err = s.Read(path)
			assert.ErrorIs(t, err, ErrInvalidPath)
			_, err = s.Exists(path)
			assert.ErrorIs(t, err, ErrInvalidPath)
			_, err = s.List(path)
			assert.ErrorIs(t, err, ErrInvalidPath)
			assert.ErrorIs(t, s.Delete(path), ErrInvalidPath)
		})
	}

	_, err = os.Stat(filepath.Join(root, "escaped"))
	assert.True(t, os.IsNotExist(err))

	// Paths that stay inside the root are fine, including ones through ..
	full, err := s.GetFullPath("cam/../cam/timeline_0.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "store", "cam", "timeline_0.json"), full)

	full, err = s.GetFullPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "store"), full)
}

func TestCleanKey(t *testing.T) {
	tests := map[string]string{
		"":                "",
		"/":               "",
		"cam":             "cam",
		"/cam/":           "cam",
		"cam//a.json":     "cam/a.json",
		"./cam/../b.json": "b.json",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanKey(in), in)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", contentType("cam/timeline_1.json"))
	assert.Equal(t, "application/dash+xml", contentType("manifest.mpd"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
	assert.Equal(t, "public, max-age=3600, immutable", cacheControl("cam/timeline_1.json"))
}
