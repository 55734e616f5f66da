package filestore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFileStore(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalFileStore(root)
	require.NoError(t, err)

	t.Run("SaveAndLookup", func(t *testing.T) {
		_, ok := s.Lookup("ab12", "foto.png")
		require.False(t, ok)

		path, err := s.Save(strings.NewReader("png"), "ab12", "foto.png")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, "ab", "ab12", "foto.png"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "png", string(data))

		got, ok := s.Lookup("ab12", "foto.png")
		require.True(t, ok)
		require.Equal(t, path, got)
	})

	t.Run("Idempotent", func(t *testing.T) {
		path, err := s.Save(strings.NewReader("other"), "ab12", "foto.png")
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "png", string(data))
	})

	t.Run("NamesStayInside", func(t *testing.T) {
		path, err := s.Save(strings.NewReader("x"), "cd34", "../../etc/passwd")
		require.NoError(t, err)
		require.Equal(t, filepath.Join(root, "cd", "cd34", "passwd"), path)

		path, err = s.Save(strings.NewReader("x"), "ef56", "..")
		require.NoError(t, err)
		require.Equal(t, "file", filepath.Base(path))
	})

	t.Run("InvalidID", func(t *testing.T) {
		for _, id := range []string{"", "../x", "a/b", ".hidden"} {
			_, err := s.Save(strings.NewReader("x"), id, "f")
			require.ErrorIs(t, err, ErrInvalidID, id)
		}
	})

	t.Run("FailedCopyLeavesNothing", func(t *testing.T) {
		_, err := s.Save(failingReader{}, "gh78", "f.bin")
		require.Error(t, err)
		_, ok := s.Lookup("gh78", "f.bin")
		require.False(t, ok)
		entries, err := os.ReadDir(filepath.Join(root, "gh", "gh78"))
		require.NoError(t, err)
		require.Empty(t, entries)
	})
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}
