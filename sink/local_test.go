package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSink_Append(t *testing.T) {
	t.Run("WritesSegmentsSequentially", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "part-0.data")

		s, err := NewLocalSink(path)
		require.NoError(t, err)

		n, err := s.Append(context.Background(), [][]byte{[]byte("hello "), []byte("world")})
		require.NoError(t, err)
		assert.Equal(t, int64(11), n)

		require.NoError(t, s.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("MultipleAppendsAccumulate", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "part-1.data")

		s, err := NewLocalSink(path)
		require.NoError(t, err)

		_, err = s.Append(context.Background(), [][]byte{[]byte("abc")})
		require.NoError(t, err)
		_, err = s.Append(context.Background(), [][]byte{[]byte("def")})
		require.NoError(t, err)
		require.NoError(t, s.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "abcdef", string(data))
	})

	t.Run("ReportsKindAndMountPoint", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "part-2.data")

		s, err := NewLocalSink(path)
		require.NoError(t, err)
		defer s.Close()

		assert.Equal(t, LocalDisk, s.Kind())
		assert.Equal(t, dir, s.MountPoint())
		assert.Equal(t, path, s.Path())
	})
}
