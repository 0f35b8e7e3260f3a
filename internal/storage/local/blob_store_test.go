// Package local_test tests the local filesystem sink.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webarchiver/internal/storage"
	"github.com/JakeFAU/webarchiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		sink, err := local.New(local.Config{BaseDir: tempDir})
		require.NoError(t, err)
		assert.NotNil(t, sink)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "out")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(tempFile, []byte("x"), 0o600))

		_, err := local.New(local.Config{BaseDir: tempFile})
		assert.Error(t, err)
	})
}

func TestOpenAndCommit(t *testing.T) {
	tempDir := t.TempDir()
	sink, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("WritesFile", func(t *testing.T) {
		art, err := sink.Open(context.Background(), "crawled_urls.warc")
		require.NoError(t, err)
		_, err = art.Write([]byte("WARC/1.1\r\n"))
		require.NoError(t, err)

		uri, err := art.Commit(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "crawled_urls.warc"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		data, err := os.ReadFile(filepath.Join(tempDir, "crawled_urls.warc"))
		require.NoError(t, err)
		assert.Equal(t, "WARC/1.1\r\n", string(data))

		_, err = art.Write([]byte("more"))
		require.ErrorIs(t, err, storage.ErrCommitted)
		_, err = art.Commit(context.Background())
		require.ErrorIs(t, err, storage.ErrCommitted)
	})

	t.Run("EmptyArtifactStillExists", func(t *testing.T) {
		art, err := sink.Open(context.Background(), "empty.warc.gz")
		require.NoError(t, err)
		_, err = art.Commit(context.Background())
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(tempDir, "empty.warc.gz"))
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})

	t.Run("CreatesBatchDirectory", func(t *testing.T) {
		art, err := sink.Open(context.Background(), "batch-7/crawled_urls.warc.gz")
		require.NoError(t, err)
		_, err = art.Write([]byte("gz"))
		require.NoError(t, err)

		uri, err := art.Commit(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "batch-7", "crawled_urls.warc.gz"), uri)
		info, err := os.Stat(filepath.Join(tempDir, "batch-7"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := sink.Open(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := sink.Open(context.Background(), "../escape.warc")
		assert.Error(t, err)
		_, err = sink.Open(context.Background(), "../outside/escape.warc")
		assert.Error(t, err)
		_, err = os.Stat(filepath.Join(filepath.Dir(tempDir), "outside"))
		assert.True(t, os.IsNotExist(err))
	})
}
