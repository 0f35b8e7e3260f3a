package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestSink creates a Sink pointed at a test server.
func newTestSink(t *testing.T, handler http.Handler) *Sink {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sink, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return sink
}

func TestSinkCommitUploadsObject(t *testing.T) {
	objectName := "warc/crawled_urls.warc.gz"
	objectData := "WARC/1.1 test-data"

	// This handler simulates the GCS JSON API for multipart uploads.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), objectData)

		fmt.Fprintln(w, `{ "name": "`+objectName+`", "bucket": "test-bucket" }`)
	})

	sink := newTestSink(t, handler)
	art, err := sink.Open(context.Background(), objectName)
	require.NoError(t, err)
	_, err = art.Write([]byte(objectData))
	require.NoError(t, err)

	uri, err := art.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+objectName, uri)
}

func TestSinkCommitError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	sink := newTestSink(t, handler)
	art, err := sink.Open(context.Background(), "object")
	require.NoError(t, err)
	_, err = art.Write([]byte("data"))
	require.NoError(t, err)

	_, err = art.Commit(context.Background())
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)
}
