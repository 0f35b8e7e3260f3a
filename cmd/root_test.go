package cmd

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/capture"
	"github.com/JakeFAU/webarchiver/internal/compute"
	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/dispatcher"
)

type fakeCapturer struct {
	src     capture.Source
	output  string
	summary capture.Summary
	err     error
}

func (f *fakeCapturer) RunFrom(_ context.Context, src capture.Source, output string) (capture.Summary, error) {
	f.src = src
	f.output = output
	return f.summary, f.err
}

type fakeFleet struct {
	spec       compute.Spec
	ids        []string
	terminated string
	report     dispatcher.Report
	err        error
}

func (f *fakeFleet) Create(_ context.Context, spec compute.Spec) ([]string, error) {
	f.spec = spec
	return f.ids, f.err
}

func (f *fakeFleet) Terminate(_ context.Context, id string) error {
	f.terminated = id
	return f.err
}

func (f *fakeFleet) Run(context.Context) (dispatcher.Report, error) {
	return f.report, f.err
}

type fakeApp struct {
	cfg      config.Config
	capturer *fakeCapturer
	fleet    *fakeFleet
	ready    bool
	closed   int
}

func (a *fakeApp) Logger() *zap.Logger    { return zap.NewNop() }
func (a *fakeApp) Config() config.Config { return a.cfg }
func (a *fakeApp) Capturer(context.Context) (Capturer, error) {
	return a.capturer, nil
}
func (a *fakeApp) Fleet(context.Context) (FleetController, error) {
	return a.fleet, nil
}
func (a *fakeApp) InstanceSpec() compute.Spec {
	return compute.Spec{ImageID: a.cfg.Fleet.ImageID, InstanceType: a.cfg.Fleet.InstanceType, Count: a.cfg.Fleet.Count}
}
func (a *fakeApp) StartOperator() (net.Addr, error) { return nil, nil }
func (a *fakeApp) MarkReady()                       { a.ready = true }
func (a *fakeApp) Close(context.Context) error {
	a.closed++
	return nil
}

// withFakeApp swaps the app and logger factories for the duration of the test.
func withFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	fake := &fakeApp{capturer: &fakeCapturer{}, fleet: &fakeFleet{}}

	prevApp, prevLogger := newApp, newLogger
	newApp = func(cfg config.Config, _ *zap.Logger) (App, error) {
		fake.cfg = cfg
		return fake, nil
	}
	newLogger = func(bool, string) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() {
		newApp, newLogger = prevApp, prevLogger
	})
	return fake
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out, &out)
	return out.String(), err
}

func TestCaptureCommandInlineList(t *testing.T) {
	fake := withFakeApp(t)
	fake.capturer.summary = capture.Summary{URI: "/tmp/out/crawled_urls.warc.gz", Records: 2, Bytes: 10}

	out, err := execute(t, "capture", "--input_urls", "https://a.example, https://b.example", "--output_location", "file:///tmp/out")
	require.NoError(t, err)

	assert.Equal(t, capture.SourceInline, fake.capturer.src.Kind)
	assert.Equal(t, []string{"https://a.example", " https://b.example"}, fake.capturer.src.URLs)
	assert.Equal(t, "file:///tmp/out", fake.capturer.output)
	assert.Contains(t, out, "/tmp/out/crawled_urls.warc.gz\t2 records")
	assert.True(t, fake.ready)
	assert.Equal(t, 1, fake.closed)
}

func TestCaptureCommandFileInput(t *testing.T) {
	fake := withFakeApp(t)
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example\n"), 0o600))

	_, err := execute(t, "capture", "--input_urls", path, "--output_location", "s3://bucket")
	require.NoError(t, err)
	assert.Equal(t, capture.SourceFile, fake.capturer.src.Kind)
	assert.Equal(t, path, fake.capturer.src.Path)
}

func TestCaptureCommandFlagsReachConfig(t *testing.T) {
	fake := withFakeApp(t)

	_, err := execute(t, "capture",
		"--input_urls", "https://a.example",
		"--output_location", "file:///tmp/out",
		"--archive_version", "1.0",
		"--compress=false",
		"--output_name", "batch.warc",
		"--timeout", "5s",
	)
	require.NoError(t, err)
	assert.Equal(t, "1.0", fake.cfg.Archive.Version)
	assert.False(t, fake.cfg.Archive.Compress)
	assert.Equal(t, "batch.warc", fake.cfg.Archive.OutputName)
	assert.Equal(t, "5s", fake.cfg.HTTP.Timeout.String())
}

func TestCaptureCommandRequiresInput(t *testing.T) {
	fake := withFakeApp(t)

	_, err := execute(t, "capture", "--output_location", "file:///tmp/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture.input_urls")
	assert.Nil(t, fake.capturer.src.URLs)
	assert.Equal(t, 1, fake.closed)
}

func TestCaptureCommandPropagatesRunError(t *testing.T) {
	fake := withFakeApp(t)
	fake.capturer.err = capture.ErrStorage

	_, err := execute(t, "capture", "--input_urls", "https://a.example", "--output_location", "file:///tmp/out")
	require.ErrorIs(t, err, capture.ErrStorage)
}

func TestConfigFileIsRead(t *testing.T) {
	fake := withFakeApp(t)
	path := filepath.Join(t.TempDir(), "webarchiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"capture:\n  input_urls: https://a.example\n  output_location: gs://bucket/prefix\n",
	), 0o600))

	_, err := execute(t, "capture", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/prefix", fake.capturer.output)
}

func TestMissingConfigFileFails(t *testing.T) {
	withFakeApp(t)

	_, err := execute(t, "capture", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestFleetCreatePrintsIDs(t *testing.T) {
	fake := withFakeApp(t)
	fake.fleet.ids = []string{"i-1", "i-2"}

	out, err := execute(t, "fleet", "--action", "create", "--ami", "ami-1", "--count", "2")
	require.NoError(t, err)
	assert.Equal(t, "i-1\ni-2\n", out)
	assert.Equal(t, "ami-1", fake.fleet.spec.ImageID)
	assert.Equal(t, "t2.nano", fake.fleet.spec.InstanceType)
	assert.Equal(t, 2, fake.fleet.spec.Count)
}

func TestFleetTerminate(t *testing.T) {
	fake := withFakeApp(t)

	out, err := execute(t, "fleet", "--action", "terminate", "--ec2_instance_id", "i-9")
	require.NoError(t, err)
	assert.Equal(t, "i-9", fake.fleet.terminated)
	assert.Contains(t, out, "terminated i-9")
}

func TestFleetTerminateRequiresInstance(t *testing.T) {
	withFakeApp(t)

	_, err := execute(t, "fleet", "--action", "terminate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fleet.instance_id")
}

func TestFleetRunReportsBatches(t *testing.T) {
	fake := withFakeApp(t)
	fake.fleet.report = dispatcher.Report{Batches: []dispatcher.BatchResult{
		{ID: "1", URLs: 3, Status: dispatcher.BatchSucceeded},
		{ID: "2", URLs: 1, Status: dispatcher.BatchFailed},
	}}
	fake.fleet.err = errors.New("1 of 2 batches failed")
	keyFile := filepath.Join(t.TempDir(), "key")

	out, err := execute(t, "fleet",
		"--action", "run",
		"--ec2_instance_id", "i-1",
		"--db_host", "redshift.local",
		"--db_name", "dev",
		"--table_name", "workspace.websites",
		"--field_name", "url",
		"--urlset_id_field_name", "urlset_id",
		"--crawler_local_directory", "/opt/crawler",
		"--crawler_remote_directory", "/home/ubuntu/crawler",
		"--aws_ec2_key_file", keyFile,
		"--output_location", "s3://bucket/crawls",
		"--max_batches", "2",
	)
	require.Error(t, err)
	assert.Contains(t, out, "1\tsucceeded\t3 urls")
	assert.Contains(t, out, "2\tfailed\t1 urls")
	assert.Equal(t, 2, fake.cfg.Dispatch.MaxBatches)
	assert.Equal(t, keyFile, fake.cfg.Remote.KeyFile)
	assert.Equal(t, "s3://bucket/crawls", fake.cfg.Capture.OutputLocation)
	assert.Equal(t, 5439, fake.cfg.DB.Port)
}

func TestFleetUnknownAction(t *testing.T) {
	withFakeApp(t)

	_, err := execute(t, "fleet", "--action", "scale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fleet.action")
}

func TestResolveAppWithoutPreRun(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
