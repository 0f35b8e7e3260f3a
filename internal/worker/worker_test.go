package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/remote"
)

type fakeLocator struct {
	addr string
	err  error
}

func (f fakeLocator) PublicAddress(context.Context, string) (string, error) { return f.addr, f.err }

type fakeSession struct {
	mu          sync.Mutex
	copied      []string
	transferred string
	commands    []string
	deadline    time.Time
	closed      bool
	copyErr     error
	execErr     error
	result      remote.ExecResult
	transfer    string
}

func (s *fakeSession) Copy(_ context.Context, localDir, remoteDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.copied = append(s.copied, localDir+"->"+remoteDir)
	data, _ := os.ReadFile(filepath.Join(localDir, s.transfer))
	s.transferred = string(data)
	return s.copyErr
}

func (s *fakeSession) Exec(ctx context.Context, command string) (remote.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	s.deadline, _ = ctx.Deadline()
	return s.result, s.execErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	hosts   []string
}

func (d *fakeDialer) Dial(_ context.Context, host string) (remote.Session, error) {
	d.hosts = append(d.hosts, host)
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		InstanceID:     "i-123",
		LocalDir:       t.TempDir(),
		RemoteDir:      "/home/ubuntu/app",
		OutputLocation: "s3://bucket/daily",
		ExecTimeout:    time.Minute,
	}
}

func TestProcessRunsFullSequence(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	sess := &fakeSession{transfer: "urls.txt", result: remote.ExecResult{Stdout: "done"}}
	dialer := &fakeDialer{session: sess}
	w := New(fakeLocator{addr: "203.0.113.7"}, dialer, cfg, zap.NewNop())

	res, err := w.Process(context.Background(), Batch{ID: "7", URLs: []string{"https://a.test", "https://b.test"}})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Stdout)

	assert.Equal(t, []string{"203.0.113.7"}, dialer.hosts)
	assert.Equal(t, []string{cfg.LocalDir + "->/home/ubuntu/app"}, sess.copied)
	assert.Equal(t, "https://a.test\nhttps://b.test\n", sess.transferred)
	require.Len(t, sess.commands, 1)
	assert.Equal(t,
		"/home/ubuntu/app/webarchiver capture --input_urls /home/ubuntu/app/urls.txt --output_location s3://bucket/daily",
		sess.commands[0])
	assert.False(t, sess.deadline.IsZero(), "exec must run under a timeout")
	assert.True(t, sess.closed)
}

func TestProcessEmptyBatchWritesEmptyFile(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{transfer: "urls.txt"}
	w := New(fakeLocator{addr: "h"}, &fakeDialer{session: sess}, testConfig(t), nil)

	_, err := w.Process(context.Background(), Batch{ID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, sess.transferred)
	assert.Len(t, sess.commands, 1)
}

func TestCommandQuotesArguments(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.RemoteDir = "/home/ubuntu/my app"
	cfg.OutputLocation = "file:///data/out dir"
	w := New(nil, nil, cfg, nil)

	got := w.Command(Batch{ID: "7", OutputName: "batch 7.warc.gz"})
	assert.Equal(t,
		`'/home/ubuntu/my app/webarchiver' capture --input_urls '/home/ubuntu/my app/urls.txt' `+
			`--output_location 'file:///data/out dir' --output_name 'batch 7.warc.gz'`,
		got)
}

func TestProcessStageFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name    string
		locator fakeLocator
		dialer  *fakeDialer
		want    string
	}{
		{"resolve", fakeLocator{err: boom}, &fakeDialer{session: &fakeSession{}}, "resolve instance address"},
		{"dial", fakeLocator{addr: "h"}, &fakeDialer{err: boom}, "connect to instance"},
		{"copy", fakeLocator{addr: "h"}, &fakeDialer{session: &fakeSession{copyErr: boom}}, "copy program directory"},
		{"exec", fakeLocator{addr: "h"}, &fakeDialer{session: &fakeSession{execErr: boom}}, "invoke capture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := New(tt.locator, tt.dialer, testConfig(t), nil)
			_, err := w.Process(context.Background(), Batch{ID: "1", URLs: []string{"https://a.test"}})
			require.ErrorIs(t, err, boom)
			assert.Contains(t, err.Error(), tt.want)
			if tt.dialer.session != nil && tt.dialer.err == nil && tt.locator.err == nil {
				assert.True(t, tt.dialer.session.closed, "session must be closed on failure")
			}
		})
	}
}

func TestProcessMissingLocalDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.LocalDir = filepath.Join(cfg.LocalDir, "missing")
	dialer := &fakeDialer{session: &fakeSession{}}
	w := New(fakeLocator{addr: "h"}, dialer, cfg, nil)

	_, err := w.Process(context.Background(), Batch{ID: "1"})
	require.ErrorContains(t, err, "write transfer file")
	assert.Empty(t, dialer.hosts)
}
