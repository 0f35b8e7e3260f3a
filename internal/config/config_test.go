package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %v", cfg.HTTP.Timeout)
	}
	if cfg.Archive.Version != "1.1" || !cfg.Archive.Compress {
		t.Fatalf("expected WARC 1.1 compressed defaults, got %+v", cfg.Archive)
	}
	if cfg.Remote.User != "ubuntu" || cfg.Remote.TransferFile != "urls.txt" {
		t.Fatalf("unexpected remote defaults: %+v", cfg.Remote)
	}
	if cfg.DB.Port != 5439 {
		t.Fatalf("expected redshift port default, got %d", cfg.DB.Port)
	}
	if cfg.Dispatch.MaxBatches != 0 {
		t.Fatalf("expected unlimited batches by default, got %d", cfg.Dispatch.MaxBatches)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
capture:
  output_location: s3://archive-bucket/daily
http:
  timeout: 45s
  user_agent: archiver-test
archive:
  version: "1.0"
  compress: false
  output_name: out.warc
db:
  host: redshift.internal
  name: dev
  table: workspace.websites
  field: website
  batch_field: batch_id
dispatch:
  max_batches: 1
  output_name_template: "batch-{batch}.warc.gz"
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Timeout != 45*time.Second || cfg.HTTP.UserAgent != "archiver-test" {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if cfg.Archive.Version != "1.0" || cfg.Archive.Compress || cfg.Archive.OutputName != "out.warc" {
		t.Fatalf("expected archive overrides to apply: %+v", cfg.Archive)
	}
	if cfg.DB.Table != "workspace.websites" || cfg.DB.BatchField != "batch_id" {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.Dispatch.MaxBatches != 1 || cfg.Dispatch.OutputNameTemplate != "batch-{batch}.warc.gz" {
		t.Fatalf("expected dispatch overrides to apply: %+v", cfg.Dispatch)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging")
	}
}

func TestLoadFlagsOverrideFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("db:\n  host: from-file\n  name: from-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("WEBARCHIVER_DB_NAME", "from-env")
	t.Setenv("WEBARCHIVER_DB_PASSWORD", "secret")

	fs := pflag.NewFlagSet("fleet", pflag.ContinueOnError)
	fs.String("db_host", "", "")
	fs.Int("max_batches", 0, "")
	fs.String("table_name", "", "")
	if err := fs.Parse([]string{"--db_host", "from-flag", "--max_batches", "3"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.Host != "from-flag" {
		t.Fatalf("expected flag to win, got %q", cfg.DB.Host)
	}
	if cfg.DB.Name != "from-env" {
		t.Fatalf("expected env to override file, got %q", cfg.DB.Name)
	}
	if cfg.DB.Password != "secret" {
		t.Fatalf("expected password from env")
	}
	if cfg.Dispatch.MaxBatches != 3 {
		t.Fatalf("expected max_batches 3, got %d", cfg.Dispatch.MaxBatches)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		HTTP:    HTTPConfig{Timeout: 10 * time.Second},
		Archive: ArchiveConfig{Version: "1.1"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.Timeout = 0
				return c
			}(),
			want: "http.timeout",
		},
		{
			name: "invalid version",
			cfg: func() Config {
				c := base
				c.Archive.Version = "0.9"
				return c
			}(),
			want: "archive.version",
		},
		{
			name: "negative max batches",
			cfg: func() Config {
				c := base
				c.Dispatch.MaxBatches = -1
				return c
			}(),
			want: "dispatch.max_batches",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.Notify.Topic = "archives"
				return c
			}(),
			want: "notify.project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateCapture(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if err := cfg.ValidateCapture(); err == nil || !strings.Contains(err.Error(), "capture.input_urls") {
		t.Fatalf("expected input_urls error, got %v", err)
	}
	cfg.Capture.InputURLs = "https://a.test"
	if err := cfg.ValidateCapture(); err == nil || !strings.Contains(err.Error(), "capture.output_location") {
		t.Fatalf("expected output_location error, got %v", err)
	}
	cfg.Capture.OutputLocation = "file:///tmp"
	if err := cfg.ValidateCapture(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateFleet(t *testing.T) {
	t.Parallel()

	run := Config{
		Fleet:   FleetConfig{Action: "run", InstanceID: "i-1"},
		Capture: CaptureConfig{OutputLocation: "s3://bucket"},
		DB:      DBConfig{Host: "h", Name: "dev", Table: "t", Field: "f", BatchField: "b"},
		Remote:  RemoteConfig{LocalDir: "/src", RemoteDir: "/dst", KeyFile: "key.pem", ExecTimeout: time.Minute},
	}
	if err := run.ValidateFleet(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"unknown action", Config{Fleet: FleetConfig{Action: "reboot"}}, "fleet.action"},
		{"create without ami", Config{Fleet: FleetConfig{Action: "create", Count: 1}}, "fleet.ami"},
		{"create zero count", Config{Fleet: FleetConfig{Action: "create", ImageID: "ami", InstanceType: "t3.micro"}}, "fleet.count"},
		{"terminate without id", Config{Fleet: FleetConfig{Action: "terminate"}}, "fleet.instance_id"},
		{"run without table", func() Config { c := run; c.DB.Table = ""; return c }(), "db.table"},
		{"run without key", func() Config { c := run; c.Remote.KeyFile = ""; return c }(), "remote.key_file"},
		{"run without output", func() Config { c := run; c.Capture.OutputLocation = ""; return c }(), "capture.output_location"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.ValidateFleet()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
