// Package config loads and validates webarchiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WEBARCHIVER_DB_PASSWORD.
const EnvPrefix = "WEBARCHIVER"

// DefaultUserAgent is sent with every capture request.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; Storebot-Google/1.0) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/79.0.3945.88 Safari/537.36"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Capture  CaptureConfig  `mapstructure:"capture"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	AWS      AWSConfig      `mapstructure:"aws"`
	DB       DBConfig       `mapstructure:"db"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CaptureConfig names the work of a single capture run. The fleet run action
// passes OutputLocation through to every remote capture.
type CaptureConfig struct {
	InputURLs      string `mapstructure:"input_urls"`
	OutputLocation string `mapstructure:"output_location"`
}

// HTTPConfig configures the recording fetcher.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxRedirects int           `mapstructure:"max_redirects"`
}

// ArchiveConfig controls container framing.
type ArchiveConfig struct {
	Version    string `mapstructure:"version"`
	Compress   bool   `mapstructure:"compress"`
	OutputName string `mapstructure:"output_name"`
}

// SinkConfig holds object-store client settings. The bucket always comes from the location URI.
type SinkConfig struct {
	S3Endpoint string `mapstructure:"s3_endpoint"`
	GCSProject string `mapstructure:"gcs_project"`
}

// NotifyConfig enables the archive-stored Pub/Sub event when Topic is set.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// FleetConfig carries the fleet action and instance parameters.
type FleetConfig struct {
	Action        string `mapstructure:"action"`
	ImageID       string `mapstructure:"ami"`
	InstanceType  string `mapstructure:"instance_type"`
	KeyName       string `mapstructure:"key_name"`
	SecurityGroup string `mapstructure:"security_group"`
	Count         int    `mapstructure:"count"`
	InstanceName  string `mapstructure:"instance_name"`
	InstanceID    string `mapstructure:"instance_id"`
}

// AWSConfig selects the shared-config profile and region for EC2 and S3.
type AWSConfig struct {
	Profile string `mapstructure:"profile"`
	Region  string `mapstructure:"region"`
}

// DBConfig controls access to the batch worklist database.
type DBConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Name           string        `mapstructure:"name"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	SSLMode        string        `mapstructure:"sslmode"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Table          string        `mapstructure:"table"`
	Field          string        `mapstructure:"field"`
	BatchField     string        `mapstructure:"batch_field"`
}

// RemoteConfig describes how the program tree is shipped and invoked.
type RemoteConfig struct {
	User           string        `mapstructure:"user"`
	Port           int           `mapstructure:"port"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	LocalDir       string        `mapstructure:"local_dir"`
	RemoteDir      string        `mapstructure:"remote_dir"`
	Binary         string        `mapstructure:"binary"`
	TransferFile   string        `mapstructure:"transfer_file"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`
}

// DispatchConfig controls the run action.
type DispatchConfig struct {
	MaxBatches         int    `mapstructure:"max_batches"`
	OutputNameTemplate string `mapstructure:"output_name_template"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FlagKeys maps CLI flag names onto configuration keys.
var FlagKeys = map[string]string{
	"input_urls":               "capture.input_urls",
	"output_location":          "capture.output_location",
	"timeout":                  "http.timeout",
	"archive_version":          "archive.version",
	"compress":                 "archive.compress",
	"output_name":              "archive.output_name",
	"action":                   "fleet.action",
	"ami":                      "fleet.ami",
	"instance_type":            "fleet.instance_type",
	"key_name":                 "fleet.key_name",
	"security_group":           "fleet.security_group",
	"count":                    "fleet.count",
	"instance_name":            "fleet.instance_name",
	"ec2_instance_id":          "fleet.instance_id",
	"aws_profile_name":         "aws.profile",
	"aws_ec2_region_name":      "aws.region",
	"aws_ec2_key_file":         "remote.key_file",
	"crawler_local_directory":  "remote.local_dir",
	"crawler_remote_directory": "remote.remote_dir",
	"db_host":                  "db.host",
	"db_port":                  "db.port",
	"db_name":                  "db.name",
	"db_username":              "db.username",
	"db_password":              "db.password",
	"table_name":               "db.table",
	"field_name":               "db.field",
	"urlset_id_field_name":     "db.batch_field",
	"max_batches":              "dispatch.max_batches",
}

// Load builds a Config from defaults, an optional file, WEBARCHIVER_* env vars
// and any flags in fs that appear in FlagKeys. Flags set on the command line win.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range FlagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.input_urls", "")
	v.SetDefault("capture.output_location", "")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("archive.version", "1.1")
	v.SetDefault("archive.compress", true)
	v.SetDefault("archive.output_name", "")
	v.SetDefault("sink.s3_endpoint", "")
	v.SetDefault("sink.gcs_project", "")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("fleet.action", "")
	v.SetDefault("fleet.ami", "")
	v.SetDefault("fleet.instance_type", "t2.nano")
	v.SetDefault("fleet.key_name", "")
	v.SetDefault("fleet.security_group", "")
	v.SetDefault("fleet.count", 1)
	v.SetDefault("fleet.instance_name", "")
	v.SetDefault("fleet.instance_id", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.region", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5439)
	v.SetDefault("db.name", "")
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "prefer")
	v.SetDefault("db.connect_timeout", 30*time.Second)
	v.SetDefault("db.table", "")
	v.SetDefault("db.field", "")
	v.SetDefault("db.batch_field", "")
	v.SetDefault("remote.user", "ubuntu")
	v.SetDefault("remote.port", 22)
	v.SetDefault("remote.key_file", "")
	v.SetDefault("remote.known_hosts_file", "")
	v.SetDefault("remote.local_dir", "")
	v.SetDefault("remote.remote_dir", "")
	v.SetDefault("remote.binary", "webarchiver")
	v.SetDefault("remote.transfer_file", "urls.txt")
	v.SetDefault("remote.dial_timeout", 30*time.Second)
	v.SetDefault("remote.exec_timeout", 2*time.Hour)
	v.SetDefault("dispatch.max_batches", 0)
	v.SetDefault("dispatch.output_name_template", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces values every command relies on.
func (c Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if c.Archive.Version != "1.0" && c.Archive.Version != "1.1" {
		return fmt.Errorf("archive.version must be 1.0 or 1.1")
	}
	if c.Dispatch.MaxBatches < 0 {
		return fmt.Errorf("dispatch.max_batches must be >= 0")
	}
	if c.Notify.Topic != "" && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// ValidateCapture checks the keys the capture command needs.
func (c Config) ValidateCapture() error {
	if c.Capture.InputURLs == "" {
		return fmt.Errorf("capture.input_urls must be set")
	}
	if c.Capture.OutputLocation == "" {
		return fmt.Errorf("capture.output_location must be set")
	}
	return nil
}

// ValidateFleet checks the keys the given fleet action needs.
func (c Config) ValidateFleet() error {
	switch c.Fleet.Action {
	case "create":
		if c.Fleet.ImageID == "" || c.Fleet.InstanceType == "" {
			return fmt.Errorf("fleet.ami and fleet.instance_type must be set for create")
		}
		if c.Fleet.Count <= 0 {
			return fmt.Errorf("fleet.count must be > 0")
		}
	case "terminate":
		if c.Fleet.InstanceID == "" {
			return fmt.Errorf("fleet.instance_id must be set for terminate")
		}
	case "run":
		if c.Fleet.InstanceID == "" {
			return fmt.Errorf("fleet.instance_id must be set for run")
		}
		if c.DB.Host == "" || c.DB.Name == "" {
			return fmt.Errorf("db.host and db.name must be set for run")
		}
		if c.DB.Table == "" || c.DB.Field == "" || c.DB.BatchField == "" {
			return fmt.Errorf("db.table, db.field and db.batch_field must be set for run")
		}
		if c.Remote.LocalDir == "" || c.Remote.RemoteDir == "" {
			return fmt.Errorf("remote.local_dir and remote.remote_dir must be set for run")
		}
		if c.Remote.KeyFile == "" {
			return fmt.Errorf("remote.key_file must be set for run")
		}
		if c.Remote.ExecTimeout <= 0 {
			return fmt.Errorf("remote.exec_timeout must be > 0")
		}
		if c.Capture.OutputLocation == "" {
			return fmt.Errorf("capture.output_location must be set for run")
		}
	default:
		return fmt.Errorf("fleet.action must be one of create, terminate, run")
	}
	return nil
}
