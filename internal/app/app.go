// Package app builds the capture pipeline and fleet dispatcher from configuration
// and owns the long-lived clients they share.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webarchiver/internal/api"
	"github.com/JakeFAU/webarchiver/internal/capture"
	"github.com/JakeFAU/webarchiver/internal/clock/system"
	"github.com/JakeFAU/webarchiver/internal/compute"
	"github.com/JakeFAU/webarchiver/internal/compute/ec2"
	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/webarchiver/internal/fetcher/colly"
	"github.com/JakeFAU/webarchiver/internal/hash/sha256"
	"github.com/JakeFAU/webarchiver/internal/id/uuid"
	pubsubpublisher "github.com/JakeFAU/webarchiver/internal/publisher/pubsub"
	sshremote "github.com/JakeFAU/webarchiver/internal/remote/ssh"
	"github.com/JakeFAU/webarchiver/internal/storage"
	gcssink "github.com/JakeFAU/webarchiver/internal/storage/gcs"
	"github.com/JakeFAU/webarchiver/internal/storage/local"
	"github.com/JakeFAU/webarchiver/internal/storage/postgres"
	s3sink "github.com/JakeFAU/webarchiver/internal/storage/s3"
	"github.com/JakeFAU/webarchiver/internal/warc"
	"github.com/JakeFAU/webarchiver/internal/worker"
)

// Options overrides how Google clients are dialed (emulators, tests).
type Options struct {
	GCS    []option.ClientOption
	PubSub []option.ClientOption
}

// App holds the long-lived services a command uses.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   Options

	mu           sync.Mutex
	gcsClient    *gcs.Client
	pubsubClient *pubsub.Client
	publisher    *pubsubpublisher.Publisher
	ops          *api.Server
}

// New creates an App. Clients are built on first use.
func New(cfg config.Config, logger *zap.Logger, opts Options) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger, opts: opts}
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Resolve implements storage.Resolver: file:// writes into a local directory,
// s3:// and gs:// buffer in memory and upload on commit.
func (a *App) Resolve(ctx context.Context, loc storage.Location) (storage.Sink, error) {
	switch loc.Scheme {
	case storage.SchemeFile:
		sink, err := local.New(local.Config{BaseDir: loc.Dir})
		if err != nil {
			return nil, fmt.Errorf("local sink: %w", err)
		}
		return sink, nil
	case storage.SchemeS3:
		sink, err := s3sink.NewFromConfig(ctx, s3sink.Config{
			Bucket:   loc.Bucket,
			Region:   a.cfg.AWS.Region,
			Profile:  a.cfg.AWS.Profile,
			Endpoint: a.cfg.Sink.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 sink: %w", err)
		}
		return sink, nil
	case storage.SchemeGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		sink, err := gcssink.New(client, gcssink.Config{Bucket: loc.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs sink: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("%w %q", storage.ErrUnsupportedScheme, loc.Scheme)
	}
}

func (a *App) storageClient(ctx context.Context) (*gcs.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gcsClient != nil {
		return a.gcsClient, nil
	}
	opts := append([]option.ClientOption(nil), a.opts.GCS...)
	if a.cfg.Sink.GCSProject != "" {
		opts = append(opts, option.WithQuotaProject(a.cfg.Sink.GCSProject))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	return client, nil
}

// Pipeline builds the capture pipeline. The archive-stored notifier is wired
// only when notify.topic is set.
func (a *App) Pipeline(ctx context.Context) (*capture.Pipeline, error) {
	version, err := warc.ParseVersion(a.cfg.Archive.Version)
	if err != nil {
		return nil, fmt.Errorf("archive config: %w", err)
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTP.Timeout,
		MaxRedirects: a.cfg.HTTP.MaxRedirects,
	})

	var publisher capture.Publisher
	if a.cfg.Notify.Topic != "" {
		pub, err := a.notifier(ctx)
		if err != nil {
			return nil, err
		}
		publisher = pub
	}

	a.logger.Info("capture pipeline configured",
		zap.String("warc_version", string(version)),
		zap.Bool("compress", a.cfg.Archive.Compress),
		zap.Duration("timeout", a.cfg.HTTP.Timeout),
		zap.String("notify_topic", a.cfg.Notify.Topic),
	)
	return capture.New(
		fetcher,
		a,
		publisher,
		system.New(),
		uuid.New(),
		sha256.New(),
		capture.Config{
			Archive:    warc.Options{Version: version, Compress: a.cfg.Archive.Compress},
			OutputName: a.cfg.Archive.OutputName,
			Topic:      a.cfg.Notify.Topic,
		},
		a.logger.Named("capture"),
	), nil
}

func (a *App) notifier(ctx context.Context) (*pubsubpublisher.Publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publisher != nil {
		return a.publisher, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID, a.opts.PubSub...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = pubsubpublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.Notify.ProjectID),
		zap.String("topic", a.cfg.Notify.Topic),
	)
	return a.publisher, nil
}

// Fleet builds the dispatcher. The SSH dialer, batch worker and database
// opener are wired only for the run action.
func (a *App) Fleet(ctx context.Context) (*dispatcher.Fleet, error) {
	instances, err := ec2.NewFromConfig(ctx, ec2.Config{
		Region:  a.cfg.AWS.Region,
		Profile: a.cfg.AWS.Profile,
	})
	if err != nil {
		return nil, fmt.Errorf("ec2 client init failed: %w", err)
	}
	return a.fleetWith(instances)
}

func (a *App) fleetWith(instances *ec2.Manager) (*dispatcher.Fleet, error) {
	dispatchCfg := dispatcher.Config{
		MaxBatches:         a.cfg.Dispatch.MaxBatches,
		OutputNameTemplate: a.cfg.Dispatch.OutputNameTemplate,
	}
	logger := a.logger.Named("dispatcher")
	if a.cfg.Fleet.Action != "run" {
		return dispatcher.New(instances, nil, nil, dispatchCfg, logger), nil
	}

	dialer, err := sshremote.NewDialer(sshremote.Config{
		User:           a.cfg.Remote.User,
		Port:           a.cfg.Remote.Port,
		KeyFile:        a.cfg.Remote.KeyFile,
		KnownHostsFile: a.cfg.Remote.KnownHostsFile,
		DialTimeout:    a.cfg.Remote.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dialer init failed: %w", err)
	}
	runner := worker.New(instances, dialer, worker.Config{
		InstanceID:     a.cfg.Fleet.InstanceID,
		LocalDir:       a.cfg.Remote.LocalDir,
		RemoteDir:      a.cfg.Remote.RemoteDir,
		Binary:         a.cfg.Remote.Binary,
		TransferFile:   a.cfg.Remote.TransferFile,
		OutputLocation: a.cfg.Capture.OutputLocation,
		ExecTimeout:    a.cfg.Remote.ExecTimeout,
	}, a.logger.Named("worker"))

	return dispatcher.New(instances, a.openBatchSource, runner, dispatchCfg, logger), nil
}

func (a *App) openBatchSource(ctx context.Context) (dispatcher.BatchSource, error) {
	src, err := postgres.OpenBatchSource(ctx, a.BatchSourceConfig())
	if err != nil {
		return nil, err
	}
	return src, nil
}

// BatchSourceConfig maps db.* onto the batch source.
func (a *App) BatchSourceConfig() postgres.BatchSourceConfig {
	return postgres.BatchSourceConfig{
		Host:           a.cfg.DB.Host,
		Port:           a.cfg.DB.Port,
		Database:       a.cfg.DB.Name,
		User:           a.cfg.DB.Username,
		Password:       a.cfg.DB.Password,
		SSLMode:        a.cfg.DB.SSLMode,
		ConnectTimeout: a.cfg.DB.ConnectTimeout,
		Table:          a.cfg.DB.Table,
		Field:          a.cfg.DB.Field,
		BatchField:     a.cfg.DB.BatchField,
	}
}

// InstanceSpec maps fleet.* onto a launch request.
func (a *App) InstanceSpec() compute.Spec {
	return compute.Spec{
		ImageID:       a.cfg.Fleet.ImageID,
		InstanceType:  a.cfg.Fleet.InstanceType,
		KeyName:       a.cfg.Fleet.KeyName,
		SecurityGroup: a.cfg.Fleet.SecurityGroup,
		Count:         a.cfg.Fleet.Count,
		Name:          a.cfg.Fleet.InstanceName,
	}
}

// StartOperator starts the operator endpoint when metrics.addr is set and
// returns its bound address, or nil when disabled.
func (a *App) StartOperator() (net.Addr, error) {
	if a.cfg.Metrics.Addr == "" {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ops != nil {
		return nil, errors.New("operator endpoint already started")
	}
	ops := api.NewServer(a.logger.Named("api"))
	addr, err := ops.Start(a.cfg.Metrics.Addr)
	if err != nil {
		return nil, fmt.Errorf("operator endpoint: %w", err)
	}
	a.ops = ops
	return addr, nil
}

// MarkReady flips the operator endpoint's readiness, if it is running.
func (a *App) MarkReady() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ops != nil {
		a.ops.SetReady(true)
	}
}

// Close releases every client the App created.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs error
	if a.ops != nil {
		errs = multierr.Append(errs, a.ops.Shutdown(ctx))
		a.ops = nil
	}
	if a.publisher != nil {
		a.publisher.Stop()
		a.publisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close gcs client: %w", err))
		}
		a.gcsClient = nil
	}
	return errs
}
