// Package cmd defines and implements the CLI commands for the webarchiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/app"
	"github.com/JakeFAU/webarchiver/internal/capture"
	"github.com/JakeFAU/webarchiver/internal/compute"
	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/dispatcher"
	"github.com/JakeFAU/webarchiver/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Capturer runs one capture.
type Capturer interface {
	RunFrom(ctx context.Context, src capture.Source, output string) (capture.Summary, error)
}

// FleetController performs the fleet actions.
type FleetController interface {
	Create(ctx context.Context, spec compute.Spec) ([]string, error)
	Terminate(ctx context.Context, id string) error
	Run(ctx context.Context) (dispatcher.Report, error)
}

// App defines the application interface that commands use. Tests inject a fake.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Capturer(ctx context.Context) (Capturer, error)
	Fleet(ctx context.Context) (FleetController, error)
	InstanceSpec() compute.Spec
	StartOperator() (net.Addr, error)
	MarkReady()
	Close(ctx context.Context) error
}

// appAdapter narrows *app.App to the command-facing interface.
type appAdapter struct {
	*app.App
}

func (a appAdapter) Capturer(ctx context.Context) (Capturer, error) {
	p, err := a.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (a appAdapter) Fleet(ctx context.Context) (FleetController, error) {
	f, err := a.App.Fleet(ctx)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) (App, error) {
	return appAdapter{app.New(cfg, logger, app.Options{})}, nil
}

// newLogger builds the process logger. It's a variable so tests can silence it.
var newLogger = logging.New

// rootState carries the App between the pre-run hook and Execute.
type rootState struct {
	cfgFile string
	app     App
}

func (s *rootState) close() {
	if s.app == nil {
		return
	}
	logger := s.app.Logger()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.app.Close(ctx); err != nil {
		logger.Warn("failed to close application services", zap.Error(err))
	}
	_ = logger.Sync()
	s.app = nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webarchiver",
		Short: "Capture URLs into WARC archives and dispatch captures to remote instances.",
		Long: heredoc.Doc(`
			webarchiver fetches a list of URLs, records every HTTP exchange as WARC
			records and stores the archive on local disk, S3 or GCS.

			The fleet command provisions EC2 instances, reads URL batches from a
			Redshift or Postgres worklist and runs captures on an instance over SSH.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance
			addr, err := appInstance.StartOperator()
			if err != nil {
				return err
			}
			if addr != nil {
				logger.Info("metrics endpoint listening", zap.String("addr", addr.String()))
			}

			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newFleetCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the command tree with args and releases the App afterwards.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	state := &rootState{}
	root := newRootCmd(state)
	root.SetArgs(args)
	if stdout != nil {
		root.SetOut(stdout)
	}
	if stderr != nil {
		root.SetErr(stderr)
	}
	defer state.close()
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
