// Package dispatcher drives the capture fleet: instance lifecycle and batch runs.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/compute"
	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/remote"
	"github.com/JakeFAU/webarchiver/internal/worker"
)

// Sentinel errors for the fleet error taxonomy.
var (
	// ErrProvisioning marks a failed create or terminate call.
	ErrProvisioning = errors.New("provisioning error")
	// ErrDataSource marks a failure to reach or query the batch source.
	ErrDataSource = errors.New("data source error")
	// ErrRemoteExecution marks a failed copy or invocation on the instance.
	ErrRemoteExecution = errors.New("remote execution error")
)

// InstanceManager creates and terminates instances.
type InstanceManager interface {
	Create(ctx context.Context, spec compute.Spec) ([]string, error)
	Terminate(ctx context.Context, id string) error
}

// BatchSource lists work batches and their URLs.
type BatchSource interface {
	ListBatchIDs(ctx context.Context, limit int) ([]string, error)
	URLsForBatch(ctx context.Context, batchID string) ([]string, error)
	Close(ctx context.Context) error
}

// SourceOpener opens one BatchSource connection per run.
type SourceOpener func(ctx context.Context) (BatchSource, error)

// BatchRunner executes one batch remotely.
type BatchRunner interface {
	Process(ctx context.Context, batch worker.Batch) (remote.ExecResult, error)
}

// Config controls the run action.
type Config struct {
	// MaxBatches caps how many batch ids are read; 0 means all.
	MaxBatches int
	// OutputNameTemplate names each batch's container; "{batch}" is replaced by the id.
	OutputNameTemplate string
}

// BatchStatus is the outcome of one batch.
type BatchStatus string

// Batch statuses.
const (
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
)

// BatchResult records one batch of a run.
type BatchResult struct {
	ID       string
	URLs     int
	Status   BatchStatus
	ExitCode int
	Err      error
}

// Report summarizes a run.
type Report struct {
	Batches  []BatchResult
	Canceled bool
}

// Failed counts failed batches.
func (r Report) Failed() int {
	n := 0
	for _, b := range r.Batches {
		if b.Status == BatchFailed {
			n++
		}
	}
	return n
}

// Fleet owns the clients the dispatcher actions use.
type Fleet struct {
	instances  InstanceManager
	openSource SourceOpener
	runner     BatchRunner
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Fleet. Dependencies an action does not use may be nil.
func New(instances InstanceManager, openSource SourceOpener, runner BatchRunner, cfg Config, logger *zap.Logger) *Fleet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fleet{
		instances:  instances,
		openSource: openSource,
		runner:     runner,
		cfg:        cfg,
		logger:     logger,
	}
}

// Create launches spec.Count instances. On any failure no ids are returned.
func (f *Fleet) Create(ctx context.Context, spec compute.Spec) ([]string, error) {
	ids, err := f.instances.Create(ctx, spec)
	if err != nil {
		metrics.ObserveInstanceOperation("create", "error")
		f.logger.Error("error creating instances",
			zap.String("ami", spec.ImageID),
			zap.String("instance_type", spec.InstanceType),
			zap.Int("count", spec.Count),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: create instances: %w", ErrProvisioning, err)
	}
	metrics.ObserveInstanceOperation("create", "ok")
	f.logger.Info("instances created", zap.Strings("instance_ids", ids))
	return ids, nil
}

// Terminate terminates one instance.
func (f *Fleet) Terminate(ctx context.Context, id string) error {
	if err := f.instances.Terminate(ctx, id); err != nil {
		metrics.ObserveInstanceOperation("terminate", "error")
		f.logger.Error("error terminating instance", zap.String("instance_id", id), zap.Error(err))
		return fmt.Errorf("%w: terminate instance %s: %w", ErrProvisioning, id, err)
	}
	metrics.ObserveInstanceOperation("terminate", "ok")
	f.logger.Info("instance terminated", zap.String("instance_id", id))
	return nil
}

// Run reads the batch list and dispatches each batch in order. Source
// connection and listing failures are fatal; a failing batch is recorded and
// the run continues. The returned error aggregates every batch failure.
func (f *Fleet) Run(ctx context.Context) (Report, error) {
	var report Report

	src, err := f.openSource(ctx)
	if err != nil {
		f.logger.Error("failed to establish database connection", zap.Error(err))
		return report, fmt.Errorf("%w: open batch source: %w", ErrDataSource, err)
	}
	defer func() {
		if err := src.Close(context.WithoutCancel(ctx)); err != nil {
			f.logger.Warn("batch source close failed", zap.Error(err))
		}
	}()

	ids, err := src.ListBatchIDs(ctx, f.cfg.MaxBatches)
	if err != nil {
		f.logger.Error("error retrieving batch ids", zap.Error(err))
		return report, fmt.Errorf("%w: list batches: %w", ErrDataSource, err)
	}
	f.logger.Info("dispatching batches", zap.Int("batches", len(ids)), zap.Int("max_batches", f.cfg.MaxBatches))

	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Canceled = true
			errs = multierr.Append(errs, fmt.Errorf("run interrupted: %w", err))
			break
		}
		res := f.runBatch(ctx, src, id)
		report.Batches = append(report.Batches, res)
		metrics.ObserveBatch(string(res.Status))
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("batch %s: %w", id, res.Err))
		}
	}

	f.logger.Info("run finished",
		zap.Int("batches", len(report.Batches)),
		zap.Int("failed", report.Failed()),
		zap.Bool("canceled", report.Canceled),
	)
	return report, errs
}

func (f *Fleet) runBatch(ctx context.Context, src BatchSource, id string) BatchResult {
	logger := f.logger.With(zap.String("batch_id", id))
	result := BatchResult{ID: id, Status: BatchFailed}

	urls, err := src.URLsForBatch(ctx, id)
	if err != nil {
		logger.Error("error retrieving urls", zap.Error(err))
		result.Err = fmt.Errorf("%w: %w", ErrDataSource, err)
		return result
	}
	result.URLs = len(urls)

	res, err := f.runner.Process(ctx, worker.Batch{ID: id, URLs: urls, OutputName: f.outputName(id)})
	result.ExitCode = res.ExitCode
	if err != nil {
		logger.Error("batch failed on instance", zap.Int("exit_code", res.ExitCode), zap.Error(err))
		result.Err = fmt.Errorf("%w: %w", ErrRemoteExecution, err)
		return result
	}
	result.Status = BatchSucceeded
	logger.Info("batch completed", zap.Int("urls", len(urls)))
	return result
}

func (f *Fleet) outputName(batchID string) string {
	if f.cfg.OutputNameTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(f.cfg.OutputNameTemplate, "{batch}", batchID)
}
