package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/storage"
	"github.com/JakeFAU/webarchiver/internal/warc"
)

// Config controls pipeline behavior.
type Config struct {
	Archive    warc.Options
	OutputName string
	// Topic enables the archive-stored notification when non-empty.
	Topic string
}

// Pipeline runs the fetch → record → finalize loop. A Pipeline runs one capture at a time.
type Pipeline struct {
	fetcher   Fetcher
	sinks     storage.Resolver
	publisher Publisher
	clock     Clock
	ids       IDGenerator
	digester  Digester
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline. publisher and digester may be nil.
func New(
	fetcher Fetcher,
	sinks storage.Resolver,
	publisher Publisher,
	clock Clock,
	ids IDGenerator,
	digester Digester,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputName == "" {
		cfg.OutputName = DefaultOutputName(cfg.Archive.Compress)
	}
	return &Pipeline{
		fetcher:   fetcher,
		sinks:     sinks,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		digester:  digester,
		cfg:       cfg,
		logger:    logger,
	}
}

// DefaultOutputName is the fixed container name, with a .gz suffix when compressed.
func DefaultOutputName(compress bool) string {
	if compress {
		return "crawled_urls.warc.gz"
	}
	return "crawled_urls.warc"
}

// RunFrom parses output and loads src before any network activity, then runs
// the capture. An unsupported output scheme aborts with storage.ErrUnsupportedScheme.
func (p *Pipeline) RunFrom(ctx context.Context, src Source, output string) (Summary, error) {
	loc, err := storage.ParseLocation(output)
	if err != nil {
		return Summary{}, err
	}
	urls, err := src.Load()
	if err != nil {
		return Summary{}, fmt.Errorf("load input urls: %w", err)
	}
	return p.Run(ctx, urls, loc)
}

// Run captures urls in order into one container at loc. Per-URL failures are
// recorded and logged; only sink errors fail the run. When ctx is canceled the
// loop stops, the container is still committed, and ctx.Err() is returned with
// the summary.
func (p *Pipeline) Run(ctx context.Context, urls []string, loc storage.Location) (Summary, error) {
	captureID, err := p.ids.NewURN()
	if err != nil {
		return Summary{}, fmt.Errorf("capture id: %w", err)
	}
	summary := Summary{CaptureID: captureID}
	logger := p.logger.With(zap.String("capture_id", captureID), zap.String("output_location", loc.String()))

	sink, err := p.sinks.Resolve(ctx, loc)
	if err != nil {
		return summary, fmt.Errorf("%w: resolve sink: %w", ErrStorage, err)
	}
	name := loc.ObjectName(p.cfg.OutputName)
	artifact, err := sink.Open(ctx, name)
	if err != nil {
		return summary, fmt.Errorf("%w: open %s: %w", ErrStorage, name, err)
	}

	writer := warc.NewWriter(artifact, p.cfg.Archive, p.ids, p.digester)
	logger.Info("capture started", zap.Int("urls", len(urls)), zap.String("object", name))

	var writeErr error
	for i, url := range urls {
		if ctx.Err() != nil {
			summary.Canceled = true
			logger.Warn("capture canceled", zap.Int("processed", i), zap.Int("remaining", len(urls)-i))
			break
		}
		rec := p.capture(ctx, url, i, logger)
		if err := p.writeRecord(writer, rec, captureID); err != nil {
			writeErr = fmt.Errorf("%w: write record for %s: %w", ErrStorage, url, err)
			logger.Error("archive write failed", zap.String("url", url), zap.Error(err))
			break
		}
		summary.count(rec.Outcome)
		metrics.ObserveCapture(url, string(rec.Outcome), responseBytes(rec))
	}

	summary.WARCRecords = writer.Records()
	summary.Bytes = writer.BytesWritten()

	// Finalization is attempted even after a write failure or cancellation.
	finalizeCtx := context.WithoutCancel(ctx)
	uri, commitErr := artifact.Commit(finalizeCtx)
	if commitErr != nil {
		logger.Error("archive commit failed", zap.String("object", name), zap.Error(commitErr))
		return summary, errors.Join(writeErr, fmt.Errorf("%w: commit %s: %w", ErrStorage, name, commitErr))
	}
	summary.URI = uri
	if writeErr != nil {
		return summary, writeErr
	}

	logger.Info("archive stored",
		zap.String("uri", uri),
		zap.Int("records", summary.Records),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("http_errors", summary.HTTPErrors),
		zap.Int("transport_errors", summary.TransportErrors),
		zap.Int64("bytes", summary.Bytes),
	)
	metrics.ObserveArchive(string(loc.Scheme), summary.Bytes)
	p.notify(finalizeCtx, summary, logger)

	if summary.Canceled {
		return summary, fmt.Errorf("capture interrupted: %w", ctx.Err())
	}
	return summary, nil
}

func (p *Pipeline) capture(ctx context.Context, url string, index int, logger *zap.Logger) Record {
	logger = logger.With(zap.String("url", url), zap.Int("index", index))
	logger.Info("capturing url")

	fetchedAt := p.clock.Now()
	res, err := p.fetcher.Fetch(ctx, url)
	rec := Record{
		URL:        url,
		StatusCode: res.StatusCode,
		Exchanges:  res.Exchanges,
		FetchedAt:  fetchedAt,
		Duration:   res.Duration,
	}
	if err != nil {
		rec.Outcome = OutcomeTransportError
		rec.Err = fmt.Errorf("%w: %w", ErrTransport, err).Error()
		logger.Error("error processing url", zap.Error(err))
		return rec
	}
	rec.Outcome = classify(res.StatusCode)
	if rec.Outcome == OutcomeHTTPError {
		rec.Err = fmt.Errorf("%w: status %d", ErrHTTPStatus, res.StatusCode).Error()
		logger.Info("request failed with response code", zap.Int("status", res.StatusCode))
	} else {
		logger.Info("captured response", zap.Int("status", res.StatusCode), zap.String("final_url", res.FinalURL))
	}
	return rec
}

// writeRecord emits a request/response pair per exchange and, for transport
// failures, one metadata record describing the error.
func (p *Pipeline) writeRecord(w *warc.Writer, rec Record, captureID string) error {
	fields := []warc.Field{{Name: "WARC-Capture-ID", Value: captureID}}
	for _, ex := range rec.Exchanges {
		reqID, err := w.Write(warc.Record{
			Type:        warc.TypeRequest,
			TargetURI:   ex.URL,
			Date:        rec.FetchedAt,
			ContentType: warc.ContentTypeHTTPRequest,
			Fields:      fields,
			Block:       ex.Request,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(warc.Record{
			Type:         warc.TypeResponse,
			TargetURI:    ex.URL,
			Date:         rec.FetchedAt,
			ContentType:  warc.ContentTypeHTTPResponse,
			ConcurrentTo: reqID,
			Fields:       fields,
			Block:        ex.Response,
		}); err != nil {
			return err
		}
	}
	if rec.Outcome != OutcomeTransportError {
		return nil
	}
	block := "outcome: " + string(rec.Outcome) + "\r\n" +
		"error: " + rec.Err + "\r\n" +
		"exchanges: " + strconv.Itoa(len(rec.Exchanges)) + "\r\n"
	_, err := w.Write(warc.Record{
		Type:        warc.TypeMetadata,
		TargetURI:   rec.URL,
		Date:        rec.FetchedAt,
		ContentType: warc.ContentTypeWarcFields,
		Fields:      fields,
		Block:       []byte(block),
	})
	return err
}

func (p *Pipeline) notify(ctx context.Context, summary Summary, logger *zap.Logger) {
	if p.cfg.Topic == "" || p.publisher == nil {
		return
	}
	payload := map[string]any{
		"event":            "archive.stored",
		"capture_id":       summary.CaptureID,
		"uri":              summary.URI,
		"records":          summary.Records,
		"succeeded":        summary.Succeeded,
		"http_errors":      summary.HTTPErrors,
		"transport_errors": summary.TransportErrors,
		"bytes":            summary.Bytes,
		"timestamp":        p.clock.Now().Format("2006-01-02T15:04:05Z07:00"),
	}
	// The archive is already durable; a failed notification is only logged.
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		logger.Warn("archive notification failed", zap.String("topic", p.cfg.Topic), zap.Error(err))
	}
}

func responseBytes(rec Record) int {
	n := 0
	for _, ex := range rec.Exchanges {
		n += len(ex.Response)
	}
	return n
}
