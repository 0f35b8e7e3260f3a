// Package collyfetcher implements capture.Fetcher using gocolly over a recording transport.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webarchiver/internal/capture"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
}

// Fetcher implements capture.Fetcher using the Colly collector. Every round trip,
// including redirect hops, is recorded byte-for-byte for the archive.
type Fetcher struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector

	// Clones share the base collector's HTTP backend, so one fetch runs at a time.
	mu sync.Mutex
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET, following redirects. On a transport failure
// the exchanges completed before the failure are returned with the error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (capture.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		result   capture.FetchResult
		fetchErr error
	)
	start := time.Now()
	recorder := &recordingTransport{ctx: ctx, base: f.transport}
	collector := f.buildCollector(recorder, &result, &fetchErr)

	err := f.runCollector(ctx, collector, url, &fetchErr)
	result.Exchanges = recorder.Exchanges()
	result.Duration = time.Since(start)
	if n := len(result.Exchanges); n > 0 {
		result.FinalURL = result.Exchanges[n-1].URL
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	recorder *recordingTransport,
	result *capture.FetchResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(recorder)

	maxRedirects := f.cfg.MaxRedirects
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *capture.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		// Keep the payload byte-identical to what the server sent.
		r.Headers.Set("Accept-Encoding", "identity")
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		if r.Request != nil && r.Request.URL != nil {
			result.FinalURL = r.Request.URL.String()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	if err := collector.Visit(url); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		return fmt.Errorf("colly visit failed: %w", err)
	}
	if *fetchErr != nil {
		return fmt.Errorf("colly response failed: %w", *fetchErr)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Archival captures must succeed against misconfigured certificates.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true}, // #nosec G402
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
}
