package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"sync"

	"github.com/JakeFAU/webarchiver/internal/capture"
)

// recordingTransport dumps every outgoing request and its response before
// handing the response to the collector. The response body is buffered by the
// dump, so the round trip's context can be released on return.
type recordingTransport struct {
	ctx  context.Context
	base http.RoundTripper

	mu        sync.Mutex
	exchanges []capture.Exchange
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()
	req = req.WithContext(ctx)

	rawReq, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		return nil, fmt.Errorf("dump request: %w", err)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	rawResp, err := httputil.DumpResponse(resp, true)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("dump response: %w", err)
	}

	t.mu.Lock()
	t.exchanges = append(t.exchanges, capture.Exchange{
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Request:    rawReq,
		Response:   rawResp,
	})
	t.mu.Unlock()
	return resp, nil
}

// Exchanges returns a copy of the recorded exchanges in round-trip order.
func (t *recordingTransport) Exchanges() []capture.Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]capture.Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}
