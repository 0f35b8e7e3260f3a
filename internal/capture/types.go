package capture

import (
	"errors"
	"time"
)

// Outcome classifies one capture attempt.
type Outcome string

// Capture outcomes.
const (
	OutcomeSuccess        Outcome = "success"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTransportError Outcome = "transport_error"
)

// Sentinel errors for the capture error taxonomy.
var (
	// ErrTransport marks a per-URL transport failure. Logged, never fatal.
	ErrTransport = errors.New("transport error")
	// ErrHTTPStatus marks a non-2xx response. Logged, never fatal.
	ErrHTTPStatus = errors.New("http status error")
	// ErrStorage marks a failure to open, write or commit the container. Fatal to the run.
	ErrStorage = errors.New("storage error")
)

// Exchange is one raw HTTP round trip as it went over the wire. Redirects produce
// one exchange per hop.
type Exchange struct {
	URL        string
	StatusCode int
	Request    []byte
	Response   []byte
}

// FetchResult is what a Fetcher returns for a URL.
type FetchResult struct {
	FinalURL   string
	StatusCode int
	Exchanges  []Exchange
	Duration   time.Duration
}

// Record is the immutable result of one capture attempt.
type Record struct {
	URL        string
	Outcome    Outcome
	StatusCode int
	Err        string
	Exchanges  []Exchange
	FetchedAt  time.Time
	Duration   time.Duration
}

// Summary describes a finished run.
type Summary struct {
	CaptureID       string
	URI             string
	Records         int
	Succeeded       int
	HTTPErrors      int
	TransportErrors int
	WARCRecords     int
	Bytes           int64
	Canceled        bool
}

func (s *Summary) count(o Outcome) {
	s.Records++
	switch o {
	case OutcomeSuccess:
		s.Succeeded++
	case OutcomeHTTPError:
		s.HTTPErrors++
	case OutcomeTransportError:
		s.TransportErrors++
	}
}

// classify maps a status code to an outcome.
func classify(status int) Outcome {
	if status >= 200 && status < 300 {
		return OutcomeSuccess
	}
	return OutcomeHTTPError
}
