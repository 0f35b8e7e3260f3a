// Package warc builds capture records with gowarc and writes them, optionally
// gzip-compressed per record, to a single container.
package warc

import (
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/nlnwa/gowarc"
)

// Version is a WARC format version.
type Version string

// Supported WARC versions.
const (
	V1_0 Version = "1.0"
	V1_1 Version = "1.1"
)

// ParseVersion validates a version string.
func ParseVersion(raw string) (Version, error) {
	switch Version(raw) {
	case V1_0:
		return V1_0, nil
	case V1_1, "":
		return V1_1, nil
	default:
		return "", fmt.Errorf("unsupported warc version %q", raw)
	}
}

func (v Version) gowarc() *gowarc.WarcVersion {
	if v == V1_0 {
		return gowarc.V1_0
	}
	return gowarc.V1_1
}

// RecordType is the WARC-Type header value.
type RecordType string

// Record types written by the capture pipeline.
const (
	TypeRequest  RecordType = "request"
	TypeResponse RecordType = "response"
	TypeMetadata RecordType = "metadata"
)

func (t RecordType) gowarc() (gowarc.RecordType, error) {
	switch t {
	case TypeRequest:
		return gowarc.Request, nil
	case TypeResponse:
		return gowarc.Response, nil
	case TypeMetadata:
		return gowarc.Metadata, nil
	default:
		return 0, fmt.Errorf("unsupported record type %q", string(t))
	}
}

// Content types for HTTP message blocks.
const (
	ContentTypeHTTPRequest  = "application/http;msgtype=request"
	ContentTypeHTTPResponse = "application/http;msgtype=response"
	ContentTypeWarcFields   = "application/warc-fields"
)

// Field is an extra named header. Order is preserved on output.
type Field struct {
	Name  string
	Value string
}

// Record is one WARC record before it is built.
type Record struct {
	Type         RecordType
	TargetURI    string
	Date         time.Time
	ContentType  string
	ConcurrentTo string
	Fields       []Field
	Block        []byte
}

// Options controls container-wide framing.
type Options struct {
	Version  Version
	Compress bool
}

// IDGenerator issues WARC-Record-ID values in urn form.
type IDGenerator interface {
	NewURN() (string, error)
}

// Digester computes labelled block digests.
type Digester interface {
	Hash(data []byte) (string, error)
}

// Writer appends records to an underlying writer. It is not safe for concurrent use.
type Writer struct {
	out       *countingWriter
	opts      Options
	ids       IDGenerator
	digester  Digester
	marshaler gowarc.Marshaler
	records   int
}

// NewWriter wraps w. A nil digester leaves WARC-Block-Digest to gowarc's default algorithm.
func NewWriter(w io.Writer, opts Options, ids IDGenerator, digester Digester) *Writer {
	if opts.Version == "" {
		opts.Version = V1_1
	}
	return &Writer{
		out:       &countingWriter{w: w},
		opts:      opts,
		ids:       ids,
		digester:  digester,
		marshaler: gowarc.NewMarshaler(),
	}
}

// Write builds rec and appends it, returning the assigned WARC-Record-ID.
func (w *Writer) Write(rec Record) (string, error) {
	urn, err := w.ids.NewURN()
	if err != nil {
		return "", fmt.Errorf("record id: %w", err)
	}
	id := "<" + urn + ">"

	built, err := w.build(id, rec)
	if err != nil {
		return "", err
	}
	defer func() { _ = built.Close() }()

	if w.opts.Compress {
		zw := gzip.NewWriter(w.out)
		if _, _, err := w.marshaler.Marshal(zw, built, 0); err != nil {
			return "", fmt.Errorf("write gzip record: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("close gzip member: %w", err)
		}
	} else if _, _, err := w.marshaler.Marshal(w.out, built, 0); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	w.records++
	return id, nil
}

// Records reports how many records were written.
func (w *Writer) Records() int { return w.records }

// BytesWritten reports bytes emitted to the underlying writer, after compression.
func (w *Writer) BytesWritten() int64 { return w.out.n }

func (w *Writer) build(id string, rec Record) (gowarc.WarcRecord, error) {
	recordType, err := rec.Type.gowarc()
	if err != nil {
		return nil, err
	}
	rb := gowarc.NewRecordBuilder(recordType,
		gowarc.WithVersion(w.opts.Version.gowarc()),
		gowarc.WithAddMissingDigest(true),
	)

	date := rec.Date
	if date.IsZero() {
		date = time.Now()
	}
	rb.AddWarcHeader(gowarc.WarcRecordID, id)
	rb.AddWarcHeaderTime(gowarc.WarcDate, date.UTC())
	if rec.TargetURI != "" {
		rb.AddWarcHeader(gowarc.WarcTargetURI, rec.TargetURI)
	}
	if rec.ConcurrentTo != "" {
		rb.AddWarcHeader(gowarc.WarcConcurrentTo, rec.ConcurrentTo)
	}
	for _, f := range rec.Fields {
		rb.AddWarcHeader(f.Name, f.Value)
	}
	if w.digester != nil {
		digest, err := w.digester.Hash(rec.Block)
		if err != nil {
			_ = rb.Close()
			return nil, fmt.Errorf("block digest: %w", err)
		}
		rb.AddWarcHeader(gowarc.WarcBlockDigest, digest)
	}
	if rec.ContentType != "" {
		rb.AddWarcHeader(gowarc.ContentType, rec.ContentType)
	}
	if _, err := rb.Write(rec.Block); err != nil {
		_ = rb.Close()
		return nil, fmt.Errorf("buffer block: %w", err)
	}

	// The built record owns the block buffer from here on.
	built, _, err := rb.Build()
	if err != nil {
		_ = rb.Close()
		return nil, fmt.Errorf("build %s record: %w", rec.Type, err)
	}
	return built, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
