package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrUnsupportedScheme is returned for output locations that are neither local nor an object store.
var ErrUnsupportedScheme = errors.New("unsupported output location scheme")

// Scheme names a supported output location kind.
type Scheme string

// Supported schemes.
const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
	SchemeGCS  Scheme = "gs"
)

// Location is a parsed output location. For SchemeFile only Dir is set; for object
// stores Bucket is set and Prefix holds the optional key prefix.
type Location struct {
	Scheme Scheme
	Dir    string
	Bucket string
	Prefix string
	Raw    string
}

// ParseLocation parses file://<path>, s3://<bucket>[/<prefix>] or gs://<bucket>[/<prefix>].
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("parse output location %q: %w", raw, err)
	}
	loc := Location{Scheme: Scheme(strings.ToLower(u.Scheme)), Raw: raw}
	switch loc.Scheme {
	case SchemeFile:
		// file://data/out carries "data" as the host; keep it as a relative path.
		dir := u.Host + u.Path
		if u.Host == "" {
			dir = u.Path
		}
		if dir == "" {
			return Location{}, fmt.Errorf("output location %q: local path is required", raw)
		}
		loc.Dir = dir
	case SchemeS3, SchemeGCS:
		if u.Host == "" {
			return Location{}, fmt.Errorf("output location %q: bucket is required", raw)
		}
		loc.Bucket = u.Host
		loc.Prefix = strings.Trim(u.Path, "/")
	default:
		return Location{}, fmt.Errorf("%w %q: use file://, s3:// or gs://", ErrUnsupportedScheme, u.Scheme)
	}
	return loc, nil
}

// IsObjectStore reports whether the artifact is buffered and uploaded on commit.
func (l Location) IsObjectStore() bool {
	return l.Scheme == SchemeS3 || l.Scheme == SchemeGCS
}

// ObjectName joins the prefix and name for object stores; local sinks get name unchanged.
func (l Location) ObjectName(name string) string {
	if !l.IsObjectStore() || l.Prefix == "" {
		return name
	}
	return path.Join(l.Prefix, name)
}

// String renders the location in its canonical form.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeFile:
		return "file://" + l.Dir
	case SchemeS3, SchemeGCS:
		if l.Prefix == "" {
			return fmt.Sprintf("%s://%s", l.Scheme, l.Bucket)
		}
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Prefix)
	default:
		return l.Raw
	}
}
