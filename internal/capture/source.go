package capture

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// SourceKind distinguishes inline URL lists from file references.
type SourceKind int

// Source kinds.
const (
	SourceInline SourceKind = iota
	SourceFile
)

// Source is the tagged URL input: either an inline list or a path to a
// line-delimited file.
type Source struct {
	Kind SourceKind
	URLs []string
	Path string
}

// Inline builds a Source over an explicit list.
func Inline(urls []string) Source {
	return Source{Kind: SourceInline, URLs: urls}
}

// FileRef builds a Source that reads path.
func FileRef(path string) Source {
	return Source{Kind: SourceFile, Path: path}
}

// ResolveSource applies the --input_urls rule: if raw names an existing regular
// file it is a file reference, otherwise raw is split on commas verbatim.
func ResolveSource(raw string) Source {
	if info, err := os.Stat(raw); err == nil && info.Mode().IsRegular() {
		return FileRef(raw)
	}
	return Inline(strings.Split(raw, ","))
}

// Load returns the URL list. File lines are trimmed and empty lines dropped;
// inline entries are returned untouched.
func (s Source) Load() ([]string, error) {
	if s.Kind == SourceInline {
		return append([]string(nil), s.URLs...), nil
	}
	// #nosec G304 -- the path is an operator-supplied input list.
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open url file %s: %w", s.Path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return ParseLines(f)
}

// ParseLines reads one URL per line, trimming whitespace and skipping blanks.
func ParseLines(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url lines: %w", err)
	}
	return urls, nil
}
