// Package replay implements the archive replay scheduler (§4.4): driving
// a lazy, forward-only, date-monotone sequence of recorded entries at a
// pace governed by a simulation clock.
package replay

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// Entry is one (date, payload) pair read from an archive. Entries within
// one archive are required to be date-monotone non-decreasing.
type Entry struct {
	Date    time.Time
	Payload any
}

// Reader exposes a single lazy, forward-only sequence of entries. The
// core only ever sees (date, payload) pairs; archive format is entirely
// delegated to the implementation.
type Reader interface {
	// Next returns the next entry, or ok=false once the archive is
	// exhausted. An error other than io.EOF is a read failure, counted
	// against max-skip by the Scheduler.
	Next() (entry Entry, ok bool, err error)
	Close() error
}

// jsonLineEntry is the on-disk shape read by FileReader: one JSON object
// per line with a "date" (RFC3339) and a "payload" field carrying
// arbitrary JSON.
type jsonLineEntry struct {
	Date    time.Time       `json:"date"`
	Payload json.RawMessage `json:"payload"`
}

// FileReader reads newline-delimited JSON archive entries from a file,
// transparently gunzipping when the name ends in ".gz". It is the core's
// one concrete Reader implementation; domain-specific archive formats
// implement Reader directly.
type FileReader struct {
	f   *os.File
	gz  *gzip.Reader
	sc  *bufio.Scanner
}

// OpenFile opens path as an archive. Decompression is chosen purely from
// the ".gz" suffix, matching the "possibly gzip-compressed" archive
// format note in the external interfaces section.
func OpenFile(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &FileReader{f: f}
	var src io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		r.gz = gz
		src = gz
	}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	r.sc = sc
	return r, nil
}

// Next implements Reader.
func (r *FileReader) Next() (Entry, bool, error) {
	for r.sc.Scan() {
		line := strings.TrimSpace(r.sc.Text())
		if line == "" {
			continue
		}
		var raw jsonLineEntry
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return Entry{}, false, err
		}
		var payload any
		if err := json.Unmarshal(raw.Payload, &payload); err != nil {
			return Entry{}, false, err
		}
		return Entry{Date: raw.Date, Payload: payload}, true, nil
	}
	if err := r.sc.Err(); err != nil {
		return Entry{}, false, err
	}
	return Entry{}, false, nil
}

// Close implements Reader.
func (r *FileReader) Close() error {
	var errs []error
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
