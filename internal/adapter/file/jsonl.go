// Package file reads sensor events from and writes enriched records to local
// files for the batch entry point and the file sink.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

// JSONLSink appends enriched records to a file, one JSON object per line.
type JSONLSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenJSONLSink opens path for appending, creating it if needed.
func OpenJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &JSONLSink{f: f, path: path}, nil
}

// Accept writes the records and syncs the file.
func (s *JSONLSink) Accept(_ context.Context, records ...domain.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return fmt.Errorf("encode record %s: %w", records[i].ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return s.f.Sync()
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// EventReader reads message bodies, one per line, and decodes them into
// sensor events. It implements pipeline.EventSource. Lines that fail to
// decode are logged and skipped.
type EventReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	skipped int
	logger  *slog.Logger
}

// maxLineSize bounds a single input line.
const maxLineSize = 1 << 20

// OpenEventReader opens a JSON-lines event file.
func OpenEventReader(path string, logger *slog.Logger) (*EventReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	r := NewEventReader(f, logger)
	r.closer = f
	return r, nil
}

// NewEventReader reads events from r.
func NewEventReader(r io.Reader, logger *slog.Logger) *EventReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &EventReader{scanner: s, logger: logger}
}

// ReadSlice returns up to n decoded events, with io.EOF once the input is
// exhausted.
func (r *EventReader) ReadSlice(ctx context.Context, n int) ([]domain.SensorEvent, error) {
	events := make([]domain.SensorEvent, 0, n)
	for len(events) < n {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return events, fmt.Errorf("line %d: %w", r.line+1, err)
			}
			return events, io.EOF
		}
		r.line++

		body := r.scanner.Bytes()
		if len(body) == 0 {
			continue
		}
		ev, err := domain.ParseSensorEvent(body)
		if err != nil {
			r.skipped++
			r.logger.Warn("skipping undecodable line", "line", r.line, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Skipped returns the number of lines that failed to decode.
func (r *EventReader) Skipped() int { return r.skipped }

func (r *EventReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
