package file

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

var failedHeader = []string{"lat", "lon", "error_message"}

// FailedCSV appends events that could not be enriched to a CSV file with a
// lat,lon,error_message header. It implements pipeline.FailedRecordWriter.
type FailedCSV struct {
	mu      sync.Mutex
	w       *csv.Writer
	closer  io.Closer
	written bool
}

// OpenFailedCSV opens path for appending. The header is written when the
// file is new or empty.
func OpenFailedCSV(path string) (*FailedCSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failed-records file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat failed-records file: %w", err)
	}
	c := NewFailedCSV(f)
	c.closer = f
	c.written = info.Size() > 0
	return c, nil
}

// NewFailedCSV writes failed records to w.
func NewFailedCSV(w io.Writer) *FailedCSV {
	return &FailedCSV{w: csv.NewWriter(w)}
}

// WriteFailed writes one row per event. Missing coordinates are left blank.
func (c *FailedCSV) WriteFailed(events []domain.SensorEvent, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.written {
		if err := c.w.Write(failedHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		c.written = true
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	for i := range events {
		row := []string{formatCoord(events[i].Lat), formatCoord(events[i].Lon), msg}
		if err := c.w.Write(row); err != nil {
			return fmt.Errorf("write failed record: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *FailedCSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	if c.closer == nil {
		return c.w.Error()
	}
	return c.closer.Close()
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
