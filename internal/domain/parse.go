package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

const defaultTopic = "weather/data"

var (
	// nanRe matches the bare NaN tokens some sensor firmware writes for failed samples.
	nanRe = regexp.MustCompile(`(?i)\bNaN\b`)

	// messageRe extracts the reading JSON embedded in a producer log line,
	// e.g. "... | message: {"device_id": "gs-07"} | qos: 0".
	messageRe = regexp.MustCompile(`message:\s*(\{.*\})\s*\|`)

	// timestampLayouts are tried in order. Producers emit RFC 3339 or naive
	// ISO-8601 (interpreted as UTC).
	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
)

// envelope is the producer wrapper around a raw MQTT log line.
type envelope struct {
	Raw *string `json:"raw"`
}

// reading is the wire form of a sensor reading.
type reading struct {
	DeviceID      string   `json:"device_id"`
	Topic         string   `json:"topic"`
	Temp          *float64 `json:"temp"`
	Humidity      *float64 `json:"humidity"`
	Pressure      *float64 `json:"pressure"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
	Alt           *float64 `json:"alt"`
	Sats          *float64 `json:"sats"`
	WindSpeed     *float64 `json:"wind_speed"`
	WindDirection *float64 `json:"wind_direction"`
	Timestamp     string   `json:"timestamp"`
}

// ParseSensorEvent decodes a message body into a SensorEvent. It accepts either
// a bare reading object or the {"raw": "<log line>"} envelope. Errors wrap ErrDecode.
func ParseSensorEvent(body []byte) (SensorEvent, error) {
	body = nanRe.ReplaceAll(body, []byte("null"))

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return SensorEvent{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.Raw != nil {
		return parseLogLine(*env.Raw)
	}
	return decodeReading(body, "")
}

// parseLogLine pulls the topic and embedded reading out of a producer log line.
// A line without an embedded reading yields an event with no coordinates.
func parseLogLine(line string) (SensorEvent, error) {
	topic := extractTopic(line)

	match := messageRe.FindStringSubmatch(line)
	if len(match) != 2 {
		return SensorEvent{Topic: topic, Timestamp: clock.Now().UTC()}, nil
	}
	payload := nanRe.ReplaceAllString(match[1], "null")
	return decodeReading([]byte(payload), topic)
}

func extractTopic(line string) string {
	_, after, ok := strings.Cut(line, "topic:")
	if !ok {
		return defaultTopic
	}
	topic, _, _ := strings.Cut(after, "|")
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return defaultTopic
	}
	return topic
}

func decodeReading(data []byte, topic string) (SensorEvent, error) {
	var r reading
	if err := json.Unmarshal(data, &r); err != nil {
		return SensorEvent{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return SensorEvent{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if r.Topic != "" {
		topic = r.Topic
	}

	event := SensorEvent{
		DeviceID:      r.DeviceID,
		Topic:         topic,
		Lat:           r.Lat,
		Lon:           r.Lon,
		Temperature:   r.Temp,
		Humidity:      r.Humidity,
		Pressure:      r.Pressure,
		Altitude:      r.Alt,
		WindSpeed:     r.WindSpeed,
		WindDirection: r.WindDirection,
		Timestamp:     ts,
	}
	if r.Sats != nil {
		n := int(math.Round(*r.Sats))
		event.Satellites = &n
	}
	return event, nil
}

// parseTimestamp accepts the producer layouts. An empty value means the
// reading carried no timestamp and is stamped with the current time.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return clock.Now().UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ValidateCoordinates rejects latitudes outside [-90, 90], longitudes outside
// [-180, 180] and non-finite values.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

// NewEnrichedRecord merges a reading with its resolved location. The event
// must have coordinates.
func NewEnrichedRecord(event SensorEvent, loc Location) EnrichedRecord {
	lat, lon := *event.Lat, *event.Lon
	return EnrichedRecord{
		ID:            generateID(event.DeviceID, event.Timestamp, lat, lon),
		DeviceID:      event.DeviceID,
		Topic:         event.Topic,
		Lat:           lat,
		Lon:           lon,
		Temperature:   event.Temperature,
		Humidity:      event.Humidity,
		Pressure:      event.Pressure,
		Altitude:      event.Altitude,
		Satellites:    event.Satellites,
		WindSpeed:     event.WindSpeed,
		WindDirection: event.WindDirection,
		Timestamp:     event.Timestamp,
		Location:      loc,
		ProcessedAt:   clock.Now().UTC(),
	}
}

// generateID produces a deterministic ID from the reading's identity fields.
// Reprocessing a redelivered message yields the same ID, so sinks can ignore
// duplicates.
func generateID(deviceID string, ts time.Time, lat, lon float64) string {
	input := fmt.Sprintf("%s|%s|%.6f|%.6f", deviceID, ts.UTC().Format(time.RFC3339Nano), lat, lon)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if deviceID == "" {
		return short
	}
	return deviceID + "-" + short
}
