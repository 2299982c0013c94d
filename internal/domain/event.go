package domain

import (
	"context"
	"time"
)

// SensorEvent is one decoded ground sensor reading. Pointer fields are nil when
// the sensor did not report the value.
type SensorEvent struct {
	DeviceID      string    `json:"device_id"`
	Topic         string    `json:"topic,omitempty"`
	Lat           *float64  `json:"lat"`
	Lon           *float64  `json:"lon"`
	Temperature   *float64  `json:"temp,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	Pressure      *float64  `json:"pressure,omitempty"`
	Altitude      *float64  `json:"alt,omitempty"`
	Satellites    *int      `json:"sats,omitempty"`
	WindSpeed     *float64  `json:"wind_speed,omitempty"`
	WindDirection *float64  `json:"wind_direction,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// HasCoordinates reports whether both latitude and longitude were reported.
func (e SensorEvent) HasCoordinates() bool {
	return e.Lat != nil && e.Lon != nil
}

// Location holds the resolved administrative identity and postal code of a point.
type Location struct {
	Country        string  `json:"country"`
	State          string  `json:"state"`
	County         *string `json:"county"`
	PostalCode     *string `json:"postal_code"`
	City           *string `json:"city"`
	USPSLocaleName *string `json:"usps_locale_name"`
}

// EnrichedRecord is the sensor reading plus its resolved location. It is built
// once per event and only read afterwards.
type EnrichedRecord struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	Topic         string    `json:"topic,omitempty"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	Temperature   *float64  `json:"temp"`
	Humidity      *float64  `json:"humidity"`
	Pressure      *float64  `json:"pressure"`
	Altitude      *float64  `json:"alt"`
	Satellites    *int      `json:"sats"`
	WindSpeed     *float64  `json:"wind_speed"`
	WindDirection *float64  `json:"wind_direction"`
	Timestamp     time.Time `json:"timestamp"`

	Location

	ProcessedAt time.Time `json:"processed_at"`
}

// Message is one delivery from the message transport. Ack removes it from the
// queue permanently; Nack hands it back, for redelivery when requeue is true.
type Message struct {
	Key        []byte
	Body       []byte
	Headers    map[string]string
	Topic      string
	Attempt    int // 1 on first delivery
	ReceivedAt time.Time

	Ack  func(ctx context.Context) error
	Nack func(ctx context.Context, requeue bool) error
}

// Locale is the USPS locale registered for a postal code.
type Locale struct {
	City       string
	LocaleName string
}
