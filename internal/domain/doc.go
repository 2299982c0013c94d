// Package domain models ground sensor events and their location enrichment.
//
// # Data Source
//
// Weather sensors publish one JSON reading per message through the ground
// ingest exchange. The upstream producer wraps the MQTT log line it received:
//
//	{"raw": "2025-02-11 10:41:07 | topic: weather/data | message: {\"device_id\": \"gs-07\", ...} | qos: 0"}
//
// Consumers may also receive the reading object directly, without the envelope.
// Readings from some firmware emit bare NaN for sensors that failed to sample;
// those values are decoded as absent rather than rejected. See [ParseSensorEvent].
//
// # Coordinates
//
// Latitude and longitude are WGS-84 decimal degrees. Spatial predicates take
// points in (lon, lat) order, which is the x/y order used by every boundary
// dataset. A reading without both coordinates cannot be enriched and is
// skipped, not retried.
//
// # Location Fields
//
// Enrichment resolves three administrative levels and a postal code:
//
//	ADM0  country   mapped from the dataset's ISO 3166-1 alpha-3 code to alpha-2
//	ADM1  state     dataset shape name, e.g. "Oregon"
//	ADM2  county    dataset shape name, e.g. "Multnomah"
//	WOF   postal    Who's On First postal polygon containing or touching the point
//
// County, postal code, city and USPS locale name are optional in the output;
// country and state are required for a record to be produced at all.
//
// # Lookup Outcomes
//
// Every resolver call reports one of four outcomes through [Lookup]: Found,
// NotFound, ConfigError and TransientError. Only a transient error makes the
// stream processor requeue the message.
//
// # ID Generation
//
// Record IDs are deterministic SHA-256 hashes of device|timestamp|lat|lon, so a
// redelivered message produces the same ID and sinks can upsert idempotently.
// See [generateID].
package domain
