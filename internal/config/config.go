package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Transport, engine, sink and index names accepted in the environment.
const (
	TransportKafka = "kafka"
	TransportNATS  = "nats"

	EngineShapefile = "shapefile"
	EnginePostGIS   = "postgis"

	SinkKafka    = "kafka"
	SinkPostgres = "postgres"
	SinkFile     = "file"

	IndexLinear = "linear"
	IndexRTree  = "rtree"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Transport string

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	KafkaDLQTopic    string

	NATSURL     string
	NATSStream  string
	NATSSubject string
	NATSDurable string

	Sinks        []string
	SinkFilePath string
	PostgresDSN  string

	// Boundary datasets. Sources are table names for PostGIS or .shp paths
	// for the shapefile engine; an empty source disables that level.
	BoundaryEngine     string
	ADM0Source         string
	ADM1Source         string
	ADM2Source         string
	ADM0Attribute      string
	ADM1Attribute      string
	ADM2Attribute      string
	BoundaryGeomColumn string
	PostalSource       string
	PostalIndex        string
	CountryCodeMapFile string

	AdminCacheTTL        time.Duration
	PostalSubsetCacheTTL time.Duration
	PostalPointCacheTTL  time.Duration
	CacheClearInterval   time.Duration

	QueryTimeout time.Duration
	SinkTimeout  time.Duration

	LocaleLookupEnabled bool
	RedisAddr           string
	LocaleCacheTTL      time.Duration

	MaxDeliveries  int
	BatchSliceSize int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Transport: strings.ToLower(sharedcfg.EnvOrDefault("TRANSPORT", TransportKafka)),

		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "sensor-ground-raw"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "sensor-ground-enriched"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "sensor-geo-enricher"),
		KafkaDLQTopic:    os.Getenv("KAFKA_DLQ_TOPIC"),

		NATSURL:     sharedcfg.EnvOrDefault("NATS_URL", "nats://localhost:4222"),
		NATSStream:  sharedcfg.EnvOrDefault("NATS_STREAM", "SENSOR_GROUND"),
		NATSSubject: sharedcfg.EnvOrDefault("NATS_SUBJECT", "sensor.ground.raw"),
		NATSDurable: sharedcfg.EnvOrDefault("NATS_DURABLE", "sensor-geo-enricher"),

		Sinks:        parseList(sharedcfg.EnvOrDefault("SINKS", SinkKafka)),
		SinkFilePath: sharedcfg.EnvOrDefault("SINK_FILE_PATH", "processed_sensor_events.jsonl"),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),

		BoundaryEngine:     strings.ToLower(sharedcfg.EnvOrDefault("BOUNDARY_ENGINE", EnginePostGIS)),
		ADM0Source:         os.Getenv("ADM0_SOURCE"),
		ADM1Source:         os.Getenv("ADM1_SOURCE"),
		ADM2Source:         os.Getenv("ADM2_SOURCE"),
		ADM0Attribute:      sharedcfg.EnvOrDefault("ADM0_ATTRIBUTE", "shapeGroup"),
		ADM1Attribute:      sharedcfg.EnvOrDefault("ADM1_ATTRIBUTE", "shapeName"),
		ADM2Attribute:      sharedcfg.EnvOrDefault("ADM2_ATTRIBUTE", "shapeName"),
		BoundaryGeomColumn: sharedcfg.EnvOrDefault("BOUNDARY_GEOM_COLUMN", "geom"),
		PostalSource:       os.Getenv("POSTAL_SOURCE"),
		PostalIndex:        strings.ToLower(sharedcfg.EnvOrDefault("POSTAL_INDEX", IndexLinear)),
		CountryCodeMapFile: os.Getenv("COUNTRY_CODE_MAP_FILE"),

		LocaleLookupEnabled: os.Getenv("LOCALE_LOOKUP_ENABLED") == "true",
		RedisAddr:           os.Getenv("REDIS_ADDR"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"ADMIN_CACHE_TTL", "60m", &cfg.AdminCacheTTL},
		{"POSTAL_SUBSET_CACHE_TTL", "60m", &cfg.PostalSubsetCacheTTL},
		{"POSTAL_POINT_CACHE_TTL", "60m", &cfg.PostalPointCacheTTL},
		{"CACHE_CLEAR_INTERVAL", "0", &cfg.CacheClearInterval},
		{"QUERY_TIMEOUT", "5s", &cfg.QueryTimeout},
		{"SINK_TIMEOUT", "10s", &cfg.SinkTimeout},
		{"LOCALE_CACHE_TTL", "24h", &cfg.LocaleCacheTTL},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	if cfg.MaxDeliveries, err = parseInt("MAX_DELIVERIES", 0, 0); err != nil {
		return nil, err
	}
	if cfg.BatchSliceSize, err = parseInt("BATCH_SLICE_SIZE", 5000, 1); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasSink reports whether name is one of the configured sinks.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Sinks, name)
}

// PostalFromCSV reports whether the postal source is a CSV file rather than
// a Postgres table.
func (c *Config) PostalFromCSV() bool {
	return strings.HasSuffix(strings.ToLower(c.PostalSource), ".csv")
}

func (c *Config) validate() error {
	switch c.Transport {
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaSourceTopic == "" {
			return errors.New("KAFKA_SOURCE_TOPIC is required")
		}
	case TransportNATS:
		if c.NATSURL == "" || c.NATSSubject == "" || c.NATSStream == "" {
			return errors.New("NATS_URL, NATS_STREAM and NATS_SUBJECT are required")
		}
	default:
		return fmt.Errorf("invalid TRANSPORT %q: must be kafka or nats", c.Transport)
	}

	if len(c.Sinks) == 0 {
		return errors.New("SINKS must name at least one sink")
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkKafka:
			if len(c.KafkaBrokers) == 0 || c.KafkaSinkTopic == "" {
				return errors.New("kafka sink requires KAFKA_BROKERS and KAFKA_SINK_TOPIC")
			}
		case SinkPostgres:
			if c.PostgresDSN == "" {
				return errors.New("postgres sink requires POSTGRES_DSN")
			}
		case SinkFile:
			if c.SinkFilePath == "" {
				return errors.New("file sink requires SINK_FILE_PATH")
			}
		default:
			return fmt.Errorf("invalid SINKS entry %q: must be kafka, postgres or file", s)
		}
	}

	switch c.BoundaryEngine {
	case EnginePostGIS:
		if c.PostgresDSN == "" && (c.ADM0Source != "" || c.ADM1Source != "" || c.ADM2Source != "") {
			return errors.New("BOUNDARY_ENGINE=postgis requires POSTGRES_DSN")
		}
	case EngineShapefile:
	default:
		return fmt.Errorf("invalid BOUNDARY_ENGINE %q: must be postgis or shapefile", c.BoundaryEngine)
	}

	if c.PostalSource != "" && !c.PostalFromCSV() && c.PostgresDSN == "" {
		return errors.New("POSTAL_SOURCE table requires POSTGRES_DSN")
	}
	if c.PostalIndex != IndexLinear && c.PostalIndex != IndexRTree {
		return fmt.Errorf("invalid POSTAL_INDEX %q: must be linear or rtree", c.PostalIndex)
	}
	if c.LocaleLookupEnabled && c.PostgresDSN == "" {
		return errors.New("LOCALE_LOOKUP_ENABLED requires POSTGRES_DSN")
	}
	return nil
}

func parseList(value string) []string {
	parts := sharedcfg.ParseBrokers(value)
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return parts
}

// parseDuration reads a non-negative duration. Zero is allowed and disables
// the feature the setting controls.
func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative duration", key)
	}
	return d, nil
}

func parseInt(key string, fallback, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}
