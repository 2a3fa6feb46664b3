package config

import (
	"context"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files or
// remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	Load(ctx context.Context) (*Config, error)
}

// EnvPrefix prefixes the environment variables that override process
// settings, e.g. FSCRAWL_CHECKPOINT_BACKEND.
const EnvPrefix = "FSCRAWL"

// Override keys understood by ApplyOverrides.
const (
	KeyCheckpointBackend = "checkpoint.backend"
	KeyCheckpointDir     = "checkpoint.dir"
	KeyCheckpointDSN     = "checkpoint.dsn"
	KeyKafkaBrokers      = "events.kafka.brokers"
	KeyKafkaTopic        = "events.kafka.topic"
	KeyOTLPEndpoint      = "telemetry.otlp_endpoint"
	KeyMetricsAddr       = "telemetry.metrics_addr"
	KeyLogLevel          = "log.level"
	KeyLogFile           = "log.file"
)

// NewViper returns a viper instance reading FSCRAWL_* environment variables
// for every override key. Callers bind their command line flags to it.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides replaces the process settings of c with every key set in
// v. Job settings only come from the configuration file.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	overrideString(v, KeyCheckpointBackend, &c.Checkpoint.Backend)
	overrideString(v, KeyCheckpointDir, &c.Checkpoint.Dir)
	overrideString(v, KeyCheckpointDSN, &c.Checkpoint.DSN)
	overrideString(v, KeyKafkaTopic, &c.Events.Kafka.Topic)
	overrideString(v, KeyOTLPEndpoint, &c.Telemetry.OTLPEndpoint)
	overrideString(v, KeyMetricsAddr, &c.Telemetry.MetricsAddr)
	overrideString(v, KeyLogLevel, &c.Log.Level)
	overrideString(v, KeyLogFile, &c.Log.File)

	if v.IsSet(KeyKafkaBrokers) {
		if brokers := v.GetStringSlice(KeyKafkaBrokers); len(brokers) > 0 {
			c.Events.Kafka.Brokers = brokers
		}
	}
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}
