// Package config describes the crawler configuration file: the crawl jobs
// and the process wide settings they share.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
	"github.com/fscrawl/fscrawl/internal/infra/index/elastic"
)

// Checkpoint backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	defaultIndexedChars  = 100000
	defaultBulkSize      = 100
	defaultByteSize      = ByteSize(10 * 1000 * 1000)
	defaultFlushInterval = 5 * time.Second
	defaultServiceName   = "fscrawl"
	defaultKafkaClientID = "fscrawl"
)

// Config represents the top-level configuration.
type Config struct {
	Jobs       []JobConfig      `yaml:"jobs" validate:"required,min=1,unique=Name,dive"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Events     EventsConfig     `yaml:"events"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
}

// JobConfig is one crawl job.
type JobConfig struct {
	Name          string              `yaml:"name" validate:"required,excludesall=/"`
	FS            FSConfig            `yaml:"fs"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
}

// FSConfig selects and shapes the files of a job. Pointer fields default
// to true when left unset.
type FSConfig struct {
	URL            string        `yaml:"url" validate:"required"`
	UpdateRate     time.Duration `yaml:"update_rate" validate:"gte=0"`
	Includes       []string      `yaml:"includes"`
	Excludes       []string      `yaml:"excludes"`
	Filters        []string      `yaml:"filters"`
	FollowSymlinks bool          `yaml:"follow_symlinks"`
	RemoveDeleted  *bool         `yaml:"remove_deleted"`
	FilenameAsID   bool          `yaml:"filename_as_id"`
	IndexFolders   *bool         `yaml:"index_folders"`
	Checksum       string        `yaml:"checksum" validate:"omitempty,oneof=md5 sha1 sha256 sha512"`
	IndexedChars   *int          `yaml:"indexed_chars" validate:"omitempty,gte=0"`
	IgnoreAbove    ByteSize      `yaml:"ignore_above" validate:"gte=0"`
	AddFileSize    *bool         `yaml:"add_filesize"`
	IndexContent   *bool         `yaml:"index_content"`
	LiveLookup     bool          `yaml:"live_lookup"`
}

// ElasticsearchConfig points a job at its indices.
type ElasticsearchConfig struct {
	Nodes         []string      `yaml:"nodes" validate:"required,min=1,dive,url"`
	Index         string        `yaml:"index"`
	IndexFolder   string        `yaml:"index_folder"`
	Pipeline      string        `yaml:"pipeline"`
	BulkSize      int           `yaml:"bulk_size" validate:"gte=0"`
	ByteSize      ByteSize      `yaml:"byte_size" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	APIKey        string        `yaml:"api_key" validate:"excluded_with=Username"`
	RateLimit     float64       `yaml:"rate_limit" validate:"gte=0"`
	PushTemplates *bool         `yaml:"push_templates"`
	// StartupTimeout bounds how long startup waits for a reachable node.
	StartupTimeout time.Duration `yaml:"startup_timeout" validate:"gte=0"`
}

// CheckpointConfig selects where checkpoints live.
type CheckpointConfig struct {
	Backend  string        `yaml:"backend" validate:"oneof=file postgres memory"`
	Dir      string        `yaml:"dir" validate:"required_if=Backend file"`
	DSN      string        `yaml:"dsn" validate:"required_if=Backend postgres"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// EventsConfig configures crawl lifecycle events.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig enables the Kafka publisher when Brokers is not empty.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic" validate:"required_with=Brokers"`
	ClientID string   `yaml:"client_id"`
}

// Enabled reports whether events are published.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// TelemetryConfig configures tracing and metrics export.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRatio  float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// LogConfig configures the process logger. An empty File logs to stdout.
type LogConfig struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	for i := range c.Jobs {
		c.Jobs[i].applyDefaults()
	}

	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = BackendFile
	}
	if c.Checkpoint.Backend == BackendFile && c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = defaultCheckpointDir()
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = 30 * time.Second
	}
	if c.Events.Kafka.ClientID == "" {
		c.Events.Kafka.ClientID = defaultKafkaClientID
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
}

func (j *JobConfig) applyDefaults() {
	fs := &j.FS
	if fs.UpdateRate == 0 {
		fs.UpdateRate = crawl.DefaultUpdateRate
	}
	setDefault(&fs.RemoveDeleted, true)
	setDefault(&fs.IndexFolders, true)
	setDefault(&fs.AddFileSize, true)
	setDefault(&fs.IndexContent, true)
	setDefault(&fs.IndexedChars, defaultIndexedChars)

	es := &j.Elasticsearch
	if es.Index == "" {
		es.Index = j.Name
	}
	if es.IndexFolder == "" {
		es.IndexFolder = es.Index + "_folder"
	}
	if es.BulkSize == 0 {
		es.BulkSize = defaultBulkSize
	}
	if es.ByteSize == 0 {
		es.ByteSize = defaultByteSize
	}
	if es.FlushInterval == 0 {
		es.FlushInterval = defaultFlushInterval
	}
	setDefault(&es.PushTemplates, true)
}

func setDefault[T any](p **T, v T) {
	if *p == nil {
		*p = &v
	}
}

func defaultCheckpointDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fscrawl"
	}
	return filepath.Join(home, ".fscrawl")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and reports every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Job returns the named job.
func (c *Config) Job(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}

// CrawlJob converts the job settings into a crawl job. Defaults must have
// been applied.
func (j JobConfig) CrawlJob() (*crawl.Job, error) {
	return crawl.NewJob(crawl.Job{
		Name:           j.Name,
		Root:           j.FS.URL,
		Includes:       j.FS.Includes,
		Excludes:       j.FS.Excludes,
		Filters:        j.FS.Filters,
		UpdateRate:     j.FS.UpdateRate,
		FollowSymlinks: j.FS.FollowSymlinks,
		RemoveDeleted:  deref(j.FS.RemoveDeleted),
		FilenameAsID:   j.FS.FilenameAsID,
		IndexFolders:   deref(j.FS.IndexFolders),
		IndexContent:   deref(j.FS.IndexContent),
		AddFileSize:    deref(j.FS.AddFileSize),
		LiveLookup:     j.FS.LiveLookup,
		Checksum:       j.FS.Checksum,
		IndexedChars:   deref(j.FS.IndexedChars),
		IgnoreAbove:    int64(j.FS.IgnoreAbove),
		Index:          j.Elasticsearch.Index,
		FolderIndex:    j.Elasticsearch.IndexFolder,
		Pipeline:       j.Elasticsearch.Pipeline,
	})
}

// BulkConfig returns the flush thresholds of the job.
func (j JobConfig) BulkConfig() bulk.Config {
	return bulk.Config{
		BulkSize:      j.Elasticsearch.BulkSize,
		ByteSize:      int64(j.Elasticsearch.ByteSize),
		FlushInterval: j.Elasticsearch.FlushInterval,
	}
}

// ClientConfig returns the index client settings of the job.
func (j JobConfig) ClientConfig() elastic.Config {
	return elastic.Config{
		Nodes:          j.Elasticsearch.Nodes,
		Username:       j.Elasticsearch.Username,
		Password:       j.Elasticsearch.Password,
		APIKey:         j.Elasticsearch.APIKey,
		StartupTimeout: j.Elasticsearch.StartupTimeout,
		RateLimit:      j.Elasticsearch.RateLimit,
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
