package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

func validConfig() *Config {
	return &Config{
		Jobs: []JobConfig{{
			Name:          "docs",
			FS:            FSConfig{URL: "/srv/docs"},
			Elasticsearch: ElasticsearchConfig{Nodes: []string{"http://localhost:9200"}},
		}},
		Checkpoint: CheckpointConfig{Backend: BackendMemory},
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	job, err := cfg.Jobs[0].CrawlJob()
	require.NoError(t, err)
	assert.Equal(t, crawl.DefaultUpdateRate, job.UpdateRate)
	assert.True(t, job.RemoveDeleted)
	assert.True(t, job.IndexFolders)
	assert.True(t, job.IndexContent)
	assert.True(t, job.AddFileSize)
	assert.Equal(t, 100000, job.IndexedChars)
	assert.Equal(t, "docs", job.Index)
	assert.Equal(t, "docs_folder", job.FolderIndex)
	assert.Nil(t, job.Excludes, "nil excludes select the default lock file pattern")

	b := cfg.Jobs[0].BulkConfig()
	assert.Equal(t, 100, b.BulkSize)
	assert.Equal(t, int64(10_000_000), b.ByteSize)
	assert.Equal(t, 5*time.Second, b.FlushInterval)
	assert.True(t, *cfg.Jobs[0].Elasticsearch.PushTemplates)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "fscrawl", cfg.Telemetry.ServiceName)
	assert.Equal(t, 30*time.Second, cfg.Checkpoint.Interval)
}

func TestApplyDefaultsKeepsExplicitFalse(t *testing.T) {
	no := false
	zero := 0
	cfg := validConfig()
	cfg.Jobs[0].FS.RemoveDeleted = &no
	cfg.Jobs[0].FS.IndexContent = &no
	cfg.Jobs[0].FS.IndexedChars = &zero
	cfg.Jobs[0].Elasticsearch.Index = "library"
	cfg.ApplyDefaults()

	job, err := cfg.Jobs[0].CrawlJob()
	require.NoError(t, err)
	assert.False(t, job.RemoveDeleted)
	assert.False(t, job.IndexContent)
	assert.Zero(t, job.IndexedChars)
	assert.Equal(t, "library_folder", job.FolderIndex)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "no jobs",
			mutate:  func(c *Config) { c.Jobs = nil },
			wantErr: "Jobs",
		},
		{
			name:    "missing root",
			mutate:  func(c *Config) { c.Jobs[0].FS.URL = "" },
			wantErr: "Jobs[0].FS.URL",
		},
		{
			name:    "duplicate job names",
			mutate:  func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) },
			wantErr: "unique",
		},
		{
			name:    "slash in name",
			mutate:  func(c *Config) { c.Jobs[0].Name = "a/b" },
			wantErr: "Jobs[0].Name",
		},
		{
			name:    "unknown checksum",
			mutate:  func(c *Config) { c.Jobs[0].FS.Checksum = "crc32" },
			wantErr: "Jobs[0].FS.Checksum",
		},
		{
			name:    "bad node url",
			mutate:  func(c *Config) { c.Jobs[0].Elasticsearch.Nodes = []string{"not a url"} },
			wantErr: "Elasticsearch.Nodes[0]",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Checkpoint.Backend = BackendPostgres },
			wantErr: "Checkpoint.DSN",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Checkpoint.Backend = "redis" },
			wantErr: "Checkpoint.Backend",
		},
		{
			name:    "kafka without topic",
			mutate:  func(c *Config) { c.Events.Kafka.Brokers = []string{"localhost:9092"} },
			wantErr: "Events.Kafka.Topic",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "Log.Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.ApplyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestByteSizeUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{in: "size: 1024", want: 1024},
		{in: "size: 10mb", want: 10_000_000},
		{in: "size: 512KiB", want: 512 * 1024},
		{in: "size: lots", wantErr: true},
		{in: "size: [1]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var v struct {
				Size ByteSize `yaml:"size"`
			}
			err := yaml.Unmarshal([]byte(tt.in), &v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Size)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("FSCRAWL_CHECKPOINT_BACKEND", "postgres")
	t.Setenv("FSCRAWL_CHECKPOINT_DSN", "postgres://localhost/fscrawl")

	v := NewViper()
	v.Set(KeyLogLevel, "debug")
	v.Set(KeyKafkaBrokers, []string{"k1:9092", "k2:9092"})

	cfg := validConfig()
	cfg.ApplyOverrides(v)

	assert.Equal(t, BackendPostgres, cfg.Checkpoint.Backend)
	assert.Equal(t, "postgres://localhost/fscrawl", cfg.Checkpoint.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
	assert.Empty(t, cfg.Telemetry.MetricsAddr)
}

func TestConfigJob(t *testing.T) {
	cfg := validConfig()
	j, ok := cfg.Job("docs")
	require.True(t, ok)
	assert.Equal(t, "/srv/docs", j.FS.URL)

	_, ok = cfg.Job("missing")
	assert.False(t, ok)

	cc := j.ClientConfig()
	assert.Equal(t, []string{"http://localhost:9200"}, cc.Nodes)
}
