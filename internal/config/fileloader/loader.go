package fileloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fscrawl/fscrawl/internal/config"
)

// FileLoader loads configuration from a YAML file. It implements the
// config.Loader interface.
type FileLoader struct {
	fs        afero.Fs
	path      string
	overrides *viper.Viper
}

// Option configures a FileLoader.
type Option func(*FileLoader)

// WithOverrides applies the process settings set in v on top of the file.
func WithOverrides(v *viper.Viper) Option {
	return func(l *FileLoader) { l.overrides = v }
}

var _ config.Loader = (*FileLoader)(nil)

// NewFileLoader creates a FileLoader reading path from fsys.
func NewFileLoader(fsys afero.Fs, path string, opts ...Option) *FileLoader {
	l := &FileLoader{fs: fsys, path: path}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load parses the file after expanding ${VAR} references from the
// environment. Overrides are applied before defaults, and unknown keys are
// rejected.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)

	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
	}

	if l.overrides != nil {
		cfg.ApplyOverrides(l.overrides)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
