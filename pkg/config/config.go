// Package config loads the YAML configuration shared by the gojocache
// binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	"github.com/sushant-115/gojocache/pkg/logger"
	"github.com/sushant-115/gojocache/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the root of the configuration file.
type Config struct {
	// DataDir is where relative file paths are resolved.
	DataDir   string           `yaml:"data_dir"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	PageCache pagecache.Config `yaml:"page_cache"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir: "data",
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			ServiceName:      "gojocache",
			TraceSampleRatio: 1.0,
		},
		PageCache: pagecache.DefaultConfig(),
	}
}

// Load reads path over Default. Settings missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and validates the page cache section.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.PageCache.Validate()
}
