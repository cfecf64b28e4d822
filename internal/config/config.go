package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvToken                  = "TELEGRAM_BOT_TOKEN"
	EnvDebug                  = "TELEGRAM_DEBUG"
	EnvConfigFile             = "CONFIG_FILE"
	EnvWorkDir                = "WORK_DIR"
	EnvFFmpegPath             = "FFMPEG_PATH"
	EnvDownloadTimeout        = "DOWNLOAD_TIMEOUT"
	EnvMaxConcurrentDownloads = "MAX_CONCURRENT_DOWNLOADS"
	EnvMaxUploadSize          = "MAX_UPLOAD_SIZE"
	EnvClearWindow            = "CLEAR_WINDOW"
	EnvLogLevel               = "LOG_LEVEL"
	EnvLogFormat              = "LOG_FORMAT"
	EnvMetricsAddress         = "METRICS_ADDRESS"
)

// Defaults.
const (
	DefaultWorkDir                = "downloads"
	DefaultFFmpegPath             = "ffmpeg"
	DefaultDownloadTimeout        = 10 * time.Minute
	DefaultMaxConcurrentDownloads = 2
	DefaultMaxUploadSize          = 50 << 20 // Telegram limit for bot uploads
	DefaultClearWindow            = 100
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
)

type Config struct {
	Token                  string        `yaml:"token"`
	Debug                  bool          `yaml:"debug"`
	WorkDir                string        `yaml:"workDir"`
	FFmpegPath             string        `yaml:"ffmpegPath"`
	DownloadTimeout        time.Duration `yaml:"downloadTimeout"`
	MaxConcurrentDownloads int           `yaml:"maxConcurrentDownloads"`
	MaxUploadSize          int64         `yaml:"maxUploadSize"`
	ClearWindow            int           `yaml:"clearWindow"`
	LogLevel               string        `yaml:"logLevel"`
	LogFormat              string        `yaml:"logFormat"`
	MetricsAddress         string        `yaml:"metricsAddress"`
}

// Default returns a config with every optional value set.
func Default() Config {
	return Config{
		WorkDir:                DefaultWorkDir,
		FFmpegPath:             DefaultFFmpegPath,
		DownloadTimeout:        DefaultDownloadTimeout,
		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		MaxUploadSize:          DefaultMaxUploadSize,
		ClearWindow:            DefaultClearWindow,
		LogLevel:               DefaultLogLevel,
		LogFormat:              DefaultLogFormat,
	}
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv builds the config from the process environment and the optional
// YAML file named by CONFIG_FILE.
func FromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds the config from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load(lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path, ok := lookup(EnvConfigFile); ok && path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.overlay(lookup); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "decode config file %s", path)
	}

	return nil
}

func (c *Config) overlay(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && value != "" {
			*dst = value
		}
	}

	str(EnvToken, &c.Token)
	str(EnvWorkDir, &c.WorkDir)
	str(EnvFFmpegPath, &c.FFmpegPath)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvLogFormat, &c.LogFormat)
	str(EnvMetricsAddress, &c.MetricsAddress)

	if value, ok := lookup(EnvDebug); ok && value != "" {
		debug, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvDebug)
		}

		c.Debug = debug
	}

	if value, ok := lookup(EnvDownloadTimeout); ok && value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvDownloadTimeout)
		}

		c.DownloadTimeout = timeout
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxConcurrentDownloads, &c.MaxConcurrentDownloads},
		{EnvClearWindow, &c.ClearWindow},
	}

	for _, entry := range ints {
		value, ok := lookup(entry.key)
		if !ok || value == "" {
			continue
		}

		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "parse %s", entry.key)
		}

		*entry.dst = n
	}

	if value, ok := lookup(EnvMaxUploadSize); ok && value != "" {
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvMaxUploadSize)
		}

		c.MaxUploadSize = size
	}

	return nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	switch {
	case c.Token == "":
		return errors.Errorf("%s is not set", EnvToken)
	case c.WorkDir == "":
		return errors.New("work directory is empty")
	case c.FFmpegPath == "":
		return errors.New("ffmpeg path is empty")
	case c.DownloadTimeout <= 0:
		return errors.Errorf("download timeout must be positive, got %s", c.DownloadTimeout)
	case c.MaxConcurrentDownloads < 1:
		return errors.Errorf("max concurrent downloads must be at least 1, got %d", c.MaxConcurrentDownloads)
	case c.MaxUploadSize <= 0:
		return errors.Errorf("max upload size must be positive, got %d", c.MaxUploadSize)
	case c.ClearWindow < 1:
		return errors.Errorf("clear window must be at least 1, got %d", c.ClearWindow)
	}

	return nil
}
