package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DataDir  string         `mapstructure:"data_dir" yaml:"data_dir"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	URL  string `mapstructure:"url" yaml:"url"`
}

type DownloadConfig struct {
	Retries                int           `mapstructure:"retries" yaml:"retries"`
	Backoff                time.Duration `mapstructure:"backoff" yaml:"backoff"`
	ProgressInterval       time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	ChunkSize              int           `mapstructure:"chunk_size" yaml:"chunk_size"`
	WiFiOnly               bool          `mapstructure:"wifi_only" yaml:"wifi_only"`
	LargeDownloadThreshold int64         `mapstructure:"large_download_threshold" yaml:"large_download_threshold"`
	AllowLargeDownloads    bool          `mapstructure:"allow_large_downloads" yaml:"allow_large_downloads"`
}

type NetworkConfig struct {
	ProbeAddr    string        `mapstructure:"probe_addr" yaml:"probe_addr"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	Metered      bool          `mapstructure:"metered" yaml:"metered"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// TempDir holds the resumable <id>.part files.
func (c *Config) TempDir() string { return filepath.Join(c.DataDir, "tmp") }

// PacksDir holds one install directory per pack id.
func (c *Config) PacksDir() string { return filepath.Join(c.DataDir, "packs") }

func (c *Config) StagingDir() string { return filepath.Join(c.DataDir, "staging") }

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	// 1. Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// FALLBACK: inside a container the config is usually mounted at /config
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then point catalog.path or catalog.url at your pack catalog.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("data_dir", "./data")
	v.SetDefault("port", "8080")
	v.SetDefault("download.retries", 3)
	v.SetDefault("download.backoff", "2s")
	v.SetDefault("download.progress_interval", "200ms")
	v.SetDefault("download.chunk_size", 256*1024)
	v.SetDefault("download.wifi_only", false)
	v.SetDefault("download.large_download_threshold", 0)
	v.SetDefault("download.allow_large_downloads", true)
	v.SetDefault("network.probe_timeout", "3s")
	v.SetDefault("network.metered", false)
	v.SetDefault("log.path", "packman.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)

	// Read config File
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables
	v.SetEnvPrefix("PACKMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Catalog.Path == "" && c.Catalog.URL == "" {
		return errors.New("catalog.path or catalog.url must be configured")
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Download.Retries < 0 {
		return fmt.Errorf("download.retries must not be negative (got %d)", c.Download.Retries)
	}

	if c.Download.Backoff <= 0 {
		c.Download.Backoff = 2 * time.Second
	}

	if c.Download.ProgressInterval <= 0 {
		c.Download.ProgressInterval = 200 * time.Millisecond
	}

	if c.Download.ChunkSize <= 0 {
		// Default to a sane value
		c.Download.ChunkSize = 256 * 1024
	}

	if c.Network.ProbeTimeout <= 0 {
		c.Network.ProbeTimeout = 3 * time.Second
	}

	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(c.DataDir, "packman.db")
	}

	return nil
}
