package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Channel ChannelConfig `yaml:"channel"`
	Upload  UploadConfig  `yaml:"upload"`
	UI      UIConfig      `yaml:"ui"`
}

type StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ChannelConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	ResultWindow time.Duration `yaml:"result_window"`
}

type UploadConfig struct {
	Concurrency int   `yaml:"concurrency"`
	PartSize    int64 `yaml:"part_size"`
}

type UIConfig struct {
	StartDir string `yaml:"start_dir"`
}

const (
	DefaultResultWindow = 15 * time.Second
	DefaultConcurrency  = 4
	DefaultPartSize     = 5 << 20
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	cfg := &Config{
		Storage: StorageConfig{
			Region: "us-east-1",
		},
		Channel: ChannelConfig{
			ResultWindow: DefaultResultWindow,
		},
		Upload: UploadConfig{
			Concurrency: DefaultConcurrency,
			PartSize:    DefaultPartSize,
		},
		UI: UIConfig{
			StartDir: ".",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	// Environment credentials take precedence over the config file so the
	// standard AWS variables keep working.
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretAccessKey = v
	}

	return cfg, nil
}

// Validate checks the fields without which the client cannot operate at all.
// Credentials are deliberately not validated here: their absence only warrants
// a warning, the channel connection attempt proceeds regardless.
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return errors.New("storage.bucket is required")
	}
	if c.Channel.Endpoint == "" {
		return errors.New("channel.endpoint is required")
	}
	if c.Upload.Concurrency < 1 {
		return errors.New("upload.concurrency must be at least 1")
	}
	if c.Upload.PartSize < 1 {
		return errors.New("upload.part_size must be positive")
	}
	return nil
}

func (c *Config) HasCredentials() bool {
	return c.Storage.AccessKeyID != "" && c.Storage.SecretAccessKey != ""
}
