// Package config loads lipseg settings from an optional YAML file and the
// environment. Precedence: defaults < file < environment < CLI flags (the
// CLI applies flags on the returned value).
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/lipseg/internal/logger"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Tools    ToolsConfig    `yaml:"tools"`
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
}

type LogConfig struct {
	Level      string `yaml:"level"`  // debug|info|warn|error
	Format     string `yaml:"format"` // text|json
	File       string `yaml:"file"`   // rotated by lumberjack when set
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

type ToolsConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
}

// ModelConfig describes the inference executable. It is invoked as
// <command> <args...> --face=.. --audio=.. --outfile=.. <extra_args...>.
type ModelConfig struct {
	Command       string        `yaml:"command"`
	Args          []string      `yaml:"args"`
	ExtraArgs     []string      `yaml:"extra_args"`
	TrustExitCode bool          `yaml:"trust_exit_code"`
	Timeout       time.Duration `yaml:"timeout"` // per job, 0 = none
}

type PipelineConfig struct {
	// SegmentSeconds is the target segment length; 0 processes inputs whole.
	SegmentSeconds int    `yaml:"segment_seconds"`
	Workers        int    `yaml:"workers"`
	WorkDir        string `yaml:"work_dir"`
	OutDir         string `yaml:"out_dir"`

	// Timeout bounds a whole run. It is 3h when unset; an explicit 0s
	// disables it.
	Timeout   time.Duration `yaml:"timeout"`
	KillGrace time.Duration `yaml:"kill_grace"`
}

func (p PipelineConfig) SegmentLength() time.Duration {
	return time.Duration(p.SegmentSeconds) * time.Second
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
	// MaxInputSeconds rejects longer uploads; 0 disables the check.
	MaxInputSeconds int `yaml:"max_input_seconds"`
}

// StorageConfig points at an S3-compatible bucket (DigitalOcean Spaces in
// the reference deployment). Storage is disabled when Bucket is empty.
type StorageConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	Region        string   `yaml:"region"`
	Bucket        string   `yaml:"bucket"`
	AccessKey     string   `yaml:"access_key"`
	SecretKey     string   `yaml:"secret_key"`
	PublicBaseURL string   `yaml:"public_base_url"`
	ACL           string   `yaml:"acl"`
	AllowedHosts  []string `yaml:"allowed_hosts"`
}

func (s StorageConfig) Enabled() bool { return s.Bucket != "" }

const defaultRunTimeout = 3 * time.Hour

// Load reads path (skipped when empty), applies environment overrides and
// fills defaults. It does not validate; call Validate after applying flags.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	// Seeded before decoding so that a zero from the file or env survives.
	cfg := Config{Pipeline: PipelineConfig{Timeout: defaultRunTimeout}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("decode config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.File != "" && c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}

	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = "ffprobe"
	}

	if c.Model.Command == "" {
		c.Model.Command = "python"
		if c.Model.Args == nil {
			c.Model.Args = []string{"inference.py"}
		}
	}

	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = runtime.NumCPU()
	}
	if c.Pipeline.WorkDir == "" {
		c.Pipeline.WorkDir = os.TempDir()
	}
	if c.Pipeline.OutDir == "" {
		c.Pipeline.OutDir = "out"
	}
	if c.Pipeline.KillGrace == 0 {
		c.Pipeline.KillGrace = 5 * time.Second
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8888"
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 512
	}

	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.ACL == "" {
		c.Storage.ACL = "public-read"
	}
}
