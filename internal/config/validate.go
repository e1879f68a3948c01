package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is invalid", c.Log.Level)
	}

	if c.Tools.FFmpeg == "" || c.Tools.FFprobe == "" {
		return errors.New("tools.ffmpeg and tools.ffprobe are required")
	}
	if c.Model.Command == "" {
		return errors.New("model.command is required")
	}
	if c.Model.Timeout < 0 {
		return errors.New("model.timeout must be >= 0")
	}

	if c.Pipeline.SegmentSeconds < 0 {
		return errors.New("pipeline.segment_seconds must be >= 0")
	}
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be > 0")
	}
	if c.Pipeline.Timeout < 0 || c.Pipeline.KillGrace < 0 {
		return errors.New("pipeline timeouts must be >= 0")
	}

	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be > 0")
	}
	if c.Server.MaxInputSeconds < 0 {
		return errors.New("server.max_input_seconds must be >= 0")
	}

	if c.Storage.Enabled() {
		if c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint is required when storage.bucket is set")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return errors.New("storage credentials are required when storage.bucket is set")
		}
	}
	return nil
}
