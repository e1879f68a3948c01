package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides file values with LIPSEG_* variables. Storage also
// honours the DO_S3_* names used by existing deployments; LIPSEG_S3_* wins
// when both are set.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str(&c.Log.Level, "LIPSEG_LOG_LEVEL")
	e.str(&c.Log.Format, "LIPSEG_LOG_FORMAT")
	e.str(&c.Log.File, "LIPSEG_LOG_FILE")

	e.str(&c.Tools.FFmpeg, "LIPSEG_FFMPEG")
	e.str(&c.Tools.FFprobe, "LIPSEG_FFPROBE")

	e.str(&c.Model.Command, "LIPSEG_MODEL_COMMAND")
	e.fields(&c.Model.Args, "LIPSEG_MODEL_ARGS")
	e.fields(&c.Model.ExtraArgs, "LIPSEG_MODEL_EXTRA_ARGS")
	e.boolean(&c.Model.TrustExitCode, "LIPSEG_MODEL_TRUST_EXIT_CODE")
	e.duration(&c.Model.Timeout, "LIPSEG_MODEL_TIMEOUT")

	e.integer(&c.Pipeline.SegmentSeconds, "LIPSEG_SEGMENT_SECONDS")
	e.integer(&c.Pipeline.Workers, "LIPSEG_WORKERS")
	e.str(&c.Pipeline.WorkDir, "LIPSEG_WORK_DIR")
	e.str(&c.Pipeline.OutDir, "LIPSEG_OUT_DIR")
	e.duration(&c.Pipeline.Timeout, "LIPSEG_RUN_TIMEOUT")
	e.duration(&c.Pipeline.KillGrace, "LIPSEG_KILL_GRACE")

	e.str(&c.Server.Addr, "LIPSEG_ADDR")
	e.int64(&c.Server.MaxUploadMB, "LIPSEG_MAX_UPLOAD_MB")
	e.integer(&c.Server.MaxInputSeconds, "LIPSEG_MAX_INPUT_SECONDS")

	e.str(&c.Storage.Endpoint, "DO_S3_ENDPOINT", "LIPSEG_S3_ENDPOINT")
	e.str(&c.Storage.Region, "DO_S3_REGION", "LIPSEG_S3_REGION")
	e.str(&c.Storage.Bucket, "DO_S3_SPACENAME", "LIPSEG_S3_BUCKET")
	e.str(&c.Storage.AccessKey, "DO_S3_ACCESS_KEY", "LIPSEG_S3_ACCESS_KEY")
	e.str(&c.Storage.SecretKey, "DO_S3_SECRET_ACCESS_KEY", "LIPSEG_S3_SECRET_KEY")
	e.str(&c.Storage.PublicBaseURL, "LIPSEG_S3_PUBLIC_BASE_URL")
	e.str(&c.Storage.ACL, "LIPSEG_S3_ACL")

	return e.err
}

// envReader keeps the first parse error. Later names override earlier ones.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(names ...string) (string, string, bool) {
	var (
		val, name string
		found     bool
	)
	for _, n := range names {
		if v, ok := e.lookup(n); ok && strings.TrimSpace(v) != "" {
			val, name, found = strings.TrimSpace(v), n, true
		}
	}
	return val, name, found
}

func (e *envReader) fail(name string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("env %s: %w", name, err)
	}
}

func (e *envReader) str(dst *string, names ...string) {
	if v, _, ok := e.get(names...); ok {
		*dst = v
	}
}

func (e *envReader) fields(dst *[]string, names ...string) {
	if v, _, ok := e.get(names...); ok {
		*dst = strings.Fields(v)
	}
}

func (e *envReader) integer(dst *int, names ...string) {
	v, name, ok := e.get(names...)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *envReader) int64(dst *int64, names ...string) {
	v, name, ok := e.get(names...)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(dst *bool, names ...string) {
	v, name, ok := e.get(names...)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = b
}

func (e *envReader) duration(dst *time.Duration, names ...string) {
	v, name, ok := e.get(names...)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = d
}
