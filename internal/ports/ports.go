package ports

import (
	"context"
	"io"
	"time"
)

// MediaTool covers every container-level operation the pipeline needs.
// Split and Copy never re-encode.
type MediaTool interface {
	Split(ctx context.Context, in string, segment time.Duration, outPattern string) error
	Copy(ctx context.Context, in, out string) error
	Concat(ctx context.Context, manifest, out string) error
	Normalize(ctx context.Context, in, out string) error
	ProbeDuration(ctx context.Context, in string) (time.Duration, error)
	Thumbnail(ctx context.Context, in, out string) error
}

// LipSync is the external inference model: it writes a playable video to
// out or fails.
type LipSync interface {
	Infer(ctx context.Context, face, audio, out string) error
}

type ObjectStore interface {
	Upload(ctx context.Context, slug, filename string, body io.Reader) (key, url string, err error)
	Download(ctx context.Context, key, dst string) error
	Delete(ctx context.Context, key string) error
}
