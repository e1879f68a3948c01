// Package s3store keeps uploads and results in an S3-compatible bucket
// such as DigitalOcean Spaces.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/forPelevin/lipseg/internal/logger"
)

type Config struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	ACL           string
	AllowedHosts  []string
	Log           *slog.Logger
}

// API is the subset of *s3.Client the adapter calls.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Adapter struct {
	api        API
	bucket     string
	acl        string
	publicBase string
	log        *slog.Logger
	newID      func() string
}

// New builds a client with static credentials against cfg.Endpoint.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if err := ValidateEndpoint(cfg.Endpoint, cfg.AllowedHosts); err != nil {
		return nil, err
	}
	if cfg.PublicBaseURL != "" {
		if err := ValidateEndpoint(cfg.PublicBaseURL, nil); err != nil {
			return nil, fmt.Errorf("public base url: %w", err)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := normalizeURL(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return NewWithAPI(client, cfg), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, cfg Config) *Adapter {
	return &Adapter{
		api:        api,
		bucket:     cfg.Bucket,
		acl:        cfg.ACL,
		publicBase: publicBase(cfg),
		log:        logger.OrDiscard(cfg.Log),
		newID:      func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Upload stores body under <slug>/<hex id>-<filename> and returns the key
// and its public URL.
func (a *Adapter) Upload(ctx context.Context, slug, filename string, body io.Reader) (string, string, error) {
	key := a.key(slug, filename)
	in := &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if ct := contentType(key); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if a.acl != "" {
		in.ACL = s3types.ObjectCannedACL(a.acl)
	}
	if _, err := a.api.PutObject(ctx, in); err != nil {
		return "", "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	a.log.Debug("object uploaded", slog.String("key", key))
	return key, a.URL(key), nil
}

// Download writes the object to dst. dst only appears once fully written.
func (a *Adapter) Download(ctx context.Context, key, dst string) error {
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, out.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("s3 get %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("s3 delete: empty key")
	}
	if _, err := a.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	a.log.Debug("object deleted", slog.String("key", key))
	return nil
}

// URL returns the public address of key.
func (a *Adapter) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return a.publicBase + "/" + strings.Join(parts, "/")
}

func (a *Adapter) key(slug, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	slug = strings.Trim(slug, "/")
	if slug == "" {
		return a.newID() + "-" + name
	}
	return slug + "/" + a.newID() + "-" + name
}

var mediaTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".wav": "audio/wav",
	".mp3": "audio/mpeg",
	".png": "image/png",
}

func contentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

// publicBase prefers the configured CDN; otherwise it uses the
// virtual-hosted bucket URL on the endpoint host.
func publicBase(cfg Config) string {
	if cfg.PublicBaseURL != "" {
		return normalizeURL(cfg.PublicBaseURL)
	}
	u, err := url.Parse(normalizeURL(cfg.Endpoint))
	if err != nil || u.Host == "" {
		return normalizeURL(cfg.Endpoint) + "/" + cfg.Bucket
	}
	return u.Scheme + "://" + cfg.Bucket + "." + u.Host
}
