// Package storage pushes segment bytes and playlist text to S3-compatible
// object storage under a hard per-call deadline. This is the real-time
// backpressure boundary: an upload that cannot finish in time fails with a
// distinguishable deadline error and the caller drops the item rather than
// retrying, because a late segment is worth less than the next one.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"streamcap/internal/hls"
)

// ErrDeadlineExceeded marks an upload that ran past its configured deadline,
// as opposed to a transport or credential failure. Test with errors.Is.
var ErrDeadlineExceeded = errors.New("upload deadline exceeded")

// DefaultTimeout is the per-call upload deadline when none is configured.
const DefaultTimeout = 10 * time.Second

// Config holds the immutable storage settings for one session.
type Config struct {
	// Endpoint is the S3-compatible host, e.g. "s3.amazonaws.com" or
	// "minio.internal:9000".
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Timeout bounds every individual put; DefaultTimeout when zero.
	Timeout time.Duration
}

// PublicBaseURL returns the public HTTP(S) base under which uploaded keys are
// reachable. AWS endpoints use virtual-hosted style; everything else (MinIO
// and friends) uses path style.
func (c Config) PublicBaseURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	if strings.Contains(c.Endpoint, "amazonaws.com") {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
	}
	return fmt.Sprintf("%s://%s/%s", scheme, c.Endpoint, c.Bucket)
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Object is one pending upload for BatchUpload.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Uploader delivers bytes to one bucket. Safe for concurrent use.
type Uploader struct {
	client *minio.Client
	cfg    Config
	log    *slog.Logger
}

// New builds an uploader for the configured endpoint and bucket. Client
// construction validates the endpoint but performs no network I/O.
func New(cfg Config, log *slog.Logger) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Uploader{client: client, cfg: cfg, log: log}, nil
}

// UploadSegment puts one segment under its key with the content type for its
// kind, bounded by the configured deadline.
func (u *Uploader) UploadSegment(ctx context.Context, kind hls.Kind, key string, data []byte) error {
	return u.put(ctx, key, hls.SegmentContentType(kind), data)
}

// UpdatePlaylist puts playlist text under its key, same deadline discipline
// as segments.
func (u *Uploader) UpdatePlaylist(ctx context.Context, key, text string) error {
	return u.put(ctx, key, hls.PlaylistContentType, []byte(text))
}

// put performs one deadline-bounded upload.
func (u *Uploader) put(ctx context.Context, key, contentType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.timeout())
	defer cancel()

	_, err := u.client.PutObject(ctx, u.cfg.Bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrDeadlineExceeded, key, u.cfg.timeout())
		}
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// BatchUpload issues all uploads concurrently and fails on the first error,
// which names the offending key. Remaining uploads are cancelled.
func (u *Uploader) BatchUpload(ctx context.Context, objects []Object) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			return u.put(ctx, obj.Key, obj.ContentType, obj.Data)
		})
	}
	return g.Wait()
}

// Presign produces a time-limited read URL for a key. Pure function of the
// storage configuration: no network I/O, no local state.
func (u *Uploader) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := u.client.PresignedGetObject(ctx, u.cfg.Bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return signed.String(), nil
}

// Cleanup deletes the given keys in parallel, best effort: individual
// failures are logged and never propagated, so retention can never stall or
// fail a recording session.
func (u *Uploader) Cleanup(ctx context.Context, keys []string) {
	var g errgroup.Group
	for _, key := range keys {
		key := key
		g.Go(func() error {
			err := u.client.RemoveObject(ctx, u.cfg.Bucket, key, minio.RemoveObjectOptions{})
			if err != nil {
				u.log.Warn("cleanup delete failed", "key", key, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
