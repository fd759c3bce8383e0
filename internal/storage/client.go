// Package storage keeps uploads and renditions in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound is returned by ReadObject when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Renditions are written under fresh keys and never overwritten.
const renditionCacheControl = "public, max-age=31536000, immutable"

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
	// PublicBaseURL is where stored objects are served from, e.g. a CDN
	// origin. Empty means path-style URLs on the storage endpoint.
	PublicBaseURL string
	// MaxObjectBytes caps ReadObject. Zero means no cap.
	MaxObjectBytes int64
}

func (c Config) publicBase() string {
	if base := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/"); base != "" {
		return base
	}
	u := url.URL{Scheme: "http", Host: c.Endpoint, Path: "/" + c.Bucket}
	if c.UseSSL {
		u.Scheme = "https"
	}
	return u.String()
}

type Client struct {
	mc       *minio.Client
	bucket   string
	base     string
	maxBytes int64
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Endpoint, err)
	}
	return &Client{mc: mc, bucket: cfg.Bucket, base: cfg.publicBase(), maxBytes: cfg.MaxObjectBytes}, nil
}

func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket unless it exists. Losing a creation race
// to another replica is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ok, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("storage: bucket %s: %w", c.bucket, err)
	}
	if ok {
		return nil
	}
	err = c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	switch minio.ToErrorResponse(err).Code {
	case "", "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return fmt.Errorf("storage: create bucket %s: %w", c.bucket, err)
}

// PresignedPutURL lets a client upload the original media directly.
func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.mc.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("storage: stat %s: %w", objectKey, err)
	}
}

// ReadObject loads a whole source object into memory; decoding needs all of it.
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.readErr(objectKey, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, c.readErr(objectKey, err)
	}
	if c.maxBytes > 0 && info.Size > c.maxBytes {
		return nil, fmt.Errorf("storage: %s is %d bytes, limit %d", objectKey, info.Size, c.maxBytes)
	}

	buf := bytes.NewBuffer(make([]byte, 0, max(info.Size, 0)))
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, c.readErr(objectKey, err)
	}
	return buf.Bytes(), nil
}

// WriteObject stores a rendition. Keys are unique per job and step, so the
// object is marked immutable for caches in front of the bucket.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: renditionCacheControl,
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", objectKey, err)
	}
	return nil
}

// PublicURL returns the retrieval URL the feed uses for objectKey.
func (c *Client) PublicURL(objectKey string) string {
	segments := strings.Split(strings.TrimLeft(objectKey, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return c.base + "/" + strings.Join(segments, "/")
}

func (c *Client) readErr(objectKey string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("storage: %s: %w", objectKey, ErrObjectNotFound)
	}
	return fmt.Errorf("storage: read %s: %w", objectKey, err)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}
	return false
}
