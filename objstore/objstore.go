// Package objstore keeps archives in an S3-compatible bucket.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kurakura967/go-elasticsearch-archiver/archive"
)

// partSize bounds the memory one streaming upload holds.
const partSize = 16 << 20

// Config locates a bucket. Empty credentials are taken from the standard
// AWS environment variables.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Client opens a minio client for cfg.
func (cfg Config) Client() (*minio.Client, error) {
	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Region: cfg.Region,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client for %q: %w", cfg.Endpoint, err)
	}
	return client, nil
}

// ParseURL splits an s3://bucket/prefix location.
func ParseURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an s3://bucket/prefix location", raw)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// IsURL reports whether location names a bucket rather than a directory.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

// Bucket is an archive.Storage holding one archive under a key prefix.
type Bucket struct {
	client *minio.Client
	bucket string
	prefix string
}

func New(client *minio.Client, bucket, prefix string) *Bucket {
	return &Bucket{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (b *Bucket) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

// Create starts a streaming upload. The object appears only once the
// returned writer is closed without error.
func (b *Bucket) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	key := b.key(name)
	pr, pw := io.Pipe()
	u := &upload{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := b.client.PutObject(ctx, b.bucket, key, pr, -1, minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			PartSize:    partSize,
		})
		if err != nil {
			err = fmt.Errorf("uploading s3://%s/%s: %w", b.bucket, key, err)
		}
		pr.CloseWithError(err)
		u.done <- err
	}()
	return u, nil
}

func (b *Bucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := b.key(name)
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("opening s3://%s/%s: %w", b.bucket, key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("opening s3://%s/%s: %w", b.bucket, key, err)
	}
	return obj, nil
}

func (b *Bucket) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if b.prefix != "" {
		prefix = b.prefix + "/"
	}

	var names []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", b.bucket, prefix, obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Remove deletes the object for name. S3 treats a missing key as success.
func (b *Bucket) Remove(ctx context.Context, name string) error {
	key := b.key(name)
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

var errAborted = errors.New("upload aborted")

type upload struct {
	pw   *io.PipeWriter
	done chan error
	err  error
	once bool
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

func (u *upload) wait() error {
	if !u.once {
		u.once = true
		u.err = <-u.done
	}
	return u.err
}

// Close finishes the upload and reports whether it succeeded.
func (u *upload) Close() error {
	u.pw.Close()
	return u.wait()
}

// CloseWithError abandons the upload.
func (u *upload) CloseWithError(cause error) error {
	if cause == nil {
		cause = errAborted
	}
	u.pw.CloseWithError(cause)
	// PutObject fails with cause; nothing was committed
	_ = u.wait()
	return nil
}

var (
	_ archive.Storage = (*Bucket)(nil)
	_ archive.Aborter = (*upload)(nil)
)
