package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/angelmondragon/tenant-billing/pkg/config"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const pingTimeout = 5 * time.Second

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("gcs object exceeds size limit")

type bucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Object(name string) objectHandle
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

type objectHandle interface {
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
	Delete(ctx context.Context) error
}

type realBucket struct{ bh *storage.BucketHandle }

func (r realBucket) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	return r.bh.Attrs(ctx)
}

func (r realBucket) Object(name string) objectHandle {
	return realObject{r.bh.Object(name)}
}

func (r realBucket) SignedURL(object string, opts *storage.SignedURLOptions) (string, error) {
	return r.bh.SignedURL(object, opts)
}

type realObject struct{ oh *storage.ObjectHandle }

func (r realObject) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	w := r.oh.NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (r realObject) Delete(ctx context.Context) error {
	return r.oh.Delete(ctx)
}

// signer carries service-account material for V4 signing when the
// credentials were supplied explicitly.
type signer struct {
	email      string
	privateKey []byte
}

// Client stores payment proof documents and hands out short-lived read URLs.
type Client struct {
	client    *storage.Client
	bucket    bucketHandle
	name      string
	maxBytes  int64
	urlExpiry time.Duration
	signer    *signer
}

// NewClient builds a GCS client for the configured bucket and verifies access.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	var (
		opts     []option.ClientOption
		credJSON []byte
	)
	switch {
	case gcp.CredentialsJSON != "":
		credJSON = []byte(gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		credJSON = raw
	}
	var sign *signer
	if len(credJSON) > 0 {
		opts = append(opts, option.WithAuthCredentialsJSON(option.ServiceAccount, credJSON))
		parsed, err := parseServiceAccount(credJSON)
		if err != nil {
			return nil, err
		}
		sign = parsed
	}
	if gcp.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(gcp.ProjectID))
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	c := newClient(realBucket{sc.Bucket(cfg.BucketName)}, cfg)
	c.client = sc
	c.signer = sign

	if err := c.Ping(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return c, nil
}

func newClient(bucket bucketHandle, cfg config.GCSConfig) *Client {
	maxBytes := int64(cfg.MaxProofMB) << 20
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	expiry := cfg.ProofURLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Client{
		bucket:    bucket,
		name:      cfg.BucketName,
		maxBytes:  maxBytes,
		urlExpiry: expiry,
	}
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Ping checks that the bucket is reachable with the current credentials.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bucket == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.bucket.Attrs(ctx); err != nil {
		return err
	}
	return nil
}

// Upload streams r into object, refusing bodies above the size limit.
func (c *Client) Upload(ctx context.Context, object, contentType string, r io.Reader) (int64, error) {
	if c == nil || c.bucket == nil {
		return 0, errors.New("gcs client not initialized")
	}
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return 0, errors.New("object name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := c.bucket.Object(object).NewWriter(ctx, contentType)
	written, err := io.Copy(w, io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		cancel()
		_ = w.Close()
		return 0, fmt.Errorf("write object %q: %w", object, err)
	}
	if written > c.maxBytes {
		// cancelling before Close aborts the upload
		cancel()
		_ = w.Close()
		return 0, ErrTooLarge
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close writer for %q: %w", object, err)
	}
	return written, nil
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, object string) error {
	if c == nil || c.bucket == nil {
		return errors.New("gcs client not initialized")
	}
	if err := c.bucket.Object(object).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %q: %w", object, err)
	}
	return nil
}

// SignedURL returns a V4 GET URL for object valid for the configured expiry.
func (c *Client) SignedURL(object string) (string, error) {
	if c == nil || c.bucket == nil {
		return "", errors.New("gcs client not initialized")
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(c.urlExpiry),
	}
	if c.signer != nil {
		opts.GoogleAccessID = c.signer.email
		opts.PrivateKey = c.signer.privateKey
		return storage.SignedURL(c.name, object, opts)
	}
	return c.bucket.SignedURL(object, opts)
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func parseServiceAccount(raw []byte) (*signer, error) {
	var creds struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, errors.New("invalid service account credentials")
	}
	return &signer{email: creds.ClientEmail, privateKey: []byte(creds.PrivateKey)}, nil
}
