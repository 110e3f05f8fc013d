package gcs

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"

	"github.com/angelmondragon/tenant-billing/pkg/config"
)

type fakeBucket struct {
	objects map[string]*fakeObject
	attrErr error
	signed  []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]*fakeObject{}}
}

func (b *fakeBucket) Attrs(context.Context) (*storage.BucketAttrs, error) {
	if b.attrErr != nil {
		return nil, b.attrErr
	}
	return &storage.BucketAttrs{Name: "bucket"}, nil
}

func (b *fakeBucket) Object(name string) objectHandle {
	obj, ok := b.objects[name]
	if !ok {
		obj = &fakeObject{}
		b.objects[name] = obj
	}
	return obj
}

func (b *fakeBucket) SignedURL(object string, _ *storage.SignedURLOptions) (string, error) {
	b.signed = append(b.signed, object)
	return "https://storage.googleapis.com/bucket/" + object + "?X-Goog-Signature=fake", nil
}

type fakeObject struct {
	buf         bytes.Buffer
	contentType string
	closed      bool
	deleted     bool
}

func (o *fakeObject) NewWriter(_ context.Context, contentType string) io.WriteCloser {
	o.contentType = contentType
	return o
}

func (o *fakeObject) Write(p []byte) (int, error) { return o.buf.Write(p) }

func (o *fakeObject) Close() error {
	o.closed = true
	return nil
}

func (o *fakeObject) Delete(context.Context) error {
	o.deleted = true
	return nil
}

func TestUploadWritesObject(t *testing.T) {
	bucket := newFakeBucket()
	client := newClient(bucket, config.GCSConfig{BucketName: "bucket", MaxProofMB: 1})

	n, err := client.Upload(context.Background(), "/proofs/t1/p1/receipt.pdf", "application/pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if n != int64(len("pdf-bytes")) {
		t.Fatalf("unexpected size %d", n)
	}
	obj := bucket.objects["proofs/t1/p1/receipt.pdf"]
	if obj == nil || obj.buf.String() != "pdf-bytes" || !obj.closed {
		t.Fatalf("object not written: %+v", obj)
	}
	if obj.contentType != "application/pdf" {
		t.Fatalf("unexpected content type %q", obj.contentType)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	bucket := newFakeBucket()
	client := newClient(bucket, config.GCSConfig{BucketName: "bucket", MaxProofMB: 1})

	body := bytes.Repeat([]byte("x"), (1<<20)+10)
	if _, err := client.Upload(context.Background(), "big.bin", "", bytes.NewReader(body)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestUploadRequiresObjectName(t *testing.T) {
	client := newClient(newFakeBucket(), config.GCSConfig{BucketName: "bucket"})
	if _, err := client.Upload(context.Background(), "  ", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty object name")
	}
}

func TestPingSurfacesBucketErrors(t *testing.T) {
	bucket := newFakeBucket()
	bucket.attrErr = storage.ErrBucketNotExist
	client := newClient(bucket, config.GCSConfig{BucketName: "bucket"})
	if err := client.Ping(context.Background()); !errors.Is(err, storage.ErrBucketNotExist) {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestSignedURLDelegatesToBucket(t *testing.T) {
	bucket := newFakeBucket()
	client := newClient(bucket, config.GCSConfig{BucketName: "bucket"})
	u, err := client.SignedURL("proofs/a.png")
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	if !strings.Contains(u, "proofs/a.png") || len(bucket.signed) != 1 {
		t.Fatalf("unexpected signed url %q", u)
	}
}

func TestSignedURLWithServiceAccount(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	client := newClient(newFakeBucket(), config.GCSConfig{BucketName: "bucket", ProofURLExpiry: 5 * time.Minute})
	client.signer = &signer{email: "signer@example.com", privateKey: pemKey}

	raw, err := client.SignedURL("proofs/t1/receipt.pdf")
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.EqualFold(parsed.Host, "storage.googleapis.com") {
		t.Fatalf("unexpected host %s", parsed.Host)
	}
	q := parsed.Query()
	if q.Get("X-Goog-Signature") == "" {
		t.Fatal("signature missing")
	}
	if q.Get("X-Goog-Expires") == "" {
		t.Fatal("expiry missing")
	}
	if !strings.HasPrefix(q.Get("X-Goog-Credential"), "signer@example.com/") {
		t.Fatalf("unexpected credential %q", q.Get("X-Goog-Credential"))
	}
}

func TestParseServiceAccount(t *testing.T) {
	if _, err := parseServiceAccount([]byte(`{"client_email":""}`)); err == nil {
		t.Fatal("expected error for incomplete credentials")
	}
	s, err := parseServiceAccount([]byte(`{"client_email":"a@b.c","private_key":"-----BEGIN-----"}`))
	if err != nil || s.email != "a@b.c" {
		t.Fatalf("unexpected parse result %+v %v", s, err)
	}
}
