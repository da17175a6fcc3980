// Package s3test runs a single in-memory bucket behind an HTTPS test server so
// the s3 backend can be exercised end to end without AWS or MinIO.
package s3test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"labcore/internal/infra/blob/s3"
)

// BucketName is the bucket NewStore points at.
const BucketName = "evidence"

type object struct {
	body        []byte
	contentType string
	etag        string
	modified    time.Time
}

// Bucket serves path-style HEAD, GET and PUT requests for BucketName.
type Bucket struct {
	mu      sync.Mutex
	objects map[string]object
}

// NewBucket returns an empty bucket.
func NewBucket() *Bucket {
	return &Bucket{objects: make(map[string]object)}
}

// Len reports how many objects are stored.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// NewStore starts an HTTPS server for a fresh bucket and returns an s3 store
// wired to it. The server stops when t finishes.
func NewStore(t testing.TB) (*s3.Store, *Bucket) {
	t.Helper()
	bucket := NewBucket()
	srv := httptest.NewTLSServer(bucket)
	t.Cleanup(srv.Close)
	st, err := s3.New(context.Background(), s3.Config{
		Region:          "us-east-1",
		Bucket:          BucketName,
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		HTTPClient:      srv.Client(),
	})
	if err != nil {
		t.Fatalf("s3 store: %v", err)
	}
	return st, bucket
}

func (b *Bucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if name != BucketName || key == "" {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	switch r.Method {
	case http.MethodPut:
		b.put(w, r, key)
	case http.MethodGet, http.MethodHead:
		b.mu.Lock()
		obj, ok := b.objects[key]
		b.mu.Unlock()
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("ETag", `"`+obj.etag+`"`)
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		if obj.contentType != "" {
			h.Set("Content-Type", obj.contentType)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.body)
		}
	default:
		writeError(w, http.StatusNotImplemented, "NotImplemented")
	}
}

func (b *Bucket) put(w http.ResponseWriter, r *http.Request, key string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "IncompleteBody")
		return
	}
	if strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		if body, err = decodeChunked(body); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidRequest")
			return
		}
	}
	sum := md5.Sum(body)
	obj := object{
		body:        body,
		contentType: r.Header.Get("Content-Type"),
		etag:        hex.EncodeToString(sum[:]),
		modified:    time.Now().UTC().Truncate(time.Second),
	}
	b.mu.Lock()
	b.objects[key] = obj
	b.mu.Unlock()
	w.Header().Set("ETag", `"`+obj.etag+`"`)
	w.WriteHeader(http.StatusOK)
}

// decodeChunked strips aws-chunked framing: hex size lines (optionally with
// a chunk signature) followed by data, ending at a zero-size chunk whose
// trailers are ignored.
func decodeChunked(raw []byte) ([]byte, error) {
	rd := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, rd, size); err != nil {
			return nil, fmt.Errorf("chunk data: %w", err)
		}
		if _, err := rd.Discard(2); err != nil {
			return nil, fmt.Errorf("chunk terminator: %w", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
}
