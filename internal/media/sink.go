// Package media stores step evidence in a blob store and hands back the URL
// that is recorded on the step.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"labcore/internal/blob"
	"labcore/internal/logging"
	"labcore/pkg/domain"
)

// DefaultURLPrefix is used for backends that cannot presign or publish URLs.
const DefaultURLPrefix = "/media/"

// Sink implements domain.MediaSink over a blob.Store.
type Sink struct {
	store     blob.Store
	expiry    time.Duration
	urlPrefix string
	newID     func() string
	logger    logging.Logger
}

// Option customises a Sink.
type Option func(*Sink)

// WithExpiry sets the lifetime of presigned URLs.
func WithExpiry(d time.Duration) Option {
	return func(s *Sink) { s.expiry = d }
}

// WithURLPrefix sets the prefix used for service-relative URLs.
func WithURLPrefix(prefix string) Option {
	return func(s *Sink) { s.urlPrefix = prefix }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Sink) { s.logger = logging.OrNoop(l) }
}

// WithIDFunc replaces the random object name generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Sink) { s.newID = fn }
}

// NewSink wraps store.
func NewSink(store blob.Store, opts ...Option) *Sink {
	s := &Sink{
		store:     store,
		urlPrefix: DefaultURLPrefix,
		newID:     uuid.NewString,
		logger:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.MediaSink = (*Sink)(nil)

// Upload writes r under a fresh object name inside dir. dir is usually built
// with StepPath; callers never choose the final key so uploads cannot collide.
func (s *Sink) Upload(ctx context.Context, r io.Reader, dir, contentType string) (domain.MediaRef, error) {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "" {
		return domain.MediaRef{}, &domain.ValidationError{Field: "path", Reason: "media path is empty"}
	}
	key := dir + "/" + s.newID() + extensionFor(contentType)
	info, err := s.store.Put(ctx, key, r, blob.PutOptions{ContentType: contentType})
	if err != nil {
		return domain.MediaRef{}, domain.Transient("upload media", fmt.Errorf("put %s: %w", key, err))
	}
	url, err := s.store.PresignURL(ctx, key, blob.SignedURLOptions{Expiry: s.expiry})
	switch {
	case err == nil:
	case errors.Is(err, blob.ErrUnsupported):
		url = info.URL
		if url == "" {
			url = s.urlPrefix + key
		}
	default:
		return domain.MediaRef{}, domain.Transient("presign media", err)
	}
	s.logger.Debug("media uploaded", "key", key, "driver", string(s.store.Driver()), "bytes", info.Size)
	return domain.MediaRef{URL: url, Key: key}, nil
}

// Open streams a previously uploaded object back.
func (s *Sink) Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	info, rc, err := s.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotExist) {
		return blob.Info{}, nil, domain.ErrNotFound{Entity: domain.EntityMedia, ID: key}
	}
	return info, rc, err
}

// StepPath is the directory holding evidence for one step of one run.
func StepPath(labID, executionID, stepID string) string {
	return path.Join("labs", safeSegment(labID), "executions", safeSegment(executionID), "steps", safeSegment(stepID))
}

// InLab reports whether key lies under the evidence tree of labID. Keys that
// climb out of their directory never match.
func InLab(labID, key string) bool {
	if strings.TrimSpace(labID) == "" || strings.Contains(key, "..") {
		return false
	}
	prefix := path.Join("labs", safeSegment(labID)) + "/"
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func extensionFor(contentType string) string {
	if contentType == "" {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
