// Package media is the persisted output sink recordings are written to.
//
// The recording core only asks for an output by display name and mime type;
// where the bytes land (and under which relative path) belongs here.
package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MimeMP4 is the only container recordings are requested in.
	MimeMP4 = "video/mp4"

	// RelativePath is where recordings land beneath the store root.
	RelativePath = "DCIM/HDR-Recorder"

	// NameLayout formats recording display names (yyyy-MM-dd-HH-mm-ss).
	NameLayout = "2006-01-02-15-04-05"
)

// OutputName returns the display name for a recording started at t.
func OutputName(t time.Time) string {
	return t.Format(NameLayout) + ".mp4"
}

// Target is one opened output. The writer is owned by whoever starts the
// hardware recording against it and must be closed exactly once.
type Target struct {
	ID       string
	Name     string
	MimeType string
	URI      string

	io.WriteCloser
}

// Sink opens outputs.
type Sink interface {
	BeginOutput(name, mimeType string) (*Target, error)
}

// DirStore is a Sink backed by a local directory. Names that already exist
// get a numeric suffix instead of being overwritten.
type DirStore struct {
	log  *zap.Logger
	root string

	mu sync.Mutex // serializes name allocation
}

// NewDirStore prepares root/RelativePath and returns a store writing into it.
func NewDirStore(log *zap.Logger, root string) (*DirStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Join(root, filepath.FromSlash(RelativePath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &DirStore{log: log.Named("media"), root: dir}, nil
}

// BeginOutput creates a new file for name and returns it as a Target.
func (s *DirStore) BeginOutput(name, mimeType string) (*Target, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid output name %q", name)
	}
	if mimeType != MimeMP4 {
		return nil, fmt.Errorf("unsupported mime type %q", mimeType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(s.root, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			path := filepath.Join(s.root, candidate)
			s.log.Info("output opened", zap.String("path", path))
			return &Target{
				ID:          uuid.NewString(),
				Name:        candidate,
				MimeType:    mimeType,
				URI:         "file://" + filepath.ToSlash(path),
				WriteCloser: f,
			}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("open output: %w", err)
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
}
