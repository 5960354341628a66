package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/errors"
)

// FileStore keeps the checkpoint document in a local JSON file.
// Writes go to a temporary file in the same directory which is synced and
// renamed over the document, so readers see either the old or the new value.
type FileStore struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates a store for the document at path. The file and its
// directory are created on the first Save.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		logger: logger.With(zap.String("component", "checkpoint"), zap.String("path", path)),
	}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns the stored watermark.
func (s *FileStore) Load(ctx context.Context) (time.Time, bool, error) {
	var (
		watermark time.Time
		found     bool
	)
	err := s.view(ctx, func(doc Document) error {
		var err error
		watermark, found, err = doc.Watermark()
		return err
	})
	return watermark, found, err
}

// Save persists the watermark.
func (s *FileStore) Save(ctx context.Context, watermark time.Time) error {
	err := s.update(ctx, func(doc Document) error {
		return doc.SetWatermark(watermark)
	})
	if err == nil {
		s.logger.Debug("checkpoint saved", zap.Time("watermark", watermark))
	}
	return err
}

// Clear removes the watermark, keeping other keys.
func (s *FileStore) Clear(ctx context.Context) error {
	return s.update(ctx, func(doc Document) error {
		doc.ClearWatermark()
		return nil
	})
}

// Close is a no-op; the file is never held open between calls.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) view(ctx context.Context, fn func(Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *FileStore) update(ctx context.Context, fn func(Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}

func (s *FileStore) read() (Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Document{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to read checkpoint").
			WithDetail("path", s.path)
	}
	return ParseDocument(data)
}

func (s *FileStore) write(doc Document) (err error) {
	data, err := doc.Marshal()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to encode checkpoint")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to create checkpoint directory").
			WithDetail("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to create temporary checkpoint")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to write checkpoint")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to sync checkpoint")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to close checkpoint")
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCheckpoint, "failed to replace checkpoint")
	}

	// Best effort: persist the rename itself.
	if d, dirErr := os.Open(dir); dirErr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
