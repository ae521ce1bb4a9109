package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Store persists the session blob. Load returns (nil, nil) when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*ScanSession, error)
	Save(ctx context.Context, s *ScanSession) error
	Clear(ctx context.Context) error
}

// FileStore keeps the blob as <dir>/<StorageKey>.json. Writes go through a temp
// file and rename; a sibling lock file serializes processes sharing the directory.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.New("session state dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		path:   filepath.Join(dir, StorageKey+".json"),
		lock:   flock.New(filepath.Join(dir, StorageKey+".lock")),
		logger: logger,
	}, nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(ctx context.Context) (*ScanSession, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s ScanSession
	if err := json.Unmarshal(data, &s); err != nil {
		// a torn or foreign blob is treated as no session
		f.logger.Warn("session.load.corrupt", "path", f.path, "error", err)
		return nil, nil
	}
	return &s, nil
}

func (f *FileStore) Save(ctx context.Context, s *ScanSession) error {
	if s == nil {
		return errors.New("nil session")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()

	tmp, err := os.CreateTemp(f.dir, StorageKey+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close session: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace session: %w", err)
	}
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// acquire takes the in-process mutex first; a flock.Flock is not a goroutine lock.
func (f *FileStore) acquire(ctx context.Context) error {
	f.mu.Lock()
	ok, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		f.mu.Unlock()
		return fmt.Errorf("lock session: %w", err)
	}
	if !ok {
		f.mu.Unlock()
		return errors.New("lock session: not acquired")
	}
	return nil
}

func (f *FileStore) release() {
	if err := f.lock.Unlock(); err != nil {
		f.logger.Warn("session.unlock_failed", "error", err)
	}
	f.mu.Unlock()
}
