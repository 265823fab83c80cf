package flockconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flock-run/flock/pkg/flocklog"
)

// FileSource loads config from a local file and watches it for changes via
// fsnotify. It watches the containing directory, not the file itself,
// since some filesystems don't support watching a single file across
// editor rewrites.
type FileSource struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

func NewFileSource(path string) *FileSource {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &FileSource{path: abs}
}

func (s *FileSource) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", s.path, err)
	}
	return data, nil
}

func (s *FileSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("config source is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	s.watcher = watcher

	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go s.watchLoop(ctx, watcher, file, ch)
	flocklog.GetLogger().Info("flockconfig: watching config file", "path", s.path)
	return ch, nil
}

func (s *FileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, file string, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					select {
					case ch <- struct{}{}:
					default:
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			flocklog.GetLogger().Warn("flockconfig: file watcher error", "error", err)
		}
	}
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

var _ Source = (*FileSource)(nil)
