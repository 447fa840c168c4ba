package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const dirDebounce = 100 * time.Millisecond

// DirBackend legt jeden Schlüssel als Datei in einem Verzeichnis ab, das sich mehrere Prozesse
// teilen. Schreibzugriffe sind atomar (temporäre Datei + Rename).
type DirBackend struct {
	dir    string
	logger *zap.Logger
}

// NewDirBackend legt das Verzeichnis bei Bedarf an.
func NewDirBackend(dir string, logger *zap.Logger) (*DirBackend, error) {
	if dir == "" {
		return nil, errors.New("shared directory is required")
	}
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirBackend{dir: dir, logger: logger}, nil
}

func (d *DirBackend) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key))
}

// mapErr meldet fehlende Berechtigungen als ErrUnavailable.
func mapErr(op, key string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s %s: %w: %v", op, key, ErrUnavailable, err)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func (d *DirBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapErr("read", key, err)
	}
	return data, true, nil
}

func (d *DirBackend) Set(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(d.dir, ".tmp-")
	if err != nil {
		return mapErr("create", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return mapErr("write", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return mapErr("write", key, err)
	}
	if err := os.Rename(tmpName, d.path(key)); err != nil {
		os.Remove(tmpName)
		return mapErr("rename", key, err)
	}
	return nil
}

func (d *DirBackend) Remove(_ context.Context, key string) error {
	err := os.Remove(d.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mapErr("remove", key, err)
	}
	return nil
}

func (d *DirBackend) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, mapErr("list", d.dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if key, ok := keyFromName(e.Name()); ok && !e.IsDir() {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func keyFromName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	key, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return key, true
}

// Watch beobachtet das Verzeichnis und meldet geänderte Schlüssel gebündelt nach einem kurzen
// Debounce-Fenster. Kehrt nach dem Setup zurück; die Beobachtung endet mit ctx.
func (d *DirBackend) Watch(ctx context.Context, handler func(keys []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", d.dir, err)
	}

	go func() {
		defer watcher.Close()

		pending := make(map[string]struct{})
		var timer *time.Timer
		var fire <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				key, ok := keyFromName(filepath.Base(event.Name))
				if !ok {
					continue
				}
				pending[key] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(dirDebounce)
				} else {
					timer.Reset(dirDebounce)
				}
				fire = timer.C

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("shared directory watcher error", zap.Error(err))

			case <-fire:
				fire = nil
				keys := make([]string, 0, len(pending))
				for k := range pending {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				pending = make(map[string]struct{})
				handler(keys)
			}
		}
	}()
	return nil
}
