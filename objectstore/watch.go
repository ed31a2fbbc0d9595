package objectstore

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/refinio/one-core/onerr"
)

// Watch reports the names (content hashes) of files created or written in
// objects/, whether by this Store or by another process (e.g. a sync
// agent); cmd/onestored's S3 mirror loop consumes it. Generalizes the
// teacher's use of fsnotify for schema/config hot-reload to "new object
// file appeared".
type Watch struct {
	watcher *fsnotify.Watcher
	events  chan string
	errs    chan error
	done    chan struct{}
}

// WatchObjects starts watching the store's objects/ tree (and its shard
// subdirectories, if any were pre-created) for newly created files.
func (s *Store) WatchObjects() (*Watch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeFatalStorage, "create fsnotify watcher", err)
	}

	objectsDir := filepath.Join(s.root, dirObjects)
	dirs := []string{objectsDir}
	if s.nHashCharsForSubDirs > 0 {
		shardDirs, err := listDirNamesFull(objectsDir)
		if err != nil {
			w.Close()
			return nil, err
		}
		dirs = append(dirs, shardDirs...)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return nil, onerr.Wrap(onerr.CodeFatalStorage, "watch "+d, err)
		}
	}

	watch := &Watch{
		watcher: w,
		events:  make(chan string, 64),
		errs:    make(chan error, 8),
		done:    make(chan struct{}),
	}
	go watch.run()
	return watch, nil
}

func (w *Watch) run() {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				select {
				case w.events <- filepath.Base(ev.Name):
				default:
					// drop on a full channel rather than block the fsnotify loop
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

// Events yields the base name (content hash) of each newly observed file.
func (w *Watch) Events() <-chan string { return w.events }

// Errors yields watcher-internal errors (not object-level failures).
func (w *Watch) Errors() <-chan error { return w.errs }

// Close stops the watch.
func (w *Watch) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func listDirNamesFull(dir string) ([]string, error) {
	names, err := listDirNamesIncludingDirs(dir)
	if err != nil {
		return nil, err
	}
	full := make([]string, len(names))
	for i, n := range names {
		full[i] = filepath.Join(dir, n)
	}
	return full, nil
}
