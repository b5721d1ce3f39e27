// Package watch reports changes to definition files under a directory tree.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sqlwatch/sqlwatch/internal/debounce"
	"github.com/sqlwatch/sqlwatch/internal/project"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file moved from OldPath to Path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// FileEvent represents a change to one definition file.
type FileEvent struct {
	// Path is the absolute path to the file that changed.
	Path string
	// OldPath is set for renames.
	OldPath string
	Op      EventOp
}

// Change converts the event into a debounce notification.
func (e FileEvent) Change() debounce.Change {
	return debounce.Change{OldPath: e.OldPath, Path: e.Path}
}

// DefaultRenameWindow is how long a rename source waits for its target
// before it is reported as a delete.
const DefaultRenameWindow = 50 * time.Millisecond

// FileWatcher watches a directory tree for changes to files with one
// extension. It uses fsnotify and adds new subdirectories as they appear.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	root    string
	ext     string

	// RenameWindow pairs a rename with the create that follows it.
	RenameWindow time.Duration

	logger    logrus.FieldLogger
	sometimes rate.Sometimes
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher(logger logrus.FieldLogger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &FileWatcher{
		watcher:      watcher,
		events:       make(chan FileEvent, 100),
		errors:       make(chan error, 10),
		done:         make(chan struct{}),
		RenameWindow: DefaultRenameWindow,
		logger:       logger,
		sometimes:    rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}, nil
}

// Start begins watching root and every directory below it for files with
// the extension ext (".sql" when empty). Hidden directories are skipped.
func (fw *FileWatcher) Start(root, ext string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fw.root = abs
	fw.ext = ext

	if _, err := fw.addTree(abs); err != nil {
		return err
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Wait for event processing to finish
	fw.wg.Wait()

	// Close channels
	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

// Root returns the watched directory.
func (fw *FileWatcher) Root() string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.root
}

// processEvents is the main event loop. It owns the rename source waiting
// for its target.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	var renamed string
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	flushRename := func() bool {
		if renamed == "" {
			return true
		}
		old := renamed
		renamed = ""
		timer.Stop()
		return fw.emit(FileEvent{Path: old, Op: OpDelete})
	}

	for {
		select {
		case <-fw.done:
			return

		case <-timer.C:
			if !flushRename() {
				return
			}

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) && isDir(event.Name) {
				if !fw.watchNewDir(event.Name) {
					return
				}
				continue
			}
			if !fw.matches(event.Name) {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				if renamed != "" {
					old := renamed
					renamed = ""
					timer.Stop()
					if !fw.emit(FileEvent{Path: event.Name, OldPath: old, Op: OpRename}) {
						return
					}
					continue
				}
				if !fw.emit(FileEvent{Path: event.Name, Op: OpCreate}) {
					return
				}
			case event.Has(fsnotify.Rename):
				if !flushRename() {
					return
				}
				renamed = event.Name
				timer.Reset(fw.RenameWindow)
			case event.Has(fsnotify.Remove):
				if !fw.emit(FileEvent{Path: event.Name, Op: OpDelete}) {
					return
				}
			case event.Has(fsnotify.Write):
				if !fw.emit(FileEvent{Path: event.Name, Op: OpModify}) {
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.sometimes.Do(func() {
				fw.logger.WithError(err).Warn("file watcher error")
			})
			select {
			case fw.errors <- err:
			default:
			}
		}
	}
}

func (fw *FileWatcher) emit(e FileEvent) bool {
	select {
	case fw.events <- e:
		return true
	case <-fw.done:
		return false
	}
}

// watchNewDir starts watching a directory that appeared after Start and
// reports the files already inside it, which no event was seen for.
func (fw *FileWatcher) watchNewDir(dir string) bool {
	files, err := fw.addTree(dir)
	if err != nil {
		fw.logger.WithError(err).WithField("path", dir).Warn("failed to watch new directory")
		return true
	}
	for _, f := range files {
		if !fw.emit(FileEvent{Path: f, Op: OpCreate}) {
			return false
		}
	}
	return true
}

// addTree adds dir and its subdirectories to the watch list and returns the
// matching files found on the way.
func (fw *FileWatcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if fw.matches(path) {
				files = append(files, path)
			}
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
	return files, err
}

func (fw *FileWatcher) matches(path string) bool {
	return project.Matches(path, fw.ext)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
