// Package watcher feeds newly created report files of one directory to a
// handler, one file at a time.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// State of the processing loop
type State int32

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	if s == Processing {
		return "processing"
	}
	return "idle"
}

// Handler processes one report file
type Handler func(ctx context.Context, path string) error

// queueSize bounds the files waiting while one is processed
const queueSize = 64

// Watcher observes a single directory, non-recursively
type Watcher struct {
	dir     string
	exts    map[string]bool
	handler Handler
	queue   chan string
	ready   chan struct{}
	settle  time.Duration
	state   atomic.Int32
	log     *logrus.Entry
}

// New creates a watcher for dir that passes files with one of exts to h.
// Extensions are matched case-insensitively, with or without a leading dot.
func New(dir string, exts []string, h Handler) *Watcher {
	w := &Watcher{
		dir:     dir,
		exts:    make(map[string]bool, len(exts)),
		handler: h,
		queue:   make(chan string, queueSize),
		ready:   make(chan struct{}),
		log:     logrus.WithField("component", "watcher"),
	}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		w.exts[ext] = true
	}
	return w
}

// WithSettleDelay waits d before handing a created file to the handler, giving
// the scanner time to finish writing it
func (w *Watcher) WithSettleDelay(d time.Duration) *Watcher {
	w.settle = d
	return w
}

// Ready is closed once the directory is being watched
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// State reports whether a file is being processed
func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Accepts reports whether path has a recognised report extension
func (w *Watcher) Accepts(path string) bool {
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// Enqueue schedules path for processing. It blocks while the queue is full.
func (w *Watcher) Enqueue(ctx context.Context, path string) error {
	select {
	case w.queue <- path:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run watches the directory until ctx is done. Handler errors are logged and
// never stop the loop. Run may be called once per Watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.consume(ctx)
	}()
	defer func() { <-done }()

	close(w.ready)
	w.log.WithField("dir", w.dir).Info("Watching for new reports")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !w.Accepts(event.Name) {
				continue
			}
			w.log.WithField("file", event.Name).Debug("New report detected")
			if err := w.Enqueue(ctx, event.Name); err != nil {
				return nil
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("File watcher error")
		}
	}
}

// consume is the single processing goroutine
func (w *Watcher) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	w.state.Store(int32(Processing))
	defer w.state.Store(int32(Idle))

	log := w.log.WithField("file", path)
	if w.settle > 0 {
		select {
		case <-time.After(w.settle):
		case <-ctx.Done():
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Report handler panicked: %v", r)
		}
	}()

	if err := w.handler(ctx, path); err != nil {
		log.WithError(err).Error("Failed to process report")
		return
	}
	log.Info("Report processed")
}
