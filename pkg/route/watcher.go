package route

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Classifier serves classifications from a table that can be swapped
// while requests are in flight.
type Classifier struct {
	table atomic.Pointer[Table]
}

// NewClassifier creates a classifier; a nil table means DefaultTable
func NewClassifier(t *Table) *Classifier {
	if t == nil {
		t = DefaultTable()
	}
	c := &Classifier{}
	c.table.Store(t)
	return c
}

// Table returns the table currently in use
func (c *Classifier) Table() *Table {
	return c.table.Load()
}

// Classify classifies path against the current table
func (c *Classifier) Classify(path string) Route {
	return c.table.Load().Classify(path)
}

// Swap replaces the current table
func (c *Classifier) Swap(t *Table) {
	c.table.Store(t)
}

// Watcher reloads a route table file into a Classifier whenever the file
// changes. A file that fails to parse leaves the previous table in place.
type Watcher struct {
	path       string
	classifier *Classifier
	watcher    *fsnotify.Watcher
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewWatcher watches the directory holding path, so editors that replace
// the file by rename are still seen.
func NewWatcher(path string, classifier *Classifier, logger *observability.Logger, metrics *observability.Metrics) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve route table path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:       abs,
		classifier: classifier,
		watcher:    fw,
		logger:     logger.WithField("routes_file", abs),
		metrics:    metrics,
	}, nil
}

// Reload reads the file and swaps it in
func (w *Watcher) Reload() error {
	t, err := LoadTable(w.path)
	w.metrics.ObserveRouteReload(err)
	if err != nil {
		w.logger.WithError(err).Error("Route table reload failed, keeping previous table")
		return err
	}

	w.classifier.Swap(t)
	w.logger.Info("Route table reloaded")
	return nil
}

// Run processes file events until ctx is done or the watcher is closed
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				_ = w.Reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Route table watcher error")
		}
	}
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
