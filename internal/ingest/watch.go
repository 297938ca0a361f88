package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bvergne/docrag/internal/extract"
)

// watchQueueSize bounds the reprocessing backlog. Events beyond it are
// dropped; the file will be caught by the next full pass.
const watchQueueSize = 256

// Watch runs one full corpus pass, then reprocesses documents as the
// filesystem reports creations and modifications. Events are debounced per
// path and consumed by a single worker, so watch mode reuses the exact
// per-file routine of the batch path. Blocks until ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context, folder string) error {
	if _, err := p.ProcessAll(ctx, folder); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, folder); err != nil {
		return err
	}
	p.log.Info("watching for document changes", "folder", folder)

	tasks := make(chan string, watchQueueSize)
	go p.consume(ctx, tasks)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				// New subdirectory: watch it too.
				if err := watchTree(watcher, event.Name); err != nil {
					p.log.Warn("watching new directory failed", "path", event.Name, "error", err)
				}
				continue
			}
			if !extract.IsSupported(event.Name) {
				continue
			}
			p.enqueue(tasks, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("filesystem watcher error", "error", err)
		}
	}
}

// watchTree registers folder and all its subdirectories with the watcher.
func watchTree(watcher *fsnotify.Watcher, folder string) error {
	return filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}

// enqueue schedules path for reprocessing after the debounce interval,
// resetting the clock if the file is written again in the meantime.
func (p *Pipeline) enqueue(tasks chan<- string, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[path]; ok {
		timer.Stop()
	}
	p.timers[path] = time.AfterFunc(p.opts.Debounce, func() {
		p.mu.Lock()
		delete(p.timers, path)
		p.mu.Unlock()

		select {
		case tasks <- path:
		default:
			p.log.Warn("watch queue full, dropping event", "path", path)
		}
	})
}

// consume is the single ingestion worker behind watch mode.
func (p *Pipeline) consume(ctx context.Context, tasks <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-tasks:
			if _, err := os.Stat(path); err != nil {
				continue // deleted between event and processing
			}
			if _, _, err := p.ProcessFile(ctx, path); err != nil {
				p.log.Warn("reprocessing document failed", "path", path, "error", err)
			}
		}
	}
}
