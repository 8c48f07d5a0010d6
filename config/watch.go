package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/a2535171138/rpcgo/logging"
	"github.com/a2535171138/rpcgo/metrics"
)

// Watcher pushes a reloaded Descriptor's log level and metrics address
// into already-running components through their existing Sink/
// Collectors interfaces — never by touching an EventLoop in-flight,
// per SPEC_FULL.md §4.11.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *logging.AsyncLogger
}

// Watch starts watching path for writes and reloads the Descriptor on
// each one, applying the new log level to log via SetLevel. collect is
// accepted for symmetry with the other push targets SPEC_FULL.md §4.11
// names (a metrics address change takes effect on the next
// cmd/rpc-server restart of its HTTP listener, which owns collect) but
// is not itself mutated here.
func Watch(path string, log *logging.AsyncLogger, collect *metrics.Collectors, onReload func(*Descriptor)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{fsw: fsw, log: log}
	go w.loop(path, onReload)
	return w, nil
}

func (w *Watcher) loop(path string, onReload func(*Descriptor)) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			d, err := Load(path)
			if err != nil {
				if w.log != nil {
					w.log.Errorf("config: reload %s failed: %v", path, err)
				}
				continue
			}
			if w.log != nil {
				w.log.SetLevel(logging.ParseLevel(d.LogLevel))
			}
			if onReload != nil {
				onReload(d)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Errorf("config: watch error: %v", err)
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error { return w.fsw.Close() }
