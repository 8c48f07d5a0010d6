package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AsyncLogger is the concrete Sink cmd/ wires up: two named file
// destinations (<base>_rpc.log-family, <base>_app.log-family, per
// spec.md §6's log_file_name suffix rule), each flushed by one shared
// background goroutine that wakes on log_sync_interval or on either
// destination crossing its high-water mark. Each destination owns its
// own mutex, so swapping one destination's pending buffer can never
// block on — or release — another destination's lock.
type AsyncLogger struct {
	levelMu sync.RWMutex
	level   Level

	rpc *destination
	app *destination

	syncInterval time.Duration
	wakeCh       chan struct{}
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewAsyncLogger creates the log directory if needed and starts the
// background flush goroutine. baseName is the log_file_name config
// value; dir is log_file_path; maxFileSize is log_max_file_size in
// bytes; syncInterval is log_sync_interval.
func NewAsyncLogger(baseName, dir string, maxFileSize int64, syncInterval time.Duration, level Level) (*AsyncLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create dir %s: %w", dir, err)
	}

	l := &AsyncLogger{
		level:        level,
		rpc:          newDestination(dir, baseName+"_rpc", maxFileSize),
		app:          newDestination(dir, baseName+"_app", maxFileSize),
		syncInterval: syncInterval,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

func (l *AsyncLogger) loop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-l.wakeCh:
		case <-l.stopCh:
			l.rpc.flush()
			l.app.flush()
			return
		}
		l.rpc.flush()
		l.app.flush()
	}
}

// Level returns the currently configured minimum severity.
func (l *AsyncLogger) Level() Level {
	l.levelMu.RLock()
	defer l.levelMu.RUnlock()
	return l.level
}

// SetLevel updates the minimum severity at which records are kept; a
// config.Watch reload calls this rather than touching any EventLoop.
func (l *AsyncLogger) SetLevel(lv Level) {
	l.levelMu.Lock()
	l.level = lv
	l.levelMu.Unlock()
}

// App returns a Sink that writes to the application log destination
// instead of the RPC one — the original's pushAppLog counterpart.
func (l *AsyncLogger) App() Sink { return appSink{l} }

func (l *AsyncLogger) Debugf(format string, args ...any) { l.log(l.rpc, LevelDebug, format, args...) }
func (l *AsyncLogger) Infof(format string, args ...any)  { l.log(l.rpc, LevelInfo, format, args...) }
func (l *AsyncLogger) Errorf(format string, args ...any) { l.log(l.rpc, LevelError, format, args...) }

func (l *AsyncLogger) log(dest *destination, lv Level, format string, args ...any) {
	if lv < l.Level() {
		return
	}
	if dest.push(toLogrusLevel(lv), fmt.Sprintf(format, args...)) {
		select {
		case l.wakeCh <- struct{}{}:
		default:
		}
	}
}

// Close stops the flush goroutine, flushing both destinations one last
// time, then closes their underlying files. A later Close is a no-op.
func (l *AsyncLogger) Close() error {
	select {
	case <-l.stopCh:
		return nil
	default:
	}
	close(l.stopCh)
	<-l.doneCh
	rpcErr := l.rpc.close()
	appErr := l.app.close()
	if rpcErr != nil {
		return rpcErr
	}
	return appErr
}

type appSink struct{ l *AsyncLogger }

func (a appSink) Debugf(format string, args ...any) { a.l.log(a.l.app, LevelDebug, format, args...) }
func (a appSink) Infof(format string, args ...any)  { a.l.log(a.l.app, LevelInfo, format, args...) }
func (a appSink) Errorf(format string, args ...any) { a.l.log(a.l.app, LevelError, format, args...) }

func toLogrusLevel(lv Level) logrus.Level {
	switch lv {
	case LevelInfo:
		return logrus.InfoLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.DebugLevel
	}
}
