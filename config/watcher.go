package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ChangeHandler receives the newly loaded config after a reload.
type ChangeHandler func(cfg *Config)

// Watcher reloads the config file when it changes on disk.
// Rapid successive writes are debounced into a single reload.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ChangeHandler
	debounce time.Duration
	stop     chan struct{}
	done     chan struct{}
	reloads  sync.WaitGroup
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  w,
		debounce: 300 * time.Millisecond,
	}, nil
}

// OnChange registers a handler called after each successful reload.
func (cw *Watcher) OnChange(h ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, h)
}

// Start begins watching. The parent directory is watched so editors that
// replace the file via rename are still picked up.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}
	cw.stop = make(chan struct{})
	cw.done = make(chan struct{})
	go cw.run()

	logrus.WithField("path", cw.path).Infoln("config watcher started")
	return nil
}

// Stop halts the watcher and waits for its loop and any running reload
// to finish. No handler is called after Stop returns.
func (cw *Watcher) Stop() {
	if cw.stop != nil {
		close(cw.stop)
		<-cw.done
		cw.reloads.Wait()
		cw.stop = nil
	}
	cw.watcher.Close()
}

func (cw *Watcher) run() {
	defer close(cw.done)
	stop := cw.stop
	var timer *time.Timer

	cancelPending := func() {
		if timer != nil && timer.Stop() {
			cw.reloads.Done()
		}
	}

	for {
		select {
		case <-stop:
			cancelPending()
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cancelPending()
			cw.reloads.Add(1)
			timer = time.AfterFunc(cw.debounce, func() {
				defer cw.reloads.Done()
				select {
				case <-stop:
					return
				default:
				}
				cw.reload()
			})

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Errorln("config watcher error")
		}
	}
}

func (cw *Watcher) reload() {
	cfg, err := Load(cw.path)
	if err != nil {
		logrus.WithError(err).WithField("path", cw.path).Errorln("config reload failed, keeping previous config")
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	logrus.WithField("path", cw.path).Infoln("config reloaded")
}
