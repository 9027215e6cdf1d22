package replay

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher is a file-watcher archive producer: the system overview
// names file watchers as an external input alongside archive readers and
// adapter sockets. It watches a directory for newly-created archive
// files and hands each path to OnFile as it appears, so a replayer worker
// can open and schedule each one in turn.
type DirWatcher struct {
	watcher *fsnotify.Watcher
	OnFile  func(path string)
	OnError func(err error)
}

// NewDirWatcher starts watching dir.
func NewDirWatcher(dir string) (*DirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &DirWatcher{watcher: w}, nil
}

// Run blocks, dispatching Create/Write events to OnFile until ctx is
// cancelled or Close is called.
func (d *DirWatcher) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if d.OnFile != nil {
				d.OnFile(ev.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			if d.OnError != nil {
				d.OnError(err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops watching.
func (d *DirWatcher) Close() error {
	return d.watcher.Close()
}
