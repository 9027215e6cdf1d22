package race

import (
	"context"
	"fmt"
	"time"

	"github.com/racecore/race/replay"
)

// ReplayWorker is the concrete worker class backing §4.4: it drives one
// archive.Reader through a replay.Scheduler paced by the owning System's
// Clock, publishing each entry onto its configured WriteTo channel.
//
// Configuration is read from WorkerConfig.Extra:
//
//	archive-path (string, required) - passed to replay.OpenFile
//	watch-dir (string, optional) - a directory watched via fsnotify; once
//	  the configured archive is exhausted, the next archive dropped into
//	  watch-dir is opened automatically and scheduling continues without
//	  restarting the worker. Files that arrive while an archive is still
//	  active are queued in discovery order.
type ReplayWorker struct {
	WorkerBase

	reader     *replay.FileReader
	sched      *replay.Scheduler
	outChannel string
	rcfg       replay.Config

	watcher       *replay.DirWatcher
	watchCancel   context.CancelFunc
	archiveActive bool
	pendingPaths  []string
}

// continuation is the payload type ReplayWorker posts to its own mailbox
// to serialize work that must not run concurrently with Handle: breaking
// a long run of immediate publishes, and picking up a watch-dir archive.
// It is never delivered to any other worker.
type continuation func()

// Initialize opens the archive and builds the scheduler; it does not
// start replaying.
func (w *ReplayWorker) Initialize(ctx context.Context, sys *System, cfg WorkerConfig) error {
	w.Init(sys, cfg)

	path, _ := cfg.Extra["archive-path"].(string)
	if path == "" {
		return fmt.Errorf("%w: archive-path", ErrConfigMissingRequired)
	}

	if len(cfg.WriteTo) > 0 {
		w.outChannel = cfg.WriteTo[0]
	}

	// ImmediateThreshold stays at replay.DefaultImmediateThreshold (§4.4's
	// 30ms, not configurable): it governs every entry's immediate-vs-timer
	// decision during normal scheduling. SkipMillis is a distinct §6 knob
	// (the "scheduler initial-skip window") that only widens that decision
	// while Start is still catching up through already-past history; see
	// replay.Config.InitialSkipWindow.
	w.rcfg = replay.Config{
		InitialSkipWindow: time.Duration(cfg.SkipMillis) * time.Millisecond,
		BreakAfter:        cfg.BreakAfter,
		MaxSkip:           cfg.MaxSkip,
		EndTime:           cfg.EndTime,
		Flatten:           cfg.Flatten,
		RebaseDates:       cfg.RebaseDates,
		RebaseOffset:      cfg.RebaseOffset,
	}

	if err := w.buildScheduler(path); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalidValue, err)
	}

	if dir, _ := cfg.Extra["watch-dir"].(string); dir != "" {
		watcher, err := replay.NewDirWatcher(dir)
		if err != nil {
			return fmt.Errorf("%w: watch-dir: %v", ErrConfigInvalidValue, err)
		}
		watcher.OnFile = func(path string) {
			_ = w.Deliver(Message{Payload: continuation(func() { w.onArchiveFileDiscovered(path) }), Originator: cfg.Name})
		}
		watcher.OnError = func(err error) {
			sys.Logger().Warn("replay: watch-dir error", "worker", cfg.Name, "error", err)
		}
		w.watcher = watcher
	}
	return nil
}

// buildScheduler opens path and wires a fresh Scheduler around it,
// replacing whatever reader/scheduler the worker previously had.
func (w *ReplayWorker) buildScheduler(path string) error {
	reader, err := replay.OpenFile(path)
	if err != nil {
		return err
	}
	w.reader = reader

	logger := w.System().Logger()
	name := w.Name()
	sched := replay.NewScheduler(reader, w.System().Clock(), w.publish, w.rcfg, func(msg string, args ...any) {
		logger.Debug(msg, append([]any{"worker", name}, args...)...)
	})
	sched.Defer = func(fn func()) {
		_ = w.Deliver(Message{Payload: continuation(fn), Originator: name})
	}
	sched.Notify = w.emitSchedulerEvent
	w.sched = sched
	w.archiveActive = true
	return nil
}

// onArchiveFileDiscovered runs on the worker's serialized mailbox
// dispatch (posted there by the DirWatcher's OnFile callback, which fires
// on fsnotify's own goroutine). If no archive is currently active it
// opens path immediately; otherwise it queues path for when the active
// one is exhausted.
func (w *ReplayWorker) onArchiveFileDiscovered(path string) {
	if !w.archiveActive {
		w.openWatchedArchive(path)
		return
	}
	w.pendingPaths = append(w.pendingPaths, path)
}

// tryAdvanceWatchedArchive runs on the worker's serialized mailbox
// dispatch (posted there from emitSchedulerEvent on archive-exhausted).
// If a watch-dir file is already queued, it is opened next; otherwise
// the worker goes idle until onArchiveFileDiscovered delivers one.
func (w *ReplayWorker) tryAdvanceWatchedArchive() {
	w.archiveActive = false
	if len(w.pendingPaths) == 0 {
		return
	}
	next := w.pendingPaths[0]
	w.pendingPaths = w.pendingPaths[1:]
	w.openWatchedArchive(next)
}

func (w *ReplayWorker) openWatchedArchive(path string) {
	if w.reader != nil {
		_ = w.reader.Close()
	}
	if err := w.buildScheduler(path); err != nil {
		w.System().Logger().Warn("replay: failed to open watched archive", "worker", w.Name(), "path", path, "error", err)
		return
	}
	if err := w.sched.Start(); err != nil {
		w.System().Logger().Warn("replay: watched archive failed to start", "worker", w.Name(), "path", path, "error", err)
	}
}

// schedulerEventTypes maps a replay.Scheduler Notify kind onto the
// CloudEvent type emitted for it.
var schedulerEventTypes = map[string]string{
	replay.NotifyEntrySkipped:     EventTypeSchedulerEntrySkipped,
	replay.NotifyMaxSkipExceeded:  EventTypeSchedulerMaxSkip,
	replay.NotifyArchiveExhausted: EventTypeSchedulerArchiveEnd,
	replay.NotifyRebased:          EventTypeSchedulerRebased,
}

func (w *ReplayWorker) emitSchedulerEvent(kind string, detail map[string]any) {
	if eventType, ok := schedulerEventTypes[kind]; ok {
		w.emit(eventType, detail)
	}
	if kind == replay.NotifyArchiveExhausted && w.watcher != nil {
		_ = w.Deliver(Message{Payload: continuation(w.tryAdvanceWatchedArchive), Originator: w.Name()})
	}
}

func (w *ReplayWorker) publish(payload any) error {
	w.Publish(w.outChannel, payload)
	return nil
}

// Start begins scheduling from the archive's first (un-skipped) entry,
// and starts the watch-dir listener if one is configured.
func (w *ReplayWorker) Start(ctx context.Context, originator string) error {
	if err := w.sched.Start(); err != nil {
		return err
	}
	if w.watcher != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		w.watchCancel = cancel
		go w.watcher.Run(watchCtx)
	}
	return w.WorkerBase.Start(ctx, originator)
}

// Handle dispatches self-posted continuations; a ReplayWorker receives no
// messages from other workers (ReadFrom is normally empty for this
// class).
func (w *ReplayWorker) Handle(ctx context.Context, msg Message) error {
	if fn, ok := msg.Payload.(continuation); ok {
		fn()
		return nil
	}
	return nil
}

// Pause stops the scheduler's pending timer, queuing any in-flight fire
// for Resume.
func (w *ReplayWorker) Pause(ctx context.Context) error {
	w.sched.Pause()
	return w.WorkerBase.Pause(ctx)
}

// Resume recomputes delays for anything queued during the pause and
// continues scheduling.
func (w *ReplayWorker) Resume(ctx context.Context) error {
	w.sched.Resume()
	return w.WorkerBase.Resume(ctx)
}

// Terminate stops the scheduler, the watch-dir listener, and closes the
// archive.
func (w *ReplayWorker) Terminate(ctx context.Context, originator string) error {
	w.sched.Stop()
	if w.watchCancel != nil {
		w.watchCancel()
	}
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	if w.reader != nil {
		_ = w.reader.Close()
	}
	return w.WorkerBase.Terminate(ctx, originator)
}
