package race

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/racecore/race/bus"
	"github.com/racecore/race/clock"
)

// RestartPolicy controls how the System reacts when a worker's Handle
// returns an error or panics.
type RestartPolicy struct {
	// MaxAttempts bounds how many Handle failures, counted over the
	// worker's lifetime, the System restarts before it terminates the
	// worker. A restart emits "failed" and "restarted" events and goes on
	// with the next message; the mailbox is kept and no worker state is
	// reset. Zero means the first failure terminates the worker.
	MaxAttempts int
	// HeartbeatInterval is how often the System checks each worker's
	// last Handle return time.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a worker may go without a Handle
	// return (counted from its run-loop start at first) before it is
	// reported as stuck.
	HeartbeatTimeout time.Duration
}

// DefaultRestartPolicy matches the teacher's conservative defaults:
// restart a few times, check heartbeats every few seconds.
var DefaultRestartPolicy = RestartPolicy{
	MaxAttempts:       3,
	HeartbeatInterval: 5 * time.Second,
	HeartbeatTimeout:  2 * time.Second,
}

// System owns the Bus, the Clock, the TopicRegistry, and every Worker. It
// enforces admission (failed Initialize means the worker never runs),
// start/stop fan-out with no declared cross-worker ordering, restart on
// Handle failure up to RestartPolicy.MaxAttempts, and a heartbeat that
// flags stuck workers.
type System struct {
	logger Logger
	bus    *bus.Bus
	clock  *clock.Clock
	topics *bus.TopicRegistry
	policy RestartPolicy

	mu       sync.RWMutex
	workers  map[string]Worker
	lastSeen sync.Map // worker name -> time.Time, updated on every Handle return
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool

	clockAdjusted atomic.Bool

	obsMu     sync.RWMutex
	observers map[string]registeredObserver
}

type registeredObserver struct {
	observer Observer
	types    map[string]bool // empty set means "all types"
}

// NewSystem builds a System around its own Bus, Clock, and TopicRegistry.
// logger may be nil (defaults to a slog text logger); policy may be the
// zero value (defaults to DefaultRestartPolicy). Bus metrics are created
// but not exposed through any registry; use NewSystemWithRegisterer to
// expose them.
func NewSystem(logger Logger, baseDate time.Time, scale float64, policy RestartPolicy) *System {
	return NewSystemWithRegisterer(logger, baseDate, scale, policy, nil)
}

// NewSystemWithRegisterer is NewSystem with an explicit prometheus
// registry for the Bus's delivered/dropped counters, the way racectl's
// --metrics-addr wires them up for scraping.
func NewSystemWithRegisterer(logger Logger, baseDate time.Time, scale float64, policy RestartPolicy, reg prometheus.Registerer) *System {
	if logger == nil {
		logger = NewSlogLogger(nil)
	}
	if policy == (RestartPolicy{}) {
		policy = DefaultRestartPolicy
	}
	s := &System{
		logger:    logger,
		bus:       bus.New(reg),
		clock:     clock.New(baseDate, scale),
		topics:    bus.NewTopicRegistry(),
		policy:    policy,
		workers:   make(map[string]Worker),
		observers: make(map[string]registeredObserver),
	}
	s.topics.Notify = s.emitTopicEvent
	return s
}

// emitTopicEvent adapts a bus.TopicRegistry Notify callback into a
// CloudEvent, wiring §4.6's topic-activation bookkeeping into the same
// observer channel worker lifecycle events go through.
func (s *System) emitTopicEvent(event string, req bus.TopicRequest) {
	eventType := EventTypeTopicAccepted
	if event == "released" {
		eventType = EventTypeTopicReleased
	}
	detail := map[string]any{"channel": req.Channel, "topic": req.Topic, "client": req.Client}
	s.emit(context.Background(), NewCloudEvent(eventType, "race.topics", detail, nil))
}

func (s *System) Bus() *bus.Bus               { return s.bus }
func (s *System) Clock() *clock.Clock         { return s.clock }
func (s *System) Topics() *bus.TopicRegistry  { return s.topics }
func (s *System) Logger() Logger              { return s.logger }

// ResetBaseDate implements the clock-adjuster open question: the first
// caller to invoke this wins the compare-and-swap; every later caller,
// even if racing on the same tick, is a silent (debug-logged) no-op. Tie
// semantics beyond "first CAS wins" are intentionally unspecified.
func (s *System) ResetBaseDate(date time.Time) {
	if !s.clockAdjusted.CompareAndSwap(false, true) {
		s.logger.Debug("clock base date adjustment ignored, already set")
		return
	}
	s.clock.SetBase(date)
}

// Admit runs Initialize for w. A failing Initialize means w is never
// added to the System's worker set.
func (s *System) Admit(ctx context.Context, w Worker, cfg WorkerConfig) error {
	s.emit(ctx, NewWorkerLifecycleEvent("race.system", cfg.Name, cfg.Class, "created", "", 0))
	if err := w.Initialize(ctx, s, cfg); err != nil {
		s.logger.Error("worker initialize failed", "worker", cfg.Name, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrWorkerInitFailed, cfg.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrWorkerNameTaken, cfg.Name)
	}
	s.workers[cfg.Name] = w
	for _, ch := range cfg.ReadFrom {
		s.bus.Subscribe(ch, cfg.Name, w.(bus.Subscriber))
	}
	s.emit(ctx, NewWorkerLifecycleEvent("race.system", cfg.Name, cfg.Class, "initialized", "", 0))
	return nil
}

// Worker looks up an admitted worker by name.
func (s *System) Worker(name string) (Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[name]
	return w, ok
}

// Start admits no new workers; it starts every currently-admitted worker
// concurrently (no declared ordering between workers) under an errgroup,
// then begins running each worker's mailbox loop and the heartbeat.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSystemAlreadyRun
	}
	s.running = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	workers := make(map[string]Worker, len(s.workers))
	for name, w := range s.workers {
		workers[name] = w
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(s.runCtx)
	for name, w := range workers {
		name, w := name, w
		g.Go(func() error {
			if err := w.Start(gctx, "system"); err != nil {
				s.logger.Error("worker start failed", "worker", name, "error", err)
				return fmt.Errorf("worker %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.running = false
		return err
	}

	for name, w := range workers {
		s.wg.Add(1)
		go s.runWorker(name, w)
	}
	s.wg.Add(1)
	go s.heartbeatLoop()

	s.emit(s.runCtx, NewCloudEvent(EventTypeSystemStarted, "race.system", nil, nil))
	return nil
}

// runWorker is the worker's mailbox loop: dequeue, handle, restart on
// error up to policy.MaxAttempts. This is the only goroutine that ever
// calls w.Handle, which is what gives each worker serial, single-threaded
// message handling.
func (s *System) runWorker(name string, w Worker) {
	defer s.wg.Done()
	attempts := 0
	s.lastSeen.Store(name, time.Now())
	for {
		msg, err := receiveFrom(s.runCtx, w)
		if err != nil {
			return
		}
		herr := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: panic in Handle: %v", ErrProgrammingInvariant, r)
				}
			}()
			return w.Handle(s.runCtx, msg)
		}()
		s.lastSeen.Store(name, time.Now())
		if herr != nil {
			attempts++
			s.logger.Warn("worker handle failed", "worker", name, "error", herr, "attempt", attempts)
			s.emit(s.runCtx, NewWorkerLifecycleEvent("race.system", name, "", "failed", herr.Error(), attempts))
			if attempts > s.policy.MaxAttempts {
				s.logger.Error("worker exceeded restart attempts, stopping", "worker", name)
				_ = w.Terminate(s.runCtx, "system")
				return
			}
			s.emit(s.runCtx, NewWorkerLifecycleEvent("race.system", name, "", "restarted", "", attempts))
		}
	}
}

// receiveFrom type-asserts w to the mailbox receiver capability exposed by
// WorkerBase. Workers are expected to embed WorkerBase; one that doesn't
// cannot be driven by the System's run loop.
func receiveFrom(ctx context.Context, w Worker) (Message, error) {
	type receiver interface {
		Receive(ctx context.Context) (Message, error)
	}
	r, ok := w.(receiver)
	if !ok {
		<-ctx.Done()
		return Message{}, ctx.Err()
	}
	return r.Receive(ctx)
}

// heartbeatLoop runs every policy.HeartbeatInterval and reports as stuck
// (a warning log and an EventTypeWorkerStuck event) each non-terminated
// worker whose last Handle return, or run-loop start, is older than
// policy.HeartbeatTimeout. Nothing is sent to the workers; a worker with
// an empty mailbox is reported the same way as one blocked in Handle.
func (s *System) heartbeatLoop() {
	defer s.wg.Done()
	if s.policy.HeartbeatInterval <= 0 {
		return
	}
	t := time.NewTicker(s.policy.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.RLock()
			names := make([]string, 0, len(s.workers))
			for n := range s.workers {
				names = append(names, n)
			}
			s.mu.RUnlock()
			for _, n := range names {
				w, ok := s.Worker(n)
				if !ok || w.State() == Terminated {
					continue
				}
				v, ok := s.lastSeen.Load(n)
				if !ok {
					continue
				}
				if s.policy.HeartbeatTimeout > 0 && time.Since(v.(time.Time)) > s.policy.HeartbeatTimeout {
					s.logger.Warn("worker missed heartbeat", "worker", n, "timeout", s.policy.HeartbeatTimeout)
					s.emit(s.runCtx, NewCloudEvent(EventTypeWorkerStuck, "race.system", map[string]any{"worker": n}, nil))
				}
			}
		case <-s.runCtx.Done():
			return
		}
	}
}

// Stop terminates every worker concurrently and stops the heartbeat.
func (s *System) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSystemNotStarted
	}
	workers := make(map[string]Worker, len(s.workers))
	for name, w := range s.workers {
		workers[name] = w
	}
	s.running = false
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for name, w := range workers {
		name, w := name, w
		g.Go(func() error {
			if err := w.Terminate(gctx, "system"); err != nil {
				s.logger.Error("worker terminate failed", "worker", name, "error", err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	s.cancel()
	s.wg.Wait()
	s.emit(ctx, NewCloudEvent(EventTypeSystemStopped, "race.system", nil, nil))
	return err
}

// RegisterObserver implements Subject.
func (s *System) RegisterObserver(observer Observer, eventTypes ...string) error {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	s.observers[observer.ObserverID()] = registeredObserver{observer: observer, types: types}
	return nil
}

// UnregisterObserver implements Subject.
func (s *System) UnregisterObserver(observer Observer) error {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	delete(s.observers, observer.ObserverID())
	return nil
}

// NotifyObservers implements Subject.
func (s *System) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	if len(s.observers) == 0 {
		return ErrNoSubjectForEvent
	}
	for _, ro := range s.observers {
		if len(ro.types) > 0 && !ro.types[event.Type()] {
			continue
		}
		if IsSynchronousNotification(ctx) {
			if err := ro.observer.OnEvent(ctx, event); err != nil {
				s.logger.Debug("observer returned error", "observer", ro.observer.ObserverID(), "error", err)
			}
			continue
		}
		go func(o Observer) {
			if err := o.OnEvent(ctx, event); err != nil {
				s.logger.Debug("observer returned error", "observer", o.ObserverID(), "error", err)
			}
		}(ro.observer)
	}
	return nil
}

// GetObservers implements Subject.
func (s *System) GetObservers() []ObserverInfo {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	out := make([]ObserverInfo, 0, len(s.observers))
	for id, ro := range s.observers {
		types := make([]string, 0, len(ro.types))
		for t := range ro.types {
			types = append(types, t)
		}
		out = append(out, ObserverInfo{ID: id, EventTypes: types})
	}
	return out
}

func (s *System) emit(ctx context.Context, event cloudevents.Event) {
	if err := s.NotifyObservers(ctx, event); err != nil {
		HandleEventEmissionError(err, s.logger, "system", event.Type())
	}
}
