package race

import (
	"context"
	"sync"
	"time"

	"github.com/racecore/race/bus"
)

// LifecycleState is one state in a worker's supervised lifecycle:
// Created -> Initialized -> Started <-> Paused -> Terminated.
type LifecycleState int

const (
	Created LifecycleState = iota
	Initialized
	Started
	Paused
	Terminated
)

func (s LifecycleState) String() string {
	switch s {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Started:
		return "started"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Message is an opaque payload published on a channel. The Bus never
// inspects or copies Payload; identity is preserved end to end.
type Message = bus.Message

// WorkerConfig is the decoded form of a `[worker]` configuration block
// (§6). Fields unused by a given worker class are left zero; raceconfig
// populates Extra with any class-specific keys not promoted to a named
// field.
type WorkerConfig struct {
	Name  string
	Class string

	ReadFrom []string
	WriteTo  []string

	StartTime    time.Time
	TimeScale    float64
	RebaseDates  bool
	RebaseOffset time.Duration

	BreakAfter int
	SkipMillis int
	MaxSkip    int
	EndTime    time.Time
	Flatten    bool

	OwnIPAddress    string
	OwnPort         int
	RemoteIPAddress string
	RemotePort      int
	Schema          string
	SocketTimeout   time.Duration
	DataInterval    time.Duration
	MaxFailures     int

	BufferSize    int
	MailboxPolicy MailboxPolicy

	Extra map[string]any
}

// Worker is a supervised unit of concurrency: configuration, a handler for
// typed messages, and a lifecycle driven exclusively by its owning System.
// Implementations should embed WorkerBase and override Handle (and
// optionally Start/Pause/Resume/Terminate) rather than implementing every
// method from scratch.
type Worker interface {
	Name() string
	State() LifecycleState

	// Initialize is synchronous, called once before any message is
	// delivered. A non-nil error prevents admission to the System.
	Initialize(ctx context.Context, sys *System, cfg WorkerConfig) error

	// Start transitions Initialized -> Started. May publish initial
	// messages through sys.Bus().
	Start(ctx context.Context, originator string) error

	// Handle processes one mailbox message. The framework guarantees
	// Handle is never called concurrently with itself for the same
	// worker.
	Handle(ctx context.Context, msg Message) error

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// Terminate is idempotent and releases owned resources.
	Terminate(ctx context.Context, originator string) error
}

// WorkerBase implements the bookkeeping every Worker needs — name,
// config, lifecycle state, mailbox — so concrete workers only need to
// embed it and implement Handle (and initialization/teardown of their own
// resources).
type WorkerBase struct {
	mu    sync.RWMutex
	name  string
	cfg   WorkerConfig
	state LifecycleState
	sys   *System
	box   *mailbox
}

// Init stores cfg and sys and allocates the mailbox. Concrete workers that
// embed WorkerBase call this from their own Initialize before doing
// class-specific setup.
func (b *WorkerBase) Init(sys *System, cfg WorkerConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = cfg.Name
	b.cfg = cfg
	b.sys = sys
	b.box = newMailbox(cfg.BufferSize, cfg.MailboxPolicy, cfg.SocketTimeout)
	b.state = Initialized
}

func (b *WorkerBase) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *WorkerBase) State() LifecycleState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *WorkerBase) setState(s LifecycleState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *WorkerBase) Config() WorkerConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *WorkerBase) System() *System {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sys
}

// Publish sends payload on channel via the owning System's Bus.
func (b *WorkerBase) Publish(channel string, payload any) {
	sys := b.System()
	if sys == nil {
		return
	}
	sys.Bus().Publish(channel, payload, b.Name())
}

// Deliver enqueues msg onto this worker's mailbox; called by the Bus on
// every subscriber it fans a published message out to.
func (b *WorkerBase) Deliver(msg Message) error {
	return b.box.enqueue(msg)
}

// emit constructs a CloudEvent of eventType carrying detail and notifies
// the owning System's observers. A System with no registered observers,
// or no owning System at all (not yet admitted), is the common case and
// silently skipped rather than treated as an error.
func (b *WorkerBase) emit(eventType string, detail any) {
	sys := b.System()
	if sys == nil {
		return
	}
	evt := NewCloudEvent(eventType, "race.worker."+b.Name(), detail, nil)
	if err := sys.NotifyObservers(context.Background(), evt); err != nil {
		HandleEventEmissionError(err, sys.Logger(), b.Name(), eventType)
	}
}

// Receive blocks for the next mailbox message.
func (b *WorkerBase) Receive(ctx context.Context) (Message, error) {
	return b.box.dequeue(ctx)
}

// Start is the default no-op Start: transitions to Started.
func (b *WorkerBase) Start(ctx context.Context, originator string) error {
	b.setState(Started)
	b.emit(EventTypeWorkerStarted, nil)
	return nil
}

// Pause is the default Pause: transitions Started -> Paused.
func (b *WorkerBase) Pause(ctx context.Context) error {
	b.setState(Paused)
	b.emit(EventTypeWorkerPaused, nil)
	return nil
}

// Resume is the default Resume: transitions Paused -> Started.
func (b *WorkerBase) Resume(ctx context.Context) error {
	b.setState(Started)
	b.emit(EventTypeWorkerResumed, nil)
	return nil
}

// Terminate is idempotent: a second call is a no-op.
func (b *WorkerBase) Terminate(ctx context.Context, originator string) error {
	b.mu.Lock()
	if b.state == Terminated {
		b.mu.Unlock()
		return nil
	}
	b.state = Terminated
	box := b.box
	b.mu.Unlock()
	if box != nil {
		box.close()
	}
	b.emit(EventTypeWorkerTerminated, nil)
	return nil
}
