// Package race provides the worker/bus/clock core described by the RACE
// framework: supervised concurrent workers wired onto a named publish and
// subscribe bus, a shared simulation clock, and the CloudEvents-based
// observer hooks used to watch lifecycle, restart, and scheduling
// decisions from outside the System.
package race

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer receives CloudEvents notifications from a Subject. Observers
// should return quickly; a slow observer delays only its own delivery
// unless the caller requested synchronous notification (see
// WithSynchronousNotification).
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// Subject is implemented by anything that emits CloudEvents to registered
// observers. The System is the framework's primary Subject.
type Subject interface {
	RegisterObserver(observer Observer, eventTypes ...string) error
	UnregisterObserver(observer Observer) error
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer for debugging/admin surfaces.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// EventType constants in reverse-domain notation, one family per
// component named in the system overview.
const (
	// Worker lifecycle (§4.1).
	EventTypeWorkerCreated     = "race.worker.created"
	EventTypeWorkerInitialized = "race.worker.initialized"
	EventTypeWorkerStarted     = "race.worker.started"
	EventTypeWorkerPaused      = "race.worker.paused"
	EventTypeWorkerResumed     = "race.worker.resumed"
	EventTypeWorkerTerminated  = "race.worker.terminated"
	EventTypeWorkerFailed      = "race.worker.failed"
	EventTypeWorkerRestarted   = "race.worker.restarted"

	// Supervision / heartbeat.
	EventTypeHeartbeatTimeout = "race.supervisor.heartbeat_timeout"
	EventTypeWorkerStuck      = "race.supervisor.worker_stuck"

	// System lifecycle.
	EventTypeSystemStarted = "race.system.started"
	EventTypeSystemStopped = "race.system.stopped"
	EventTypeSystemFailed  = "race.system.failed"

	// Scheduler / replay (§4.4).
	EventTypeSchedulerEntrySkipped  = "race.scheduler.entry_skipped"
	EventTypeSchedulerArchiveEnd    = "race.scheduler.archive_exhausted"
	EventTypeSchedulerMaxSkip       = "race.scheduler.max_skip_exceeded"
	EventTypeSchedulerRebased       = "race.scheduler.rebased"

	// Adapter protocol (§4.5).
	EventTypeAdapterConnected     = "race.adapter.connected"
	EventTypeAdapterRejected      = "race.adapter.rejected"
	EventTypeAdapterDisconnected  = "race.adapter.disconnected"
	EventTypeAdapterFrameDropped  = "race.adapter.frame_dropped"

	// Topic registry (§4.6).
	EventTypeTopicAccepted = "race.topic.accepted"
	EventTypeTopicReleased = "race.topic.released"
)

// FunctionalObserver adapts a plain function to Observer, for callers that
// don't want to define a named type.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver builds an Observer from handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string { return f.id }
