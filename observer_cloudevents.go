package race

import (
	"errors"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// NewCloudEvent builds a minimally-populated CloudEvent: id, source, type,
// time, spec version, JSON data, and extension attributes from metadata.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

// WorkerLifecycleSchema identifies the payload shape of worker lifecycle
// events emitted by the System.
const WorkerLifecycleSchema = "race.worker.lifecycle.v1"

// WorkerLifecyclePayload is the structured data carried by worker lifecycle
// CloudEvents, a typed alternative to stuffing detail into extensions.
type WorkerLifecyclePayload struct {
	Worker    string                 `json:"worker"`
	Class     string                 `json:"class,omitempty"`
	Action    string                 `json:"action"`
	Reason    string                 `json:"reason,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewWorkerLifecycleEvent builds a CloudEvent for a worker lifecycle
// transition, choosing the conventional event type for the given action
// and also recording it as an extension for routing without a payload
// decode.
func NewWorkerLifecycleEvent(source, worker, class, action, reason string, attempt int) cloudevents.Event {
	payload := WorkerLifecyclePayload{
		Worker:    worker,
		Class:     class,
		Action:    action,
		Reason:    reason,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	evt := cloudevents.NewEvent()
	evt.SetID(generateEventID())
	evt.SetSource(source)

	switch action {
	case "created":
		evt.SetType(EventTypeWorkerCreated)
	case "initialized":
		evt.SetType(EventTypeWorkerInitialized)
	case "started":
		evt.SetType(EventTypeWorkerStarted)
	case "paused":
		evt.SetType(EventTypeWorkerPaused)
	case "resumed":
		evt.SetType(EventTypeWorkerResumed)
	case "terminated":
		evt.SetType(EventTypeWorkerTerminated)
	case "failed":
		evt.SetType(EventTypeWorkerFailed)
	case "restarted":
		evt.SetType(EventTypeWorkerRestarted)
	default:
		evt.SetType("race.worker.lifecycle")
	}
	evt.SetTime(payload.Timestamp)
	evt.SetSpecVersion(cloudevents.VersionV1)
	_ = evt.SetData(cloudevents.ApplicationJSON, payload)

	// CloudEvents 1.0 §3.1.1 restricts extension names to lower-case
	// alphanumerics only; no hyphens or underscores.
	evt.SetExtension("payloadschema", WorkerLifecycleSchema)
	evt.SetExtension("workeraction", action)
	evt.SetExtension("workername", worker)
	return evt
}

// generateEventID returns a time-ordered UUIDv7, falling back to v4 if the
// v7 generator ever fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent runs the CloudEvents SDK's structural validation.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("cloudevent validation failed: %w", err)
	}
	return nil
}

// HandleEventEmissionError standardizes handling of event-emission
// failures at worker call sites: the "no subject registered" case is
// swallowed (a System running without observers is normal), anything else
// is logged at debug and also treated as handled, so callers don't need a
// second branch for the common case. With a nil logger such other errors
// are not logged and it returns false.
//
// Example:
//
//	if err := sys.NotifyObservers(ctx, evt); err != nil {
//		race.HandleEventEmissionError(err, logger, w.Name(), evt.Type())
//	}
func HandleEventEmissionError(err error, logger Logger, workerName, eventType string) bool {
	if errors.Is(err, ErrNoSubjectForEvent) {
		return true
	}
	if logger != nil {
		logger.Debug("failed to emit event", "worker", workerName, "eventType", eventType, "error", err)
		return true
	}
	return false
}
