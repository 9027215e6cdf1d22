package race

import "errors"

// Error kinds from the core's error taxonomy. Each sentinel corresponds to
// one row of the error-kind table: callers wrap these with fmt.Errorf's %w
// so callers can errors.Is against the kind while still carrying a
// component-specific message.
var (
	// Config errors: fail-fast at System startup.
	ErrConfigMissingRequired = errors.New("config: required option missing")
	ErrConfigInvalidValue    = errors.New("config: invalid option value")
	ErrConfigParse           = errors.New("config: failed to parse source")
	ErrConfigAmbiguousFile   = errors.New("config: more than one candidate config file found")

	// Init errors: worker not admitted; System decides whether to abort.
	ErrWorkerInitFailed  = errors.New("worker: initialize failed")
	ErrWorkerNameTaken   = errors.New("worker: name already registered")
	ErrWorkerNotFound    = errors.New("worker: no such worker")
	ErrSystemAlreadyRun  = errors.New("system: already started")
	ErrSystemNotStarted  = errors.New("system: not started")

	// Transient I/O: counted against max-failures; retried; terminates the
	// worker once exhausted.
	ErrTransientIO = errors.New("transient I/O error")

	// Protocol errors: logged, frame dropped, worker keeps running.
	ErrProtocolFrameShort   = errors.New("protocol: frame shorter than header")
	ErrProtocolBadSender    = errors.New("protocol: frame from unrecognized sender")
	ErrProtocolSchemaMismatch = errors.New("protocol: schema mismatch")
	ErrProtocolBadState     = errors.New("protocol: frame invalid for current state")

	// Ordering violations: logged, entry/frame dropped.
	ErrOrderingViolation = errors.New("ordering: entry older than last accepted")

	// Timeout: terminates the affected worker; supervisor may restart.
	ErrHeartbeatTimeout = errors.New("timeout: worker missed heartbeat")
	ErrRequestTimeout   = errors.New("timeout: no response to request")

	// Programming errors: worker restart; after restart cap, system stops.
	ErrProgrammingInvariant = errors.New("programming error: invariant violated")
	ErrUnexpectedPayload    = errors.New("programming error: unexpected payload type")

	// Mailbox / bus delivery.
	ErrMailboxFull      = errors.New("mailbox: full, message dropped")
	ErrMailboxClosed    = errors.New("mailbox: closed")
	ErrNoSubjectForEvent = errors.New("no subject available for event emission")

	// Scheduler-specific.
	ErrMaxSkipExceeded = errors.New("replay: max-skip exceeded")
	ErrArchiveExhausted = errors.New("replay: archive exhausted")
)
