package race

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/racecore/race/adapter"
)

// AdapterWorker bridges the Bus to an external process over the UDP wire
// protocol (§4.5). Its role is either "server" (listens for a Request and
// assigns client IDs) or "client" (initiates the handshake); role
// defaults to "server" when RemotePort is unset, "client" otherwise.
//
// Extra reads one optional key:
//
//	role (string) - "client" or "server", overriding the inferred default
type AdapterWorker struct {
	WorkerBase

	session    *adapter.Session
	outChannel string
	server     bool

	nextClientID int32
	clientIDmu   sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Initialize opens the UDP socket but performs no handshake yet.
func (w *AdapterWorker) Initialize(ctx context.Context, sys *System, cfg WorkerConfig) error {
	w.Init(sys, cfg)

	if cfg.Schema == "" {
		return fmt.Errorf("%w: schema", ErrConfigMissingRequired)
	}

	role, _ := cfg.Extra["role"].(string)
	w.server = role == "server" || (role == "" && cfg.RemotePort == 0)

	if len(cfg.WriteTo) > 0 {
		w.outChannel = cfg.WriteTo[0]
	}

	sess, err := adapter.NewSession(adapter.Config{
		OwnIP:         cfg.OwnIPAddress,
		OwnPort:       cfg.OwnPort,
		RemoteIP:      cfg.RemoteIPAddress,
		RemotePort:    cfg.RemotePort,
		Schema:        cfg.Schema,
		SocketTimeout: cfg.SocketTimeout,
		MaxFailures:   cfg.MaxFailures,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalidValue, err)
	}
	w.session = sess
	w.session.Reader = func(body []byte) (any, error) {
		var v any
		err := json.Unmarshal(body, &v)
		return v, err
	}
	w.session.Writer = func(payload any) ([]byte, error) {
		return json.Marshal(payload)
	}
	w.session.OnData = func(payload any) {
		w.Publish(w.outChannel, payload)
	}
	return nil
}

// Start performs the handshake (client role) and begins the background
// receive loop.
func (w *AdapterWorker) Start(ctx context.Context, originator string) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if !w.server {
		intervalMillis := int32(w.Config().DataInterval / time.Millisecond)
		simNow := w.System().Clock().Now().UnixMilli()
		if err := w.session.Connect(w.Config().Schema, simNow, intervalMillis); err != nil {
			if errors.Is(err, adapter.ErrRejected) {
				w.emit(EventTypeAdapterRejected, map[string]any{"error": err.Error()})
			}
			cancel()
			return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		w.emit(EventTypeAdapterConnected, nil)
	}

	w.wg.Add(1)
	go w.receiveLoop(runCtx)

	return w.WorkerBase.Start(ctx, originator)
}

// receiveLoop reads datagrams until runCtx is cancelled, dispatching
// Request/Data/Stop frames per §4.5's state machine. Read timeouts and
// receive errors are never counted against max-failures: timeouts are
// retried silently, other errors are logged at debug level and the loop
// goes on.
func (w *AdapterWorker) receiveLoop(ctx context.Context) {
	defer w.wg.Done()
	logger := w.System().Logger()
	name := w.Name()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = w.session.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		frame, from, err := w.session.ReceiveFrame()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			logger.Debug("adapter: receive error", "worker", name, "error", err)
			continue
		}

		switch frame.Header.MsgType {
		case adapter.MsgRequest:
			if !w.server {
				continue
			}
			id := w.assignClientID()
			if err := w.session.HandleRequest(frame, from, id); err != nil {
				logger.Warn("adapter: request rejected", "worker", name, "error", err)
				w.emit(EventTypeAdapterRejected, map[string]any{"error": err.Error()})
				continue
			}
			w.emit(EventTypeAdapterConnected, nil)
		case adapter.MsgData:
			if err := w.session.Validate(frame, from); err != nil {
				logger.Debug("adapter: dropped frame from unrecognized sender", "worker", name, "error", err)
				w.emit(EventTypeAdapterFrameDropped, map[string]any{"reason": "bad_sender"})
				continue
			}
			if err := w.session.HandleData(frame); err != nil {
				logger.Debug("adapter: dropped out-of-order frame", "worker", name, "error", err)
				w.emit(EventTypeAdapterFrameDropped, map[string]any{"reason": "ordering_violation"})
			}
		case adapter.MsgStop:
			w.emit(EventTypeAdapterDisconnected, map[string]any{"reason": "peer_stop"})
			return
		case adapter.MsgPause:
			_ = w.Pause(ctx)
		case adapter.MsgResume:
			_ = w.Resume(ctx)
		}
	}
}

func (w *AdapterWorker) assignClientID() int32 {
	w.clientIDmu.Lock()
	defer w.clientIDmu.Unlock()
	w.nextClientID++
	return w.nextClientID
}

// Handle forwards a bus message bound for the remote peer as a Data
// frame, stamped with the current simulation time.
func (w *AdapterWorker) Handle(ctx context.Context, msg Message) error {
	if !w.session.Connected() {
		return nil
	}
	simNow := w.System().Clock().Now().UnixMilli()
	if err := w.session.SendData(msg.Payload, simNow); err != nil {
		if w.session.RecordFailure() {
			return fmt.Errorf("%w: %v", ErrTransientIO, err)
		}
		return nil
	}
	w.session.ResetFailures()
	return nil
}

// Terminate sends Stop to the peer, cancels the receive loop, and closes
// the socket.
func (w *AdapterWorker) Terminate(ctx context.Context, originator string) error {
	if w.session.Connected() {
		_ = w.session.SendStop()
		w.emit(EventTypeAdapterDisconnected, map[string]any{"reason": "local_stop"})
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	_ = w.session.Close()
	return w.WorkerBase.Terminate(ctx, originator)
}
