package adapter

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Reader decodes a Data frame's body into one payload, or a []any when
// the frame packs a sequence; the worker publishes whatever the Reader
// returns as a single message.
type Reader func(body []byte) (any, error)

// Writer encodes a bus message payload into a Data frame body.
type Writer func(payload any) ([]byte, error)

// Logger is the minimal logging surface Session needs; race.Logger
// satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}

// Session is one AdapterSession: local/remote addresses, negotiated IDs,
// connection state, and the UDP socket used to exchange frames with an
// external-process peer.
type Session struct {
	conn *net.UDPConn

	ownAddr    *net.UDPAddr
	remoteAddr *net.UDPAddr // configured remote IP; port is learned on Request (server) or fixed (client)

	localID  int32
	remoteID int32
	schema   string

	mu             sync.Mutex
	clientState    ClientState
	serverState    ServerState
	connected      bool
	lastDataMillis int64
	learnedPort    int

	socketTimeout time.Duration
	maxFailures   int
	failures      int

	Reader Reader
	Writer Writer
	OnData func(payload any)

	logger Logger
}

// Config configures a Session. RemotePort may be 0 for a server, which
// learns the client's port from the first valid Request.
type Config struct {
	OwnIP         string
	OwnPort       int
	RemoteIP      string
	RemotePort    int
	Schema        string
	SocketTimeout time.Duration
	MaxFailures   int
	Logger        Logger
}

// NewSession opens the UDP socket described by cfg.
func NewSession(cfg Config) (*Session, error) {
	own, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.OwnIP, cfg.OwnPort))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", own)
	if err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.RemoteIP, cfg.RemotePort))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{
		conn:          conn,
		ownAddr:       own,
		remoteAddr:    remote,
		schema:        cfg.Schema,
		socketTimeout: cfg.SocketTimeout,
		maxFailures:   cfg.MaxFailures,
		logger:        logger,
	}, nil
}

// Close releases the socket. A second call returns the socket's
// already-closed error.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) send(f Frame, addr *net.UDPAddr) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(buf, addr)
	return err
}

// ReceiveFrame blocks for the next datagram on the session's socket and
// decodes it. It is used by both the client and server run loops for
// ongoing Data/Stop/Pause/Resume traffic after the handshake completes.
func (s *Session) ReceiveFrame() (Frame, *net.UDPAddr, error) {
	buf := make([]byte, MaxDatagram)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return Frame{}, nil, err
	}
	f, err := Decode(buf[:n])
	if err != nil {
		return Frame{}, addr, err
	}
	return f, addr, nil
}

// SetReadDeadline forwards to the underlying socket so a run loop can
// periodically check for cancellation between reads.
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// --- Client side ---

// Connect sends a Request and blocks for Accept/Reject up to
// s.socketTimeout. On success the session is Connected and localID holds
// the server-assigned client ID.
func (s *Session) Connect(schema string, requestedSimMillis int64, intervalMillis int32) error {
	s.mu.Lock()
	s.clientState = ClientAwaitingAccept
	s.mu.Unlock()

	body := EncodeRequest(RequestBody{Schema: schema, RequestedSimMillis: requestedSimMillis, IntervalMillis: intervalMillis})
	if err := s.send(Frame{Header: Header{MsgType: MsgRequest, SenderID: s.localID, EpochMillis: requestedSimMillis}, Body: body}, s.remoteAddr); err != nil {
		return err
	}

	if s.socketTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.socketTimeout))
	}
	buf := make([]byte, MaxDatagram)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		s.mu.Lock()
		s.clientState = ClientFailed
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if !addr.IP.Equal(s.remoteAddr.IP) {
		s.mu.Lock()
		s.clientState = ClientFailed
		s.mu.Unlock()
		return ErrBadSender
	}

	frame, err := Decode(buf[:n])
	if err != nil {
		return err
	}
	switch frame.Header.MsgType {
	case MsgAccept:
		accept, err := DecodeAccept(frame.Body)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.remoteID = frame.Header.SenderID
		s.localID = accept.AssignedClientID
		s.clientState = ClientConnected
		s.connected = true
		s.mu.Unlock()
		return nil
	case MsgReject:
		s.mu.Lock()
		s.clientState = ClientFailed
		s.mu.Unlock()
		return ErrRejected
	default:
		s.mu.Lock()
		s.clientState = ClientFailed
		s.mu.Unlock()
		return ErrBadState
	}
}

// --- Server side ---

// HandleRequest processes an inbound Request frame: accepts if schema
// matches, otherwise rejects and stays Idle. On accept it learns the
// client's port, assigns clientID as the new localID (from the server's
// point of view, localID identifies itself to the client) and remembers
// clientID as the remote ID, so later client frames must carry it.
func (s *Session) HandleRequest(frame Frame, from *net.UDPAddr, clientID int32) error {
	req, err := DecodeRequest(frame.Body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Schema != s.schema {
		body := EncodeReject(RejectBody{ReasonCode: ReasonSchemaMismatch})
		_ = s.send(Frame{Header: Header{MsgType: MsgReject, SenderID: s.localID}, Body: body}, from)
		return ErrSchemaMismatch
	}

	s.remoteID = clientID
	s.learnedPort = from.Port
	s.localID = clientID
	s.serverState = ServerConnected
	s.connected = true

	accept := EncodeAccept(AcceptBody{SimMillis: req.RequestedSimMillis, IntervalMillis: req.IntervalMillis, AssignedClientID: clientID})
	return s.send(Frame{Header: Header{MsgType: MsgAccept, SenderID: s.localID}, Body: accept}, from)
}

// Validate checks a received frame's sender against the learned peer
// identity: IP must match the configured remote, port must match the
// learned/connected port once connected, and senderId must equal the
// remembered remote ID.
func (s *Session) Validate(frame Frame, from *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !from.IP.Equal(s.remoteAddr.IP) {
		return ErrBadSender
	}
	if s.connected {
		if s.learnedPort != 0 && from.Port != s.learnedPort {
			return ErrBadSender
		}
		if frame.Header.SenderID != s.remoteID {
			return ErrBadSender
		}
	}
	return nil
}

// HandleData validates ordering (epochMillis >= lastDataMillis) and, if
// valid, decodes and dispatches via OnData. Out-of-order frames are
// discarded, not buffered: UDP reordering is treated as loss.
func (s *Session) HandleData(frame Frame) error {
	s.mu.Lock()
	if frame.Header.EpochMillis < s.lastDataMillis {
		s.mu.Unlock()
		return ErrOrderingViolation
	}
	s.lastDataMillis = frame.Header.EpochMillis
	reader := s.Reader
	s.mu.Unlock()

	if reader == nil {
		return nil
	}
	payload, err := reader(frame.Body)
	if err != nil {
		return err
	}
	if s.OnData != nil {
		s.OnData(payload)
	}
	return nil
}

// SendData encodes payload via Writer and transmits a Data frame to the
// connected peer, stamping epochMillis with simNowMillis.
func (s *Session) SendData(payload any, simNowMillis int64) error {
	s.mu.Lock()
	writer := s.Writer
	id := s.localID
	s.mu.Unlock()
	if writer == nil {
		return nil
	}
	body, err := writer(payload)
	if err != nil {
		return err
	}
	return s.send(Frame{Header: Header{MsgType: MsgData, SenderID: id, EpochMillis: simNowMillis}, Body: body}, s.remoteAddr)
}

// SendStop transmits a Stop frame and locally transitions to Terminated.
func (s *Session) SendStop() error {
	s.mu.Lock()
	s.clientState = ClientTerminated
	s.connected = false
	id := s.localID
	s.mu.Unlock()
	return s.send(Frame{Header: Header{MsgType: MsgStop, SenderID: id}}, s.remoteAddr)
}

// Connected reports whether the session is currently connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// RecordFailure increments the transient-failure counter and reports
// whether max-failures has been exceeded.
func (s *Session) RecordFailure() (exceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.maxFailures > 0 && s.failures > s.maxFailures
}

func (s *Session) ResetFailures() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}
