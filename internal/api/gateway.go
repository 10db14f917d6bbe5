package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/gate"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/registry"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	maxFrame     = 1 << 20
)

// ErrSessionClosed is returned by Send once a session has ended.
var ErrSessionClosed = errors.New("solver session closed")

// ErrSlowConsumer is returned by Send when a session's buffer is full.
var ErrSlowConsumer = errors.New("solver session send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Solvers are not browsers; origin checks do not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

func newSessionID() string { return uuid.NewString() }

// session is one solver websocket. It implements registry.Conn.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// solverID is set by the reader goroutine only.
	solverID string
}

var _ registry.Conn = (*session)(nil)

// Send queues msg for delivery without blocking on the network.
func (s *session) Send(ctx context.Context, msg protocol.ServerMessage) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrSlowConsumer
	}
}

// Close ends the session. It is safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Server) handleSolverSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := &session{
		id:     s.sessionIDs(),
		server: s,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	s.logger.Debug("solver session opened", "session_id", sess.id, "remote", conn.RemoteAddr().String())

	go sess.writePump()
	go func() {
		select {
		case <-r.Context().Done():
			sess.Close()
		case <-sess.done:
		}
	}()
	sess.readPump(r.Context())
}

// readPump decodes solver frames until the connection fails or the session
// is closed, then unregisters the solver.
func (s *session) readPump(ctx context.Context) {
	defer func() {
		s.Close()
		s.conn.Close()
		if s.solverID != "" && s.server.solvers.RemoveConn(s.solverID, s) {
			if failed := s.server.auctions.SolverDisconnected(s.solverID); len(failed) > 0 {
				s.server.logger.Warn("winner disconnected", "solver_id", s.solverID, "auctions", len(failed))
			}
		}
		s.server.logger.Debug("solver session closed", "session_id", s.id, "solver_id", s.solverID)
	}()

	s.conn.SetReadLimit(maxFrame)
	readWait := 2 * s.server.pingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.server.logger.Info("solver read failed", "session_id", s.id, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

		msg, err := protocol.DecodeSolverMessage(frame)
		if err != nil {
			s.reply(ctx, protocol.Error{Code: "MalformedMessage", Message: err.Error()})
			continue
		}
		s.dispatch(ctx, msg)
	}
}

func (s *session) dispatch(ctx context.Context, msg protocol.SolverMessage) {
	if reg, ok := msg.(protocol.Register); ok {
		s.register(ctx, reg)
		return
	}
	if s.solverID == "" {
		s.reply(ctx, protocol.Error{Code: "NotRegistered", Message: "register before sending " + string(msg.Type())})
		return
	}

	switch m := msg.(type) {
	case protocol.Heartbeat:
		if err := s.server.solvers.Heartbeat(s.solverID); err != nil {
			s.reply(ctx, protocol.Error{Code: "NotRegistered", Message: err.Error()})
		}
	case protocol.Quote:
		if err := s.server.auctions.SubmitQuote(ctx, s.solverID, m); err != nil {
			s.replyErr(ctx, m.IntentHash.String(), err)
		}
	case protocol.ExecutionResult:
		if err := s.server.auctions.ReportExecution(ctx, s.solverID, m); err != nil {
			s.replyErr(ctx, m.IntentHash.String(), err)
		}
	}
}

func (s *session) register(ctx context.Context, m protocol.Register) {
	if s.solverID != "" && s.solverID != m.ID {
		s.reply(ctx, protocol.Error{Code: "InvalidRegistration", Message: "session is already registered as " + s.solverID})
		return
	}
	caps := registry.Capabilities{SupportedVenues: m.SupportedVenues}
	if m.MaxExposure != "" {
		exposure, err := decimal.NewFromString(m.MaxExposure)
		if err != nil {
			s.reply(ctx, protocol.Error{Code: "InvalidRegistration", Message: "max_exposure is not a decimal"})
			return
		}
		caps.MaxExposure = exposure
	}
	if err := s.server.solvers.Register(m.ID, caps, s); err != nil {
		s.reply(ctx, protocol.Error{Code: "InvalidRegistration", Message: err.Error()})
		return
	}
	s.solverID = m.ID
	s.reply(ctx, protocol.Registered{SolverID: m.ID, SessionID: s.id})
}

func (s *session) replyErr(ctx context.Context, hash string, err error) {
	code := "Internal"
	var denial *gate.Denial
	if c, ok := auction.CodeOf(err); ok {
		code = string(c)
	} else if errors.As(err, &denial) {
		code = string(denial.Reason)
	} else {
		s.server.logger.Error("solver message failed", "solver_id", s.solverID, "error", err)
	}
	s.reply(ctx, protocol.Error{Code: code, Message: err.Error(), IntentHash: hash})
}

func (s *session) reply(ctx context.Context, msg protocol.ServerMessage) {
	if err := s.Send(ctx, msg); err != nil {
		s.server.logger.Warn("solver reply dropped", "session_id", s.id, "type", string(msg.Type()), "error", err)
	}
}

// writePump owns all writes to the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(s.server.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
