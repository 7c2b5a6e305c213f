// Package ws exposes the orchestrator to clients over websockets. Each
// connection becomes one ClientChannel; inbound JSON messages are mapped to
// orchestrator calls.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	orchestration "github.com/koscakluka/ema-group/core"
	"github.com/koscakluka/ema-group/core/inputs"
	"github.com/koscakluka/ema-group/core/payloads"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultSendQueueSize  = 256
	defaultReadLimitBytes = 8 << 20
	defaultRatePerSecond  = 5
	defaultRateBurst      = 10
)

var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrNotJoined    = errors.New("join the group first")
	ErrServerClosed = errors.New("server is shutting down")
	ErrNoRecipients = errors.New("target group has no members")
)

// Orchestrator is the part of the orchestrator the transport drives.
type Orchestrator interface {
	Connect(orchestration.ClientChannel) error
	Disconnect(clientID string)
	Join(groupID, clientID string) error
	Leave(groupID, clientID string) error
	HandleBatchInput(ctx context.Context, groupID, senderID string, batch inputs.BatchInput) (orchestration.SubmitResult, error)
	Interrupt(groupID, clientID string) bool
	Forward(sourceGroupID, targetGroupID string, payload payloads.Payload) int
	Router() *orchestration.BroadcastRouter
}

type Config struct {
	SendQueueSize  int
	ReadLimitBytes int64
	// RatePerSecond and RateBurst bound text inputs and interrupts per
	// connection.
	RatePerSecond float64
	RateBurst     int
	CheckOrigin   func(*http.Request) bool
}

type Server struct {
	orchestrator Orchestrator
	config       Config
	upgrader     websocket.Upgrader
	connections  sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*Channel
	closing  bool
}

func NewServer(orchestrator Orchestrator, cfg Config) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.ReadLimitBytes <= 0 {
		cfg.ReadLimitBytes = defaultReadLimitBytes
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = defaultRatePerSecond
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		orchestrator: orchestrator,
		config:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		channels: map[string]*Channel{},
	}
}

// Handler wraps the server with HTTP instrumentation.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s, "client websocket")
}

// Shutdown stops every open connection, letting each flush what is already
// queued, and waits for the read loops to hand their clients back to the
// orchestrator. Connections arriving afterwards are refused.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, ch := range s.channels {
		ch.MarkDead()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.connections.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("websocket connections still open: %w", ctx.Err())
	}
}

func (s *Server) track(ch *Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.channels[ch.ID()] = ch
	s.connections.Add(1)
	return true
}

func (s *Server) untrack(ch *Channel) {
	s.mu.Lock()
	delete(s.channels, ch.ID())
	s.mu.Unlock()
	s.connections.Done()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	ch := newChannel(uuid.NewString(), conn, s.config.SendQueueSize)
	if !s.track(ch) {
		refuse(conn, ErrServerClosed)
		return
	}
	defer s.untrack(ch)

	if err := s.orchestrator.Connect(ch); err != nil {
		refuse(conn, err)
		return
	}

	logger.InfoContext(r.Context(), "client connected", "client_id", ch.ID(), "remote_addr", r.RemoteAddr)
	go ch.writeLoop()
	s.readLoop(context.WithoutCancel(r.Context()), ch)
	logger.InfoContext(r.Context(), "client disconnected", "client_id", ch.ID())
}

func refuse(conn *websocket.Conn, err error) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
		time.Now().Add(writeWait))
	conn.Close()
}

func (s *Server) readLoop(ctx context.Context, ch *Channel) {
	defer func() {
		ch.MarkDead()
		s.orchestrator.Disconnect(ch.ID())
	}()

	conn := ch.conn
	conn.SetReadLimit(s.config.ReadLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	session := &session{
		channel: ch,
		limiter: rate.NewLimiter(rate.Limit(s.config.RatePerSecond), s.config.RateBurst),
		joined:  map[string]struct{}{},
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.WarnContext(ctx, "client connection lost", "client_id", ch.ID(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			session.reject("", fmt.Errorf("invalid message: %w", err))
			continue
		}
		if err := s.handle(ctx, session, msg); err != nil {
			session.reject(msg.GroupID, err)
		}
	}
}

// session is the per-connection state of the read loop.
type session struct {
	channel *Channel
	limiter *rate.Limiter
	joined  map[string]struct{}
}

func (s *session) reject(groupID string, err error) {
	payload := payloads.NewError(err.Error())
	payload.GroupID = groupID
	if sendErr := s.channel.Send(payload); sendErr != nil {
		logger.Debug("failed to report error to client", "client_id", s.channel.ID(), "error", sendErr)
	}
}

func (s *session) member(groupID string) bool {
	_, ok := s.joined[groupID]
	return ok
}

func (s *Server) handle(ctx context.Context, session *session, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	clientID := session.channel.ID()
	switch msg.Type {
	case MessageHeartbeat:
		return s.orchestrator.Router().SendToOne(clientID, payloads.NewControl(payloads.ControlHeartbeatAck))

	case MessageJoinGroup:
		if err := s.orchestrator.Join(msg.GroupID, clientID); err != nil {
			return err
		}
		session.joined[msg.GroupID] = struct{}{}
		return nil

	case MessageLeaveGroup:
		delete(session.joined, msg.GroupID)
		return s.orchestrator.Leave(msg.GroupID, clientID)

	case MessageTextInput:
		if !session.member(msg.GroupID) {
			return ErrNotJoined
		}
		if !session.limiter.Allow() {
			return ErrRateLimited
		}
		return s.submit(ctx, msg, clientID)

	case MessageInterrupt:
		if !session.member(msg.GroupID) {
			return ErrNotJoined
		}
		if !session.limiter.Allow() {
			return ErrRateLimited
		}
		s.orchestrator.Interrupt(msg.GroupID, clientID)
		return nil

	case MessageForward:
		if !session.member(msg.GroupID) {
			return ErrNotJoined
		}
		if !session.limiter.Allow() {
			return ErrRateLimited
		}
		relay := payloads.NewFullText(msg.Text, msg.FromName, "")
		if s.orchestrator.Forward(msg.GroupID, msg.TargetGroupID, relay) == 0 {
			return ErrNoRecipients
		}
		return nil
	}
	return nil
}

func (s *Server) submit(ctx context.Context, msg Message, clientID string) error {
	ctx, span := tracer.Start(ctx, "receive text input", trace.WithAttributes(
		attribute.String("group.id", msg.GroupID),
		attribute.String("client.id", clientID),
	))
	defer span.End()

	batch, err := msg.Batch()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if _, err := s.orchestrator.HandleBatchInput(ctx, msg.GroupID, clientID, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
