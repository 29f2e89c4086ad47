package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/state"
	"github.com/google/uuid"
)

type Options struct {
	QueueSize               int
	FanoutWorkers           int
	FanoutParallelThreshold int
	RateLimit               string
	MaxMessageLength        int
}

// OptionsFromConfig maps the relay section of the configuration.
func OptionsFromConfig(cfg config.RelayConfig) Options {
	return Options{
		QueueSize:               cfg.QueueSize,
		FanoutWorkers:           cfg.FanoutWorkers,
		FanoutParallelThreshold: cfg.FanoutParallelThreshold,
		RateLimit:               cfg.RateLimit,
		MaxMessageLength:        cfg.MaxMessageLength,
	}
}

type inboundKind int

const (
	kindMessage inboundKind = iota
	kindDisconnect
)

type inbound struct {
	kind   inboundKind
	ctx    context.Context
	connID uuid.UUID
	raw    []byte
}

// eventContext is what a handler sees for one inbound event.
type eventContext struct {
	ctx     context.Context
	conn    state.Connection
	event   string
	payload json.RawMessage
	logger  *slog.Logger
}

type handlerFunc func(ec *eventContext) error

// EventRouter is the single dispatcher of the relay. Transports enqueue
// events; one goroutine applies them to the state manager in arrival order
// and fans out the results.
type EventRouter struct {
	logger   *slog.Logger
	manager  state.Manager
	opts     Options
	handlers map[string]handlerFunc
	decoder  *payloadDecoder
	limiter  *rateLimiter
	now      func() time.Time

	queue    chan inbound
	done     chan struct{}
	stopOnce sync.Once
}

func NewEventRouter(logger *slog.Logger, manager state.Manager, opts Options) (*EventRouter, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	limiter, err := newRateLimiter(opts.RateLimit)
	if err != nil {
		return nil, err
	}
	r := &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		manager:  manager,
		opts:     opts,
		handlers: make(map[string]handlerFunc),
		decoder:  newPayloadDecoder(),
		limiter:  limiter,
		now:      time.Now,
		queue:    make(chan inbound, opts.QueueSize),
		done:     make(chan struct{}),
	}
	r.registerCoreHandlers()
	return r, nil
}

func (r *EventRouter) registerCoreHandlers() {
	r.register(EventUserJoin, r.onIdentify)
	r.register(EventJoinRoom, r.onJoinRoom)
	r.register(EventLeaveRoom, r.onLeaveRoom)
	r.register(EventSendMessage, r.onSendMessage)
	r.register(EventPrivateMessage, r.onPrivateMessage)
	r.register(EventTyping, r.onTyping)
	r.register(EventMessageRead, r.onMessageRead)
	r.register(EventReactMessage, r.onReact)
	r.register(EventSendFile, r.onSendFile)
	r.logger.Info("Registered event handlers", slog.Int("count", len(r.handlers)))
}

func (r *EventRouter) register(event string, fn handlerFunc) {
	if _, exists := r.handlers[event]; exists {
		panic("event handler already registered: " + event)
	}
	r.handlers[event] = fn
}

// Run processes queued events until ctx is cancelled.
func (r *EventRouter) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.done) })
	r.logger.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Dispatcher stopped", slog.Int("pending", len(r.queue)))
			return ctx.Err()
		case in := <-r.queue:
			r.dispatch(in)
		}
	}
}

// Done is closed once Run has returned.
func (r *EventRouter) Done() <-chan struct{} {
	return r.done
}

// HandleMessage queues a raw client frame. It matches transport.MessageHandler.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	r.enqueue(inbound{kind: kindMessage, ctx: ctx, connID: connID, raw: msg})
}

// HandleDisconnect queues the removal of a closed connection. It matches
// transport.OnCloseHandler.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID, err error) {
	r.enqueue(inbound{kind: kindDisconnect, ctx: context.Background(), connID: connID})
}

func (r *EventRouter) enqueue(in inbound) {
	select {
	case r.queue <- in:
	case <-r.done:
		r.logger.Debug("Dispatcher stopped; dropping event", slog.String("connID", in.connID.String()))
	}
}

func (r *EventRouter) dispatch(in inbound) {
	if in.kind == kindDisconnect {
		r.onDisconnect(in.connID)
		return
	}

	var clientMsg ClientMessage
	if err := json.Unmarshal(in.raw, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.String("connID", in.connID.String()), slog.Any("error", err))
		r.rejectConn(in.connID, "", invalid("malformed message"))
		return
	}

	handler, ok := r.handlers[clientMsg.Event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.String("connID", in.connID.String()))
		r.rejectConn(in.connID, clientMsg.Event, invalid("unknown event '%s'", clientMsg.Event))
		return
	}

	conn, ok := r.manager.GetConnection(in.connID)
	if !ok {
		r.logger.Debug("Event from unknown connection dropped", slog.String("event", clientMsg.Event), slog.String("connID", in.connID.String()))
		return
	}

	if r.limiter != nil && !r.limiter.Allow(conn.ID, r.now()) {
		r.logger.Warn("Rate limit exceeded", slog.String("event", clientMsg.Event), slog.String("connID", conn.ID.String()))
		r.reject(conn.Peer, clientMsg.Event, fmt.Errorf("rate limit for event '%s' exceeded", clientMsg.Event))
		return
	}

	ec := &eventContext{
		ctx:     in.ctx,
		conn:    conn,
		event:   clientMsg.Event,
		payload: clientMsg.Payload,
		logger:  r.logger.With(slog.String("event", clientMsg.Event), slog.String("connID", conn.ID.String())),
	}
	ec.logger.Debug("Dispatching event")
	if err := handler(ec); err != nil {
		r.handleError(ec, err)
	}
}

// handleError applies the relay's error policy: missing targets are dropped
// quietly, bad input is reflected to the sender, anything else is logged.
func (r *EventRouter) handleError(ec *eventContext, err error) {
	switch {
	case state.IsNotFound(err):
		ec.logger.Debug("Event target not found; dropped", slog.Any("error", err))
	case errors.Is(err, ErrInvalidInput):
		ec.logger.Warn("Rejected invalid event", slog.Any("error", err))
		r.reject(ec.conn.Peer, ec.event, err)
	case errors.Is(err, state.ErrNotIdentified):
		ec.logger.Warn("Event requires an identified connection")
		r.reject(ec.conn.Peer, ec.event, err)
	default:
		ec.logger.Error("Event handling failed", slog.Any("error", err))
	}
}

func (r *EventRouter) reject(peer state.Peer, event string, err error) {
	r.emitTo(peer, EventMessageRejected, rejection{Event: event, Reason: err.Error()})
}

func (r *EventRouter) rejectConn(connID uuid.UUID, event string, err error) {
	if conn, ok := r.manager.GetConnection(connID); ok {
		r.reject(conn.Peer, event, err)
	}
}
