package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/JZwlth/iotauth/pkg/log"
	"github.com/JZwlth/iotauth/pkg/metrics"
	"github.com/JZwlth/iotauth/pkg/transport"
	"github.com/JZwlth/iotauth/pkg/wire"
)

// clientConn is the part of a reactor connection the handler uses.
// Implemented by *transport.ServerConn.
type clientConn interface {
	ConnID() string
	RemoteAddr() net.Addr
	Send(data []byte) error
	Post(fn func()) bool
	Go(fn func(ctx context.Context))
}

var _ clientConn = (*transport.ServerConn)(nil)

// inflight is the exchange a connection is waiting on.
type inflight struct {
	session *Session
	cancel  context.CancelFunc
}

// connHandler serves one client connection. Every method except
// runExchange runs on the reactor's event loop.
type connHandler struct {
	svc     *EntityService
	conn    clientConn
	limiter *rate.Limiter

	state    HandlerState
	exchange *inflight

	// Frames received while an exchange is in flight, in arrival order.
	pending [][]byte
}

func newConnHandler(svc *EntityService, conn clientConn) *connHandler {
	h := &connHandler{
		svc:   svc,
		conn:  conn,
		state: HandlerIdle,
	}
	if r := svc.config.SessionRate; r > 0 {
		burst := svc.config.SessionBurst
		if burst == 0 {
			burst = max(1, int(r))
		}
		h.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
	return h
}

// HandleData implements transport.ConnHandler.
func (h *connHandler) HandleData(data []byte) {
	if h.state == HandlerClosed {
		return
	}
	if h.exchange != nil {
		if len(h.pending) >= h.svc.config.MaxPending {
			h.drop(data, metrics.DropBusy, ErrBusy)
			return
		}
		h.pending = append(h.pending, data)
		return
	}
	h.process(data)
}

// HandleClose implements transport.ConnHandler.
func (h *connHandler) HandleClose(err error) {
	if ex := h.exchange; ex != nil {
		h.exchange = nil
		ex.cancel()
		h.svc.logger.Info("client closed during exchange",
			"conn", h.conn.ConnID(),
			"exchange", ex.session.ExchangeID,
			"client", ex.session.ClientID)
		h.svc.emit(h.exchangeEvent(EventExchangeFailed, ex.session, ErrAbandoned))
	}
	h.pending = nil

	reason := ""
	if err != nil {
		reason = err.Error()
	}
	h.setState(HandlerClosed, reason)
}

// process dispatches one client frame.
func (h *connHandler) process(data []byte) {
	h.setState(HandlerAwaitClientFrame, "")

	frame, err := wire.ParseClientFrame(data)
	if err != nil {
		h.drop(data, metrics.DropMalformed, err)
		h.setState(HandlerIdle, "")
		return
	}

	switch frame.Type {
	case wire.MsgClientSessionRequest:
		h.svc.config.Metrics.FrameReceived(frame.Type.String())
		h.startExchange(frame)

	case wire.MsgClientPing:
		h.svc.config.Metrics.FrameReceived(frame.Type.String())
		h.logMessage(frame, nil, "")
		h.respond([]byte(PingReply))
		h.setState(HandlerIdle, "")

	default:
		h.svc.logger.Debug("ignoring client frame", "conn", h.conn.ConnID(), "type", frame.Type)
		h.drop(data, metrics.DropUnknown, fmt.Errorf("%w: unknown client frame type %s", wire.ErrMalformedFrame, frame.Type))
		h.setState(HandlerIdle, "")
	}
}

func (h *connHandler) startExchange(frame *wire.ClientFrame) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.drop(nil, metrics.DropRateLimited, ErrRateLimited)
		h.setState(HandlerIdle, "")
		return
	}

	clientID := frame.ClientID()
	identity := h.svc.config.Identity.ForClient(clientID)
	session := &Session{
		ExchangeID:   h.svc.config.NewExchangeID(),
		ConnectionID: h.conn.ConnID(),
		ClientID:     clientID,
		Purpose:      identity.Purpose,
	}
	h.logMessage(frame, &clientID, identity.Purpose)

	ctx, cancel := context.WithCancel(context.Background())
	h.exchange = &inflight{session: session, cancel: cancel}
	h.setState(HandlerAwaitAuthExchange, session.ExchangeID)
	h.svc.emit(h.exchangeEvent(EventExchangeStarted, session, nil))
	h.svc.config.Metrics.ExchangeStarted()

	req := transport.ExchangeRequest{
		ID:           session.ExchangeID,
		ConnectionID: session.ConnectionID,
		ClientID:     clientID,
		Identity:     identity,
	}
	h.conn.Go(func(srvCtx context.Context) {
		stop := context.AfterFunc(srvCtx, cancel)
		defer stop()
		defer cancel()
		h.runExchange(ctx, session, req)
	})
}

// runExchange runs off the event loop. It works on its own copy of the
// session and hands the outcome back through Post.
func (h *connHandler) runExchange(ctx context.Context, started *Session, req transport.ExchangeRequest) {
	start := time.Now()
	cfg := &h.svc.config
	session := *started

	resp, err := cfg.Auth.Exchange(ctx, req)
	if err == nil {
		session.Response = resp
	}

	var reply []byte
	if err == nil && cfg.OnSessionKey != nil {
		reply, err = cfg.OnSessionKey(ctx, &session)
		if err != nil {
			err = fmt.Errorf("deliver session key: %w", err)
		}
	}
	if err != nil && ctx.Err() == nil && cfg.OnExchangeFailure != nil {
		reply = cfg.OnExchangeFailure(&session, err)
	}

	cfg.Metrics.ExchangeFinished(outcome(ctx, err), time.Since(start))

	// Dropped when the connection is gone; HandleClose already reported it.
	h.conn.Post(func() { h.finish(&session, reply, err) })
}

// finish runs on the event loop once the exchange is over.
func (h *connHandler) finish(session *Session, reply []byte, err error) {
	if h.exchange == nil || h.exchange.session.ExchangeID != session.ExchangeID {
		return
	}
	h.exchange = nil

	if err != nil {
		h.svc.logger.Warn("session key exchange failed",
			"conn", session.ConnectionID,
			"exchange", session.ExchangeID,
			"client", session.ClientID,
			"error", err)
		h.svc.emit(h.exchangeEvent(EventExchangeFailed, session, err))
	} else {
		h.svc.logger.Info("session key exchange succeeded",
			"conn", session.ConnectionID,
			"exchange", session.ExchangeID,
			"client", session.ClientID,
			"purpose", session.Purpose)
		h.svc.emit(h.exchangeEvent(EventExchangeSucceeded, session, nil))
	}

	if reply != nil {
		h.respond(reply)
	}
	h.setState(HandlerIdle, "")
	h.drain()
}

// drain processes queued frames until another exchange starts.
func (h *connHandler) drain() {
	for len(h.pending) > 0 && h.exchange == nil && h.state != HandlerClosed {
		data := h.pending[0]
		h.pending[0] = nil
		h.pending = h.pending[1:]
		h.process(data)
	}
	if len(h.pending) == 0 {
		h.pending = nil
	}
}

func (h *connHandler) respond(data []byte) {
	h.setState(HandlerRespondToClient, "")
	if err := h.conn.Send(data); err != nil {
		h.svc.logger.Debug("reply not queued", "conn", h.conn.ConnID(), "error", err)
	}
}

func (h *connHandler) drop(data []byte, reason string, err error) {
	h.svc.config.Metrics.FrameDropped(reason)
	h.svc.logger.Debug("client frame dropped",
		"conn", h.conn.ConnID(),
		"reason", reason,
		"size", len(data),
		"error", err)
	h.logError(reason, err)
	h.svc.emit(Event{
		Type:         EventFrameDropped,
		ConnectionID: h.conn.ConnID(),
		Error:        err,
	})
}

func (h *connHandler) exchangeEvent(t EventType, s *Session, err error) Event {
	return Event{
		Type:         t,
		ConnectionID: s.ConnectionID,
		ExchangeID:   s.ExchangeID,
		ClientID:     s.ClientID,
		Purpose:      s.Purpose,
		Response:     s.Response,
		Error:        err,
	}
}

func (h *connHandler) setState(state HandlerState, reason string) {
	if state == h.state {
		return
	}
	old := h.state
	h.state = state

	if pl := h.svc.config.ProtocolLogger; pl != nil {
		ev := h.baseEvent(log.CategoryState)
		ev.StateChange = &log.StateChangeEvent{
			Entity:   log.StateEntityHandler,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		}
		pl.Log(ev)
	}
}

func (h *connHandler) logMessage(frame *wire.ClientFrame, clientID *uint32, purpose string) {
	pl := h.svc.config.ProtocolLogger
	if pl == nil {
		return
	}
	ev := h.baseEvent(log.CategoryMessage)
	ev.Direction = log.DirectionIn
	ev.ClientID = clientID
	ev.Message = &log.MessageEvent{
		Type:        frame.Type,
		PayloadSize: len(frame.Payload),
		Purpose:     purpose,
	}
	pl.Log(ev)
}

func (h *connHandler) logError(op string, err error) {
	pl := h.svc.config.ProtocolLogger
	if pl == nil || err == nil {
		return
	}
	ev := h.baseEvent(log.CategoryError)
	ev.Error = &log.ErrorEventData{
		Layer:   log.LayerService,
		Message: err.Error(),
		Context: op,
	}
	pl.Log(ev)
}

func (h *connHandler) baseEvent(cat log.Category) log.Event {
	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: h.conn.ConnID(),
		Layer:        log.LayerService,
		Category:     cat,
		LocalRole:    log.RoleEntityServer,
	}
	if addr := h.conn.RemoteAddr(); addr != nil {
		ev.RemoteAddr = addr.String()
	}
	if h.exchange != nil {
		ev.ExchangeID = h.exchange.session.ExchangeID
	}
	return ev
}

// outcome classifies a finished exchange for metrics.
func outcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSucceeded
	case ctx.Err() != nil:
		return metrics.OutcomeAbandoned
	case errors.Is(err, transport.ErrHandshakeRejected):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}
