package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 512
	receiveChanSize = 64
)

// Handler represents a viewer connection handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to join a layer and receive its frames.
	HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a viewport update.
	HandleCamera(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to stop receiving the frames of the joined layer.
	HandleLeave(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to write outgoing messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the layer store.
	GetLayers() *models.LayerStore

	// The currently joined layer.
	CurrentLayer() *models.Layer

	// The viewer id given when joining a layer.
	ViewerID() uint32

	GetClientID() string
}

// ResponseSender sends messages to the connected client.
type ResponseSender interface {
	// Send queues msg, waiting for room in the send queue.
	Send(msg Msg)

	// TrySend queues msg if there is room in the send queue and reports
	// whether it did.
	TrySend(msg Msg) bool
}

// Handle runs h on conn until the client disconnects or ctx is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The viewer handler.
	Handler Handler

	done           <-chan struct{}
	sendChan       chan Msg
	sender         Sender
	receiveChan    chan Msg
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.done = ctx.Done()
	h.disconnectChan = make(chan error, 1)

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	err := h.serve(ctx)
	h.handleDisconnect(err)
	cancel()
	wg.Wait()
}

// serve handles incoming messages and returns the reason of the
// disconnection.
func (h *handler) serve(ctx context.Context) error {
	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender{
		send:    h.send,
		trySend: h.trySend,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idleTimer.C:
			return errors.New("idle connection").WithTag("duration", idleTimeout)

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				return errors.New("handling message failed").Wrap(err)
			}

		case err := <-h.disconnectChan:
			return err
		}
	}
}

func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	case <-h.done:
	}
}

func (h *handler) trySend(msg Msg) bool {
	select {
	case h.sendChan <- msg:
		return true
	default:
		return false
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	var err error

	switch msg.Type {
	case MsgTypeJoinRequest:
		err = h.Handler.HandleJoin(ctx, responder, msg)

	case MsgTypeCameraRequest:
		err = h.Handler.HandleCamera(ctx, responder, msg)

	case MsgTypeLeaveRequest:
		err = h.Handler.HandleLeave(ctx, responder, msg)

	default:
		err = errors.New("unsupported message type").
			WithType(ErrTypeBadRequest).
			WithTag("msg_type", msg.TypeString())
	}

	if err == nil || !isClientError(err) {
		return err
	}

	// Client mistakes are reported without closing the connection.
	logs.WithTag("client_id", h.Handler.GetClientID()).
		WithTag("msg_type", msg.TypeString()).
		Debug(err)

	res, encErr := NewMsg(MsgTypeError, msg.RequestID, ErrorMsg{
		Type:    errors.Type(err),
		Message: err.Error(),
	})
	if encErr != nil {
		return encErr
	}
	responder.Send(res)
	return nil
}

func isClientError(err error) bool {
	return errors.IsType(err, ErrTypeBadRequest) ||
		errors.IsType(err, ErrTypeNotJoined) ||
		errors.IsType(err, models.ErrTypeBadViewport) ||
		errors.IsType(err, models.ErrTypeUnknownLayer)
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send    func(Msg)
	trySend func(Msg) bool
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}

func (r responseSender) TrySend(msg Msg) bool {
	return r.trySend(msg)
}
