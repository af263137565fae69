package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	layerTag    = "layer"
	viewerIDTag = "viewer_id"
)

// HandlerWithLogs wraps h and logs connections, layer joins and a periodic
// summary of the received messages.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	tagsMutex sync.Mutex
	layer     string
	viewerID  uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)
	h.originalRequest = conn.Request()

	entry := logs.WithClientID(h.GetClientID())
	if h.originalRequest != nil {
		entry = entry.WithTag("user_agent", h.originalRequest.UserAgent())
	}
	entry.Info("new client is connected")
}

func (h *handlerWithLogs) HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleJoin(ctx, respond, msg); err != nil {
		var req JoinRequest
		msg.DataTo(&req)

		logs.WithClientID(h.GetClientID()).
			WithTag(layerTag, req.Layer).
			WithTag("request_id", msg.RequestID).
			WithTag("reason", errors.Type(err)).
			Info("viewer failed to join a layer")
		return err
	}

	layer := h.CurrentLayer()
	if layer == nil {
		return nil
	}

	h.tagsMutex.Lock()
	h.layer = layer.Name
	h.viewerID = h.ViewerID()
	h.tagsMutex.Unlock()

	h.entry().
		WithTag("layer_id", layer.ID).
		Info("viewer joined a layer")
	return nil
}

func (h *handlerWithLogs) HandleLeave(ctx context.Context, respond ResponseSender, msg Msg) error {
	if err := h.Handler.HandleLeave(ctx, respond, msg); err != nil {
		return err
	}

	h.entry().Info("viewer left a layer")

	h.tagsMutex.Lock()
	h.layer = ""
	h.viewerID = 0
	h.tagsMutex.Unlock()
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	entry := h.entry()
	h.Handler.HandleDisconnect(err)

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			h.entry().Warn(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			h.entry().
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			h.entry().
				WithTag("msg_type", msgType).
				Warn(errors.New("sending message failed").Wrap(err))
		} else if err == nil && msg.Type != MsgTypeFrame {
			h.entry().
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) entry() logs.Entry {
	h.tagsMutex.Lock()
	defer h.tagsMutex.Unlock()

	return logs.WithClientID(h.GetClientID()).
		WithTag(layerTag, h.layer).
		WithTag(viewerIDTag, h.viewerID)
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := h.entry().WithTag("time_interval", h.summaryInterval)
	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
