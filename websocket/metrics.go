package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel = "error_type"
	msgTypeLabel = "msg_type"
	layerLabel   = "layer"
)

var (
	wsConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	})

	wsReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_msgs",
		Help: "The number of messages received from WebSocket connections.",
	}, []string{
		msgTypeLabel,
	})

	wsReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from WebSocket connections.",
	}, []string{
		msgTypeLabel,
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occured while receiving a websocket message.",
	}, []string{
		errTypeLabel,
	})

	wsSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_msgs",
		Help: "The number of messages sent to WebSocket connections.",
	}, []string{
		msgTypeLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	}, []string{
		msgTypeLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket message.",
	}, []string{
		errTypeLabel,
		msgTypeLabel,
	})

	wsMsgLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ws_msg_latency",
		Help: "The time to process a WebSocket msg.",
	}, []string{
		msgTypeLabel,
	})

	wsDroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_dropped_frames",
		Help: "The number of frames dropped because a viewer send queue was full.",
	}, []string{
		layerLabel,
	})
)

var knownMsgTypes = map[MsgType]struct{}{
	MsgTypeJoinRequest:    {},
	MsgTypeJoinResponse:   {},
	MsgTypeCameraRequest:  {},
	MsgTypeCameraResponse: {},
	MsgTypeLeaveRequest:   {},
	MsgTypeLeaveResponse:  {},
	MsgTypeFrame:          {},
	MsgTypeError:          {},
}

// msgTypeLabelValue keeps client chosen message types out of the label set.
func msgTypeLabelValue(msg Msg) string {
	if _, ok := knownMsgTypes[msg.Type]; !ok {
		return "unknown"
	}
	return string(msg.Type)
}

func instrumentDroppedFrame(layer string) {
	wsDroppedFrames.WithLabelValues(layer).Inc()
}

// HandlerWithMetrics wraps h and reports connection and message metrics.
func HandlerWithMetrics(h Handler) Handler {
	return &handlerWithMetrics{
		Handler: h,
	}
}

type handlerWithMetrics struct {
	Handler
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	wsConnectedClients.Inc()
	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandleJoin(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleCamera(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandleCamera(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleLeave(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg, func() error {
		return h.Handler.HandleLeave(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedClients.Dec()
	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					errTypeLabel: errors.Type(err),
				}).
				Inc()
		} else {
			wsReceivedMsgs.
				With(prometheus.Labels{
					msgTypeLabel: msgTypeLabelValue(msg),
				}).
				Inc()
		}

		if n != 0 {
			wsReceivedBytes.
				With(prometheus.Labels{
					msgTypeLabel: msgTypeLabelValue(msg),
				}).
				Add(float64(n))
		}

		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msgTypeLabelValue(msg)

		n, err := sender(msg)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					msgTypeLabel: msgType,
					errTypeLabel: errors.Type(err),
				}).
				Inc()
		}

		if n != 0 {
			wsSentMsgs.
				With(prometheus.Labels{
					msgTypeLabel: msgType,
				}).
				Inc()
			wsSentBytes.
				With(prometheus.Labels{
					msgTypeLabel: msgType,
				}).
				Add(float64(n))
		}

		return n, err
	}
}

func (h *handlerWithMetrics) measureLatency(msg Msg, f func() error) error {
	start := time.Now()
	err := f()

	wsMsgLatency.With(prometheus.Labels{
		msgTypeLabel: msgTypeLabelValue(msg),
	}).Observe(time.Since(start).Seconds())

	return err
}
