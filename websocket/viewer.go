package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// ClientIDHeader is the request header a client can identify itself with.
const ClientIDHeader = "X-Client-Id"

// ViewerHandler streams the visible collections of a layer to a client. The
// client joins a layer, sends its viewport, then receives a frame message
// each time the rendered collections change.
type ViewerHandler struct {
	// The duration until an idle client is disconnected.
	ClientIdleTimeout time.Duration

	// The layers a client can join.
	Layers *models.LayerStore

	// The generator of the viewer ids, shared by every connection.
	ViewerIDs *models.SequentialIDGenerator

	conn     *websocket.Conn
	clientID string

	mutex       sync.Mutex
	layer       *models.Layer
	viewerID    uint32
	cancelFrame func()
	lastFrame   []CollectionMsg
}

func (h *ViewerHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	if req := conn.Request(); req != nil {
		h.clientID = req.Header.Get(ClientIDHeader)
	}
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *ViewerHandler) HandleJoin(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req JoinRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	layer, ok := h.Layers.Get(req.Layer)
	if !ok {
		return errors.New("layer not found").
			WithType(models.ErrTypeUnknownLayer).
			WithTag("layer", req.Layer)
	}

	if req.Camera != nil {
		if err := layer.SetCamera(req.Camera.Camera()); err != nil {
			return err
		}
	}

	h.leave()

	h.mutex.Lock()
	h.layer = layer
	h.viewerID = h.ViewerIDs.New()
	h.lastFrame = nil
	viewerID := h.viewerID
	h.mutex.Unlock()

	res, err := NewMsg(MsgTypeJoinResponse, msg.RequestID, JoinResponse{
		Layer:    layer.Name,
		LayerID:  layer.ID,
		ViewerID: viewerID,
	})
	if err != nil {
		return err
	}
	respond.Send(res)

	cancel := layer.HandleFrame(func(f models.Frame) {
		h.sendFrame(respond, layer, f)
	})

	h.mutex.Lock()
	h.cancelFrame = cancel
	h.mutex.Unlock()
	return nil
}

func (h *ViewerHandler) HandleCamera(ctx context.Context, respond ResponseSender, msg Msg) error {
	layer := h.CurrentLayer()
	if layer == nil {
		return errors.New("no layer joined").WithType(ErrTypeNotJoined)
	}

	var req CameraRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if err := layer.SetCamera(req.Camera()); err != nil {
		return err
	}

	res, err := NewMsg(MsgTypeCameraResponse, msg.RequestID, CameraResponse{
		Zoom: req.Zoom,
	})
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *ViewerHandler) HandleLeave(ctx context.Context, respond ResponseSender, msg Msg) error {
	if h.CurrentLayer() == nil {
		return errors.New("no layer joined").WithType(ErrTypeNotJoined)
	}
	h.leave()

	res, err := NewMsg(MsgTypeLeaveResponse, msg.RequestID, nil)
	if err != nil {
		return err
	}
	respond.Send(res)
	return nil
}

func (h *ViewerHandler) HandleDisconnect(err error) {
	h.leave()
}

func (h *ViewerHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *ViewerHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *ViewerHandler) Close() {
	h.leave()
}

func (h *ViewerHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *ViewerHandler) GetLayers() *models.LayerStore {
	return h.Layers
}

func (h *ViewerHandler) CurrentLayer() *models.Layer {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.layer
}

func (h *ViewerHandler) ViewerID() uint32 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.viewerID
}

func (h *ViewerHandler) GetClientID() string {
	return h.clientID
}

// sendFrame runs on the layer frame loop and must not block: frames that do
// not fit in the send queue are dropped.
func (h *ViewerHandler) sendFrame(respond ResponseSender, layer *models.Layer, f models.Frame) {
	frame := frameMsgFrom(f)

	h.mutex.Lock()
	if h.layer != layer ||
		(h.lastFrame != nil && sameCollections(h.lastFrame, frame.Collections)) {
		h.mutex.Unlock()
		return
	}
	h.mutex.Unlock()

	msg, err := NewMsg(MsgTypeFrame, 0, frame)
	if err != nil {
		return
	}

	if !respond.TrySend(msg) {
		instrumentDroppedFrame(layer.Name)
		return
	}

	h.mutex.Lock()
	if h.layer == layer {
		h.lastFrame = frame.Collections
	}
	h.mutex.Unlock()
}

func (h *ViewerHandler) leave() {
	h.mutex.Lock()
	if h.layer == nil {
		h.mutex.Unlock()
		return
	}

	cancel := h.cancelFrame
	viewerID := h.viewerID

	h.layer = nil
	h.viewerID = 0
	h.cancelFrame = nil
	h.lastFrame = nil
	h.mutex.Unlock()

	// The frame loop holds the layer handlers while calling sendFrame, which
	// locks h.mutex.
	if cancel != nil {
		cancel()
	}
	h.ViewerIDs.Reuse(viewerID)
}
