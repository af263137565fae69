package websocket

import (
	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeBadRequest = "bad_request"
	ErrTypeNotJoined  = "not_joined"
)

type MsgType string

const (
	MsgTypeJoinRequest    MsgType = "join_request"
	MsgTypeJoinResponse   MsgType = "join_response"
	MsgTypeCameraRequest  MsgType = "camera_request"
	MsgTypeCameraResponse MsgType = "camera_response"
	MsgTypeLeaveRequest   MsgType = "leave_request"
	MsgTypeLeaveResponse  MsgType = "leave_response"
	MsgTypeFrame          MsgType = "frame"
	MsgTypeError          MsgType = "error"
)

// Msg is the envelope of every message exchanged with a viewer.
type Msg struct {
	Type      MsgType         `json:"type"`
	RequestID uint32          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg returns a message of the given type carrying data.
func NewMsg(t MsgType, requestID uint32, data any) (Msg, error) {
	msg := Msg{
		Type:      t,
		RequestID: requestID,
	}
	if data == nil {
		return msg, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return Msg{}, errors.New("encoding message data failed").
			WithTag("msg_type", t).
			Wrap(err)
	}
	msg.Data = b
	return msg, nil
}

// DataTo decodes the message data into v.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return errors.New("message has no data").
			WithType(ErrTypeBadRequest).
			WithTag("msg_type", m.Type)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeBadRequest).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

type JoinRequest struct {
	Layer  string         `json:"layer"`
	Camera *CameraRequest `json:"camera,omitempty"`
}

type JoinResponse struct {
	Layer    string `json:"layer"`
	LayerID  string `json:"layer_id"`
	ViewerID uint32 `json:"viewer_id"`
}

// CameraRequest sets the viewport of the joined layer.
type CameraRequest struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Zoom  uint32  `json:"zoom"`
}

func (r CameraRequest) Camera() models.Camera {
	return models.Camera{
		Bound: orb.Bound{
			Min: orb.Point{r.West, r.South},
			Max: orb.Point{r.East, r.North},
		},
		Zoom: r.Zoom,
	}
}

type CameraResponse struct {
	Zoom uint32 `json:"zoom"`
}

type FrameMsg struct {
	Frame       uint64          `json:"frame"`
	Collections []CollectionMsg `json:"collections"`
}

type CollectionMsg struct {
	Tree           string   `json:"tree,omitempty"`
	Node           string   `json:"node,omitempty"`
	PickingEnabled bool     `json:"picking_enabled"`
	EntityIDs      []string `json:"entity_ids"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func frameMsgFrom(f models.Frame) FrameMsg {
	msg := FrameMsg{
		Frame:       f.Number,
		Collections: make([]CollectionMsg, len(f.Collections)),
	}
	for i, c := range f.Collections {
		msg.Collections[i] = CollectionMsg{
			Tree:           c.Tree,
			Node:           c.Node,
			PickingEnabled: c.PickingEnabled,
			EntityIDs:      c.EntityIDs,
		}
	}
	return msg
}

// sameCollections reports whether two frames render the same collections.
func sameCollections(a, b []CollectionMsg) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i].Tree != b[i].Tree ||
			a[i].Node != b[i].Node ||
			a[i].PickingEnabled != b[i].PickingEnabled ||
			len(a[i].EntityIDs) != len(b[i].EntityIDs) {
			return false
		}
		for j := range a[i].EntityIDs {
			if a[i].EntityIDs[j] != b[i].EntityIDs[j] {
				return false
			}
		}
	}
	return true
}

// Sender sends a message and returns the number of bytes written.
type Sender func(Msg) (int, error)

// Receiver receives a message and returns the number of bytes read.
type Receiver func() (Msg, int, error)

// NewSender returns a sender writing JSON text frames to conn.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		b, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithTag("msg_type", msg.Type).
				Wrap(err)
		}

		if err := websocket.Message.Send(conn, string(b)); err != nil {
			return 0, err
		}
		return len(b), nil
	}
}

// NewReceiver returns a receiver reading JSON frames from conn.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var b []byte
		if err := websocket.Message.Receive(conn, &b); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(b, &msg); err != nil {
			return Msg{}, len(b), errors.New("decoding message failed").
				WithType(ErrTypeBadRequest).
				Wrap(err)
		}
		return msg, len(b), nil
	}
}
