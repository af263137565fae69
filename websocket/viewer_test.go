package websocket

import (
	"testing"
	"time"

	"github.com/aukilabs/geoquad/geo"
	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/geoquad/spatial"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type testViewerEnv struct {
	layer     *models.Layer
	viewerIDs *models.SequentialIDGenerator
	dial      func() *websocket.Conn
}

func newTestViewerEnv(t *testing.T, idleTimeout time.Duration) testViewerEnv {
	var layers models.LayerStore
	t.Cleanup(layers.Close)

	layer := models.NewLayer(models.LayerConfig{
		Name:          "poi",
		Index:         spatial.Config{MaxCountPerNode: 2, PickingEnabled: true},
		FrameDuration: time.Millisecond * 10,
	})
	require.NoError(t, layers.Add(layer))
	go layer.StartDispatchFrames()

	viewerIDs := &models.SequentialIDGenerator{}

	dial := NewTestingEnv(t, func() Handler {
		var h Handler = &ViewerHandler{
			ClientIdleTimeout: idleTimeout,
			Layers:            &layers,
			ViewerIDs:         viewerIDs,
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h)
		return h
	})

	return testViewerEnv{
		layer:     layer,
		viewerIDs: viewerIDs,
		dial:      dial,
	}
}

var worldCameraRequest = CameraRequest{
	West:  -180,
	South: -90,
	East:  180,
	North: 90,
}

func receiveTestError(t *testing.T, conn *websocket.Conn) (Msg, ErrorMsg) {
	msg := ReceiveTestMsg(t, conn, MsgTypeError)

	var res ErrorMsg
	require.NoError(t, msg.DataTo(&res))
	return msg, res
}

// receiveTestFrame waits for a frame matching match. Frames rendered before
// the camera was applied can still be in flight.
func receiveTestFrame(t *testing.T, conn *websocket.Conn, match func(FrameMsg) bool) FrameMsg {
	deadline := time.Now().Add(time.Second * 5)

	for time.Now().Before(deadline) {
		var frame FrameMsg
		require.NoError(t, ReceiveTestMsg(t, conn, MsgTypeFrame).DataTo(&frame))
		if match(frame) {
			return frame
		}
	}

	t.Fatal("no matching frame received")
	return FrameMsg{}
}

func TestViewerHandlerJoin(t *testing.T) {
	t.Run("join a layer", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})

		msg := ReceiveTestMsg(t, conn, MsgTypeJoinResponse)
		require.Equal(t, uint32(1), msg.RequestID)

		var res JoinResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, "poi", res.Layer)
		require.Equal(t, env.layer.ID, res.LayerID)
		require.Equal(t, uint32(1), res.ViewerID)
	})

	t.Run("join an unknown layer", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 2, JoinRequest{Layer: "roads"})

		msg, res := receiveTestError(t, conn)
		require.Equal(t, uint32(2), msg.RequestID)
		require.Equal(t, models.ErrTypeUnknownLayer, res.Type)
	})

	t.Run("join with an invalid camera", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 3, JoinRequest{
			Layer:  "poi",
			Camera: &CameraRequest{West: 10, South: 0, East: -10, North: 10},
		})

		_, res := receiveTestError(t, conn)
		require.Equal(t, models.ErrTypeBadViewport, res.Type)
	})

	t.Run("join without data", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 4, nil)

		_, res := receiveTestError(t, conn)
		require.Equal(t, ErrTypeBadRequest, res.Type)
	})

	t.Run("viewers get distinct ids", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		connA := env.dial()
		connB := env.dial()

		var resA, resB JoinResponse
		SendTestMsg(t, connA, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
		require.NoError(t, ReceiveTestMsg(t, connA, MsgTypeJoinResponse).DataTo(&resA))

		SendTestMsg(t, connB, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
		require.NoError(t, ReceiveTestMsg(t, connB, MsgTypeJoinResponse).DataTo(&resB))

		require.NotEqual(t, resA.ViewerID, resB.ViewerID)
	})
}

func TestViewerHandlerFrames(t *testing.T) {
	env := newTestViewerEnv(t, time.Minute)

	a := spatial.NewEntity(geo.LonLat{Lon: 10, Lat: 10})
	b := spatial.NewEntity(geo.LonLat{Lon: -10, Lat: 10})
	c := spatial.NewEntity(geo.LonLat{Lon: 0, Lat: 89})
	require.NoError(t, env.layer.AddEntities(a, b, c))

	conn := env.dial()
	SendTestMsg(t, conn, MsgTypeJoinRequest, 1, JoinRequest{
		Layer:  "poi",
		Camera: &worldCameraRequest,
	})
	ReceiveTestMsg(t, conn, MsgTypeJoinResponse)

	frame := receiveTestFrame(t, conn, func(f FrameMsg) bool {
		return len(f.Collections) == 3
	})
	require.NotZero(t, frame.Frame)

	require.Empty(t, frame.Collections[0].Tree)
	require.Empty(t, frame.Collections[0].EntityIDs)

	require.Equal(t, geo.TreeMercator.String(), frame.Collections[1].Tree)
	require.Equal(t, "0/0/0", frame.Collections[1].Node)
	require.ElementsMatch(t, []string{a.ID.String(), b.ID.String()}, frame.Collections[1].EntityIDs)

	require.Equal(t, geo.TreeNorth.String(), frame.Collections[2].Tree)
	require.Equal(t, []string{c.ID.String()}, frame.Collections[2].EntityIDs)
	require.True(t, frame.Collections[2].PickingEnabled)

	t.Run("changed collections are sent", func(t *testing.T) {
		d := spatial.NewEntity(geo.LonLat{Lon: 20, Lat: -20})
		require.NoError(t, env.layer.AddEntities(d))

		var next FrameMsg
		require.NoError(t, ReceiveTestMsg(t, conn, MsgTypeFrame).DataTo(&next))
		require.Greater(t, next.Frame, frame.Frame)
		require.False(t, sameCollections(frame.Collections, next.Collections))
	})
}

func TestViewerHandlerCamera(t *testing.T) {
	t.Run("set the camera", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
		ReceiveTestMsg(t, conn, MsgTypeJoinResponse)

		req := worldCameraRequest
		req.Zoom = 3
		SendTestMsg(t, conn, MsgTypeCameraRequest, 2, req)

		msg := ReceiveTestMsg(t, conn, MsgTypeCameraResponse)
		require.Equal(t, uint32(2), msg.RequestID)

		var res CameraResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, uint32(3), res.Zoom)
		require.Equal(t, req.Camera(), env.layer.Camera())
	})

	t.Run("set the camera without joining", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeCameraRequest, 1, worldCameraRequest)

		_, res := receiveTestError(t, conn)
		require.Equal(t, ErrTypeNotJoined, res.Type)
	})

	t.Run("set an invalid camera", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
		ReceiveTestMsg(t, conn, MsgTypeJoinResponse)

		SendTestMsg(t, conn, MsgTypeCameraRequest, 2, CameraRequest{
			West:  -10,
			South: -10,
			East:  10,
			North: 10,
			Zoom:  geo.MaxZoom + 1,
		})

		msg, res := receiveTestError(t, conn)
		require.Equal(t, uint32(2), msg.RequestID)
		require.Equal(t, models.ErrTypeBadViewport, res.Type)
	})
}

func TestViewerHandlerSharedCamera(t *testing.T) {
	env := newTestViewerEnv(t, time.Minute)

	a := spatial.NewEntity(geo.LonLat{Lon: 10, Lat: 10})
	polar := spatial.NewEntity(geo.LonLat{Lon: 0, Lat: 89})
	require.NoError(t, env.layer.AddEntities(a, polar))

	hasTree := func(f FrameMsg, tree geo.Tree) bool {
		for _, c := range f.Collections {
			if c.Tree == tree.String() {
				return true
			}
		}
		return false
	}

	connA := env.dial()
	SendTestMsg(t, connA, MsgTypeJoinRequest, 1, JoinRequest{
		Layer:  "poi",
		Camera: &worldCameraRequest,
	})
	ReceiveTestMsg(t, connA, MsgTypeJoinResponse)
	receiveTestFrame(t, connA, func(f FrameMsg) bool {
		return hasTree(f, geo.TreeNorth)
	})

	connB := env.dial()
	SendTestMsg(t, connB, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
	ReceiveTestMsg(t, connB, MsgTypeJoinResponse)

	equator := CameraRequest{West: -20, South: -10, East: 20, North: 10}
	SendTestMsg(t, connB, MsgTypeCameraRequest, 2, equator)
	ReceiveTestMsg(t, connB, MsgTypeCameraResponse)
	require.Equal(t, equator.Camera(), env.layer.Camera())

	// The last camera set on a layer is rendered for every viewer.
	for _, conn := range []*websocket.Conn{connA, connB} {
		frame := receiveTestFrame(t, conn, func(f FrameMsg) bool {
			return !hasTree(f, geo.TreeNorth)
		})
		require.Len(t, frame.Collections, 2)
		require.Equal(t, []string{a.ID.String()}, frame.Collections[1].EntityIDs)
	}
}

func TestViewerHandlerLeave(t *testing.T) {
	t.Run("leave a layer", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
		ReceiveTestMsg(t, conn, MsgTypeJoinResponse)

		SendTestMsg(t, conn, MsgTypeLeaveRequest, 2, nil)
		msg := ReceiveTestMsg(t, conn, MsgTypeLeaveResponse)
		require.Equal(t, uint32(2), msg.RequestID)
		require.Equal(t, uint32(1), env.viewerIDs.New())
	})

	t.Run("leave without joining", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeLeaveRequest, 1, nil)

		_, res := receiveTestError(t, conn)
		require.Equal(t, ErrTypeNotJoined, res.Type)
	})

	t.Run("disconnect releases the viewer id", func(t *testing.T) {
		env := newTestViewerEnv(t, time.Minute)
		conn := env.dial()

		SendTestMsg(t, conn, MsgTypeJoinRequest, 1, JoinRequest{Layer: "poi"})
		ReceiveTestMsg(t, conn, MsgTypeJoinResponse)
		conn.Close()

		require.Eventually(t, func() bool {
			id := env.viewerIDs.New()
			env.viewerIDs.Reuse(id)
			return id == 1
		}, time.Second*5, time.Millisecond*10)
	})
}

func TestViewerHandlerUnsupportedMsg(t *testing.T) {
	env := newTestViewerEnv(t, time.Minute)
	conn := env.dial()

	SendTestMsg(t, conn, MsgType("entity_add_request"), 7, nil)

	msg, res := receiveTestError(t, conn)
	require.Equal(t, uint32(7), msg.RequestID)
	require.Equal(t, ErrTypeBadRequest, res.Type)
}

func TestViewerHandlerIdleTimeout(t *testing.T) {
	env := newTestViewerEnv(t, time.Millisecond*50)
	conn := env.dial()

	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	_, _, err := NewReceiver(conn)()
	require.Error(t, err)
}
