package websocket

import (
	"testing"

	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestNewMsg(t *testing.T) {
	t.Run("with data", func(t *testing.T) {
		msg, err := NewMsg(MsgTypeJoinResponse, 3, JoinResponse{Layer: "poi", ViewerID: 2})
		require.NoError(t, err)
		require.Equal(t, MsgTypeJoinResponse, msg.Type)
		require.Equal(t, uint32(3), msg.RequestID)
		require.JSONEq(t, `{"layer":"poi","layer_id":"","viewer_id":2}`, string(msg.Data))
	})

	t.Run("without data", func(t *testing.T) {
		msg, err := NewMsg(MsgTypeLeaveResponse, 1, nil)
		require.NoError(t, err)
		require.Empty(t, msg.Data)
	})
}

func TestMsgDataTo(t *testing.T) {
	t.Run("decode", func(t *testing.T) {
		msg := Msg{
			Type: MsgTypeCameraRequest,
			Data: []byte(`{"west":-10,"south":-5,"east":10,"north":5,"zoom":4}`),
		}

		var req CameraRequest
		require.NoError(t, msg.DataTo(&req))
		require.Equal(t, models.Camera{
			Bound: orb.Bound{Min: orb.Point{-10, -5}, Max: orb.Point{10, 5}},
			Zoom:  4,
		}, req.Camera())
	})

	t.Run("no data", func(t *testing.T) {
		var req JoinRequest
		err := Msg{Type: MsgTypeJoinRequest}.DataTo(&req)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBadRequest))
	})

	t.Run("malformed data", func(t *testing.T) {
		var req JoinRequest
		err := Msg{Type: MsgTypeJoinRequest, Data: []byte(`{"layer":`)}.DataTo(&req)
		require.Error(t, err)
		require.True(t, errors.IsType(err, ErrTypeBadRequest))
	})
}

func TestMsgTypeString(t *testing.T) {
	require.Equal(t, "unknown", Msg{}.TypeString())
	require.Equal(t, "frame", Msg{Type: MsgTypeFrame}.TypeString())
}

func TestSameCollections(t *testing.T) {
	a := []CollectionMsg{
		{EntityIDs: []string{"a"}},
		{Tree: "mercator", Node: "0/0/0", EntityIDs: []string{"b", "c"}},
	}

	t.Run("same", func(t *testing.T) {
		b := []CollectionMsg{
			{EntityIDs: []string{"a"}},
			{Tree: "mercator", Node: "0/0/0", EntityIDs: []string{"b", "c"}},
		}
		require.True(t, sameCollections(a, b))
	})

	t.Run("different entities", func(t *testing.T) {
		b := []CollectionMsg{
			{EntityIDs: []string{"a"}},
			{Tree: "mercator", Node: "0/0/0", EntityIDs: []string{"b", "d"}},
		}
		require.False(t, sameCollections(a, b))
	})

	t.Run("different nodes", func(t *testing.T) {
		b := []CollectionMsg{
			{EntityIDs: []string{"a"}},
			{Tree: "north", Node: "0/0/0", EntityIDs: []string{"b", "c"}},
		}
		require.False(t, sameCollections(a, b))
	})

	t.Run("different picking", func(t *testing.T) {
		b := []CollectionMsg{
			{EntityIDs: []string{"a"}, PickingEnabled: true},
			{Tree: "mercator", Node: "0/0/0", EntityIDs: []string{"b", "c"}},
		}
		require.False(t, sameCollections(a, b))
	})

	t.Run("different length", func(t *testing.T) {
		require.False(t, sameCollections(a, a[:1]))
	})
}

func TestFrameMsgFrom(t *testing.T) {
	f := models.Frame{
		Number: 7,
		Collections: []models.CollectionView{
			{EntityIDs: []string{}},
			{Tree: "south", Node: "1/0/1", PickingEnabled: true, EntityIDs: []string{"x"}},
		},
	}

	msg := frameMsgFrom(f)
	require.Equal(t, uint64(7), msg.Frame)
	require.Equal(t, []CollectionMsg{
		{EntityIDs: []string{}},
		{Tree: "south", Node: "1/0/1", PickingEnabled: true, EntityIDs: []string{"x"}},
	}, msg.Collections)
}
