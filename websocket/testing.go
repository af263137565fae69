package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv starts a WebSocket server running the handlers returned by
// newHandler and returns a function that dials a new client to it.
func NewTestingEnv(t *testing.T, newHandler func() Handler) func() *websocket.Conn {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	ctx, cancel := context.WithCancel(context.Background())

	server := httptest.NewServer(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(ctx, conn, handler)
		},
	})

	var conns []*websocket.Conn

	t.Cleanup(func() {
		for _, conn := range conns {
			conn.Close()
		}
		cancel()
		server.Close()

		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
	})

	return func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set(ClientIDHeader, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}
		conns = append(conns, conn)
		return conn
	}
}

// SendTestMsg sends a message of the given type to conn.
func SendTestMsg(t *testing.T, conn *websocket.Conn, msgType MsgType, requestID uint32, data any) {
	msg, err := NewMsg(msgType, requestID, data)
	if err != nil {
		t.Fatalf("error creating message: %s", err)
	}

	if _, err := NewSender(conn)(msg); err != nil {
		t.Fatalf("error sending message: %s", err)
	}
}

// ReceiveTestMsg waits for the next message of the given type, skipping the
// others.
func ReceiveTestMsg(t *testing.T, conn *websocket.Conn, msgType MsgType) Msg {
	receive := NewReceiver(conn)
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))
	defer conn.SetReadDeadline(time.Time{})

	for {
		msg, _, err := receive()
		if err != nil {
			t.Fatalf("error receiving %s message: %s", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}
