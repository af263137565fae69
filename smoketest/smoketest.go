package smoketest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	geohttp "github.com/aukilabs/geoquad/http"
	"github.com/aukilabs/geoquad/models"
	gwebsocket "github.com/aukilabs/geoquad/websocket"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	DefaultTimeout = time.Second * 10
)

// Request is the body of a smoke test request. Empty fields fall back to the
// handler options.
type Request struct {
	Endpoint string        `json:"endpoint,omitempty"`
	Layer    string        `json:"layer,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Results reports how a smoke test went.
type Results struct {
	Endpoint        string  `json:"endpoint"`
	Layer           string  `json:"layer"`
	Status          string  `json:"status"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

type Options struct {
	// The endpoint tested when a request does not specify one.
	Endpoint string

	// The layer used when a request does not specify one.
	Layer string

	UserAgent  string
	Transport  http.RoundTripper
	SendResult func(context.Context, Results) error
}

// HandleSmokeTest starts a smoke test in the background for each request and
// hands its results to opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request

		b, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "reading body failed", http.StatusInternalServerError)
			return
		}
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
		}

		runOpts := RunOptions{
			Endpoint:  firstNonEmpty(req.Endpoint, opts.Endpoint),
			Layer:     firstNonEmpty(req.Layer, opts.Layer),
			Timeout:   req.Timeout,
			UserAgent: opts.UserAgent,
			Transport: opts.Transport,
		}

		go func() {
			res, err := RunSmokeTest(ctx, runOpts)
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("endpoint", runOpts.Endpoint).
					WithTag("layer", runOpts.Layer).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusAccepted)
	}
}

type RunOptions struct {
	Endpoint  string
	Layer     string
	Timeout   time.Duration
	UserAgent string
	Transport http.RoundTripper
}

// RunSmokeTest adds a probe entity to a layer of the tested endpoint, waits
// for a viewer of that layer to receive it in a frame, then removes it.
func RunSmokeTest(ctx context.Context, opts RunOptions) (Results, error) {
	res := Results{
		Endpoint: opts.Endpoint,
		Layer:    opts.Layer,
		Status:   StatusFailed,
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	t := tester{
		RunOptions: opts,
		client:     &http.Client{Transport: opts.Transport},
	}

	latency, err := t.run(ctx)
	if err != nil {
		res.Error = err.Error()
		return res, errors.New("smoke test failed").
			WithTag("endpoint", opts.Endpoint).
			WithTag("layer", opts.Layer).
			Wrap(err)
	}

	res.Status = StatusSuccess
	res.LatencyMilliSec = float64(latency) / float64(time.Millisecond)
	return res, nil
}

type tester struct {
	RunOptions

	client *http.Client
}

func (t tester) run(ctx context.Context) (time.Duration, error) {
	conn, err := t.dialViewer()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := t.join(conn); err != nil {
		return 0, err
	}

	probe := uuid.New()
	start := time.Now()

	if err := t.addProbe(ctx, probe); err != nil {
		return 0, err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second*5)
		defer cancel()
		t.removeProbe(ctx, probe)
	}()

	if err := waitForEntity(conn, probe.String()); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (t tester) dialViewer() (*websocket.Conn, error) {
	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return nil, errors.New("parsing endpoint failed").Wrap(err)
	}

	origin := u.String()
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/viewer"

	config, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, errors.New("creating websocket config failed").Wrap(err)
	}
	if t.UserAgent != "" {
		config.Header.Set("User-Agent", t.UserAgent)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, errors.New("dialing viewer failed").
			WithTag("url", u.String()).
			Wrap(err)
	}
	return conn, nil
}

func (t tester) join(conn *websocket.Conn) error {
	msg, err := gwebsocket.NewMsg(gwebsocket.MsgTypeJoinRequest, 1, gwebsocket.JoinRequest{
		Layer: t.Layer,
	})
	if err != nil {
		return err
	}
	if _, err := gwebsocket.NewSender(conn)(msg); err != nil {
		return errors.New("sending join request failed").Wrap(err)
	}

	receive := gwebsocket.NewReceiver(conn)
	for {
		msg, _, err := receive()
		if err != nil {
			return errors.New("receiving join response failed").Wrap(err)
		}

		switch msg.Type {
		case gwebsocket.MsgTypeJoinResponse:
			return nil

		case gwebsocket.MsgTypeError:
			var res gwebsocket.ErrorMsg
			msg.DataTo(&res)
			return errors.New("joining layer failed").
				WithType(res.Type).
				WithTag("reason", res.Message)
		}
	}
}

// addProbe adds an entity exempt from the spatial trees so it shows up in
// the always collection whatever the layer camera is.
func (t tester) addProbe(ctx context.Context, id uuid.UUID) error {
	body, err := json.Marshal(geohttp.EntitiesRequest{
		Entities: []models.EntityData{{
			ID:             id.String(),
			LineTypeExempt: true,
		}},
	})
	if err != nil {
		return errors.New("encoding probe failed").Wrap(err)
	}

	return t.do(ctx, http.MethodPost, t.entitiesURL(), bytes.NewReader(body), http.StatusCreated)
}

func (t tester) removeProbe(ctx context.Context, id uuid.UUID) {
	if err := t.do(ctx, http.MethodDelete, t.entitiesURL()+"/"+id.String(), nil, http.StatusNoContent); err != nil {
		logs.WithTag("entity_id", id).
			Warn(errors.New("removing smoke test probe failed").Wrap(err))
	}
}

func (t tester) entitiesURL() string {
	return fmt.Sprintf("%s/layers/%s/entities",
		strings.TrimSuffix(t.Endpoint, "/"),
		url.PathEscape(t.Layer),
	)
}

func (t tester) do(ctx context.Context, method, url string, body io.Reader, status int) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.New("creating request failed").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return errors.New("request failed").
			WithTag("method", method).
			WithTag("url", url).
			Wrap(err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode != status {
		return errors.New("unexpected status code").
			WithTag("method", method).
			WithTag("url", url).
			WithTag("status_code", res.StatusCode)
	}
	return nil
}

func waitForEntity(conn *websocket.Conn, id string) error {
	receive := gwebsocket.NewReceiver(conn)

	for {
		msg, _, err := receive()
		if err != nil {
			return errors.New("waiting for probe frame failed").Wrap(err)
		}
		if msg.Type != gwebsocket.MsgTypeFrame {
			continue
		}

		var frame gwebsocket.FrameMsg
		if err := msg.DataTo(&frame); err != nil {
			return err
		}
		for _, c := range frame.Collections {
			for _, entityID := range c.EntityIDs {
				if entityID == id {
					return nil
				}
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
