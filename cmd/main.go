package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/geoquad/featureflag"
	geohttp "github.com/aukilabs/geoquad/http"
	"github.com/aukilabs/geoquad/models"
	"github.com/aukilabs/geoquad/smoketest"
	"github.com/aukilabs/geoquad/spatial"
	gwebsocket "github.com/aukilabs/geoquad/websocket"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The geoquad version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "geoquad_info",
		Help:        "Geoquad information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"GEOQUAD_ADDR"                 help:"Listening address for API and viewer connections."`
	AdminAddr          string        `cli:""        env:"GEOQUAD_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"GEOQUAD_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	LogLevel           string        `cli:""        env:"GEOQUAD_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"GEOQUAD_LOG_INDENT"           help:"Indent logs."`
	Layers             []string      `cli:""        env:"GEOQUAD_LAYERS"               help:"Comma separated names of the layers to serve."`
	Index              indexConfig   `cli:""        env:"-"                            help:"Spatial index configuration."`
	FrameDuration      time.Duration `cli:",hidden" env:"GEOQUAD_FRAME_DURATION"       help:"The duration of a layer frame."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"GEOQUAD_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle viewer will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"GEOQUAD_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	ShutdownTimeout    time.Duration `cli:",hidden" env:"GEOQUAD_SHUTDOWN_TIMEOUT"     help:"The time given to the servers to shut down gracefully."`
	MaxBatchSize       int           `cli:",hidden" env:"GEOQUAD_MAX_BATCH_SIZE"       help:"The maximum number of entities accepted by a single request."`
	Events             eventsConfig  `cli:",hidden" env:"-"                            help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"GEOQUAD_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                            help:"Show version."`
	Help               bool          `cli:""        env:"-"                            help:"Show help."`
}

type indexConfig struct {
	MaxCountPerNode int     `cli:""        env:"GEOQUAD_INDEX_MAX_COUNT_PER_NODE" help:"The number of entities a node holds before it splits."`
	MaxDepth        int     `cli:""        env:"GEOQUAD_INDEX_MAX_DEPTH"          help:"The deepest zoom a node can be split to."`
	Async           bool    `cli:",hidden" env:"GEOQUAD_INDEX_ASYNC"              help:"Build node collections from the frame scheduler."`
	PickingEnabled  bool    `cli:",hidden" env:"GEOQUAD_INDEX_PICKING_ENABLED"    help:"Enable picking on rendered collections."`
	ScaleNear       float64 `cli:",hidden" env:"GEOQUAD_INDEX_SCALE_NEAR"         help:"The camera distance up to which entities are drawn at full scale."`
	ScaleFar        float64 `cli:",hidden" env:"GEOQUAD_INDEX_SCALE_FAR"          help:"The camera distance at which entities are drawn at zero scale."`
	ScaleFarHidden  float64 `cli:",hidden" env:"GEOQUAD_INDEX_SCALE_FAR_HIDDEN"   help:"The camera distance beyond which entities are hidden."`
}

func (c indexConfig) spatialConfig(name string) spatial.Config {
	return spatial.Config{
		Name:            name,
		MaxCountPerNode: c.MaxCountPerNode,
		MaxDepth:        c.MaxDepth,
		ScaleByDistance: spatial.ScaleByDistance{
			Near:         c.ScaleNear,
			Far:          c.ScaleFar,
			FarInvisible: c.ScaleFarHidden,
		},
		Async:          c.Async,
		PickingEnabled: c.PickingEnabled,
	}
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"GEOQUAD_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"GEOQUAD_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"GEOQUAD_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"GEOQUAD_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	defaults := spatial.DefaultConfig()

	conf := config{
		Addr:           ":4000",
		AdminAddr:      ":18190",
		PublicEndpoint: "http://localhost:4000",
		LogLevel:       logs.InfoLevel.String(),
		Layers:         []string{"default"},
		Index: indexConfig{
			MaxCountPerNode: defaults.MaxCountPerNode,
			MaxDepth:        defaults.MaxDepth,
			Async:           defaults.Async,
			PickingEnabled:  defaults.PickingEnabled,
			ScaleNear:       defaults.ScaleByDistance.Near,
			ScaleFar:        defaults.ScaleByDistance.Far,
			ScaleFarHidden:  defaults.ScaleByDistance.FarInvisible,
		},
		FrameDuration:      models.DefaultFrameDuration,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		ShutdownTimeout:    time.Second * 10,
		MaxBatchSize:       geohttp.DefaultMaxBatchSize,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	// A missing .env file is fine: the environment and flags still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logs.Warn(errors.New("loading .env file failed").Wrap(err))
	}

	cli.Register().
		Help("Starts a geoquad server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "geoquad",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	if unknown := featureFlags.Unknown(); len(unknown) != 0 {
		logs.WithTag("flags", unknown).Info("ignoring unknown feature flags")
	}

	var layers models.LayerStore
	defer layers.Close()

	var wg sync.WaitGroup
	for _, name := range layerNames(conf.Layers) {
		layerConfig := models.LayerConfig{
			Name:          name,
			Index:         conf.Index.spatialConfig(name),
			FrameDuration: conf.FrameDuration,
		}
		featureFlags.ApplyLayerConfig(&layerConfig)

		layer := models.NewLayer(layerConfig)
		if err := layers.Add(layer); err != nil {
			logs.Fatal(errors.New("adding layer failed").Wrap(err))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			layer.StartDispatchFrames()
		}()
	}

	var ready atomic.Bool
	readinessCheck := ready.Load

	var service http.ServeMux

	geohttp.LayerAPI{
		Layers:       &layers,
		MaxBatchSize: conf.MaxBatchSize,
	}.Register(&service)

	service.Handle("/health", geohttp.HandleWithCORS(http.HandlerFunc(geohttp.HandleHealthCheck)))
	service.Handle("/ready", geohttp.HandleWithCORS(http.HandlerFunc(geohttp.HandleReadyCheck(readinessCheck))))
	service.Handle("/version", geohttp.HandleWithCORS(http.HandlerFunc(geohttp.HandleVersion(version))))

	var viewerIDs models.SequentialIDGenerator

	service.Handle("/viewer", websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h gwebsocket.Handler = &gwebsocket.ViewerHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				Layers:            &layers,
				ViewerIDs:         &viewerIDs,
			}
			h = gwebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
			h = gwebsocket.HandlerWithMetrics(h)
			defer h.Close()

			gwebsocket.Handle(ctx, conn, h)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", geohttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", geohttp.HandleReadyCheck(readinessCheck))
	admin.HandleFunc("POST /smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint:  conf.PublicEndpoint,
		Layer:     layerNames(conf.Layers)[0],
		UserAgent: fmt.Sprintf("geoquad %s", version),
		Transport: transport,
		SendResult: func(ctx context.Context, res smoketest.Results) error {
			logs.WithTag("endpoint", res.Endpoint).
				WithTag("layer", res.Layer).
				WithTag("status", res.Status).
				WithTag("latency_ms", res.LatencyMilliSec).
				WithTag("error", res.Error).
				Info("smoke test finished")
			return nil
		},
	}))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("addr", conf.Addr).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("layers", layerNames(conf.Layers)).
		Info("starting geoquad server")

	ready.Store(true)
	geohttp.ListenAndServe(ctx, conf.ShutdownTimeout,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			geohttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
	ready.Store(false)

	layers.Close()
	wg.Wait()
}

// layerNames returns the trimmed, non empty names in order of appearance,
// without duplicates.
func layerNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	res := make([]string, 0, len(names))

	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		res = append(res, n)
	}
	return res
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(layerNames(conf.Layers)) == 0 {
		return errors.New("at least one layer is required")
	}

	if err := conf.Index.spatialConfig("").Validate(); err != nil {
		return errors.New("invalid index configuration").Wrap(err)
	}

	if conf.MaxBatchSize <= 0 {
		return errors.New("max batch size must be positive").
			WithTag("max_batch_size", conf.MaxBatchSize)
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	return nil
}
