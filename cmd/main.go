package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/stagesim/featureflag"
	"github.com/aukilabs/stagesim/geom"
	stagehttp "github.com/aukilabs/stagesim/http"
	"github.com/aukilabs/stagesim/models"
	"github.com/aukilabs/stagesim/modules"
	"github.com/aukilabs/stagesim/modules/fiducial"
	"github.com/aukilabs/stagesim/modules/laser"
	"github.com/aukilabs/stagesim/modules/ranger"
	stagews "github.com/aukilabs/stagesim/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The stagesim version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "stagesim_info",
		Help:        "Stagesim information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	AdminAddr     string        `cli:""        env:"STAGESIM_ADMIN_ADDR"     help:"Admin listening address."`
	LogLevel      string        `cli:""        env:"STAGESIM_LOG_LEVEL"      help:"Log level (debug|info|warning|error)."`
	LogIndent     bool          `cli:""        env:"STAGESIM_LOG_INDENT"     help:"Indent logs."`
	Resolution    float64       `cli:""        env:"STAGESIM_RESOLUTION"     help:"The number of matrix cells per meter."`
	WorldWidth    float64       `cli:""        env:"STAGESIM_WORLD_WIDTH"    help:"The world width, in meters."`
	WorldHeight   float64       `cli:""        env:"STAGESIM_WORLD_HEIGHT"   help:"The world height, in meters."`
	FrameDuration time.Duration `cli:",hidden" env:"STAGESIM_FRAME_DURATION" help:"The simulated duration of a step."`
	FeatureFlags  []string      `cli:",hidden" env:"STAGESIM_FEATURE_FLAGS"  help:"Comma separated feature flags"`
	Version       bool          `cli:""        env:"-"                       help:"Show version."`
	Help          bool          `cli:""        env:"-"                       help:"Show help."`
}

func main() {
	conf := config{
		AdminAddr:     ":18190",
		LogLevel:      logs.InfoLevel.String(),
		Resolution:    10,
		WorldWidth:    16,
		WorldHeight:   16,
		FrameDuration: time.Millisecond * 100,
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a stagesim world.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	featureFlags := featureflag.New(conf.FeatureFlags)

	world, err := models.NewWorld(models.WorldConfig{
		Resolution:    conf.Resolution,
		Width:         conf.WorldWidth,
		Height:        conf.WorldHeight,
		FrameDuration: conf.FrameDuration,
		FeatureFlags:  featureFlags,
	})
	if err != nil {
		logs.Fatal(errors.New("creating world failed").Wrap(err))
	}
	defer world.Close()

	if err := populateWorld(world, conf, featureFlags); err != nil {
		logs.Fatal(errors.New("populating world failed").Wrap(err))
	}

	go world.StartDispatchFrames(ctx)

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", stagehttp.HandleHealthCheck)
	admin.HandleFunc("/ready", stagehttp.HandleReadyCheck(world))
	admin.HandleFunc("/version", stagehttp.HandleVersion(version, world))
	admin.HandleFunc("/world", stagehttp.HandleWorld(world))
	admin.HandleFunc("/world/raytrace", stagehttp.HandleRaytrace(world))
	admin.Handle("/world/stream", stagews.Server(ctx, world))
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("world_uuid", world.UUID).
		WithTag("resolution", conf.Resolution).
		WithTag("feature_flags", featureFlags.Names()).
		WithTag("matrix", world.MatrixInfo()).
		Info("starting stagesim")

	stagehttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.AdminAddr, Handler: metrics.HTTPHandler(&admin,
			stagehttp.MetricsPathFormatter)},
	)
}

// populateWorld builds a walled arena with a few obstacles, fiducial markers
// and a robot carrying the sensors that are not disabled.
func populateWorld(w *models.World, conf config, featureFlags featureflag.FeatureFlag) error {
	hw := conf.WorldWidth/2 - 0.5
	hh := conf.WorldHeight/2 - 0.5

	arena := &models.Model{
		Name:           "arena",
		Polygons:       []geom.Polygon{geom.Rect(geom.Point{}, 2*hw, 2*hh)},
		ObstacleReturn: true,
		LaserReturn:    models.LaserVisible,
		RangerReturn:   true,
	}
	if _, err := w.AddModel(arena); err != nil {
		return err
	}

	for i, p := range []geom.Pose{
		{X: hw / 2, Y: hh / 2, A: math.Pi / 6},
		{X: -hw / 2, Y: hh / 3},
		{X: 0, Y: -hh / 2, A: math.Pi / 4},
	} {
		_, err := w.AddModel(&models.Model{
			Name:           fmt.Sprintf("box-%d", i),
			Pose:           p,
			Polygons:       []geom.Polygon{geom.Rect(geom.Point{}, 1, 1)},
			ObstacleReturn: true,
			LaserReturn:    models.LaserVisible,
			RangerReturn:   true,
			FiducialReturn: i + 1,
		})
		if err != nil {
			return err
		}
	}

	beacon := &models.Model{
		Name:        "beacon",
		Pose:        geom.Pose{X: hw - 1, Y: 0},
		Polygons:    []geom.Polygon{geom.Rect(geom.Point{}, 0.3, 0.3)},
		LaserReturn: models.LaserBright,
	}
	if _, err := w.AddModel(beacon); err != nil {
		return err
	}

	robotID, err := w.AddModel(&models.Model{
		Name:           "robot",
		Polygons:       []geom.Polygon{geom.Rect(geom.Point{}, 0.5, 0.4)},
		ObstacleReturn: true,
		LaserReturn:    models.LaserVisible,
		RangerReturn:   true,
	})
	if err != nil {
		return err
	}

	var sensors []modules.Module
	featureFlags.IfNotSet(featureflag.FlagDisableLaser, func() {
		sensors = append(sensors, laser.New(laser.DefaultConfig()))
	})
	featureFlags.IfNotSet(featureflag.FlagDisableRanger, func() {
		sensors = append(sensors, ranger.New(ranger.SonarRing(8, 0.25)...))
	})
	featureFlags.IfNotSet(featureflag.FlagDisableFiducial, func() {
		sensors = append(sensors, fiducial.New(fiducial.DefaultConfig()))
	})

	if _, err := modules.Attach(w, robotID, sensors...); err != nil {
		return err
	}

	// The robot turns on itself so that its sensors sweep the arena.
	w.Subscribe(func(ctx context.Context) error {
		return w.SetPose(robotID, geom.Pose{
			A: geom.NormalizeAngle(w.SimTime().Seconds() * math.Pi / 8),
		})
	})
	return nil
}

func validateConfig(conf config) error {
	if conf.AdminAddr == "" {
		return errors.New("admin address is empty")
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	if conf.WorldWidth < 2 || conf.WorldHeight < 2 {
		return errors.New("world must be at least 2 meters wide and high").
			WithTag("width", conf.WorldWidth).
			WithTag("height", conf.WorldHeight)
	}

	return nil
}
