package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/signalsfoundry/perimeter-tracker/core"
	"github.com/signalsfoundry/perimeter-tracker/internal/api"
	"github.com/signalsfoundry/perimeter-tracker/internal/eventlog"
	"github.com/signalsfoundry/perimeter-tracker/internal/logging"
	"github.com/signalsfoundry/perimeter-tracker/internal/mesh"
	"github.com/signalsfoundry/perimeter-tracker/internal/monitor"
	"github.com/signalsfoundry/perimeter-tracker/internal/observability"
	"github.com/signalsfoundry/perimeter-tracker/internal/roster"
	"github.com/signalsfoundry/perimeter-tracker/model"
)

var cli struct {
	NATSURL      string        `name:"nats-url" env:"PERIMETER_NATS_URL" default:"nats://127.0.0.1:4222" help:"Mesh (NATS) server URL."`
	HTTPAddr     string        `name:"http-addr" env:"PERIMETER_HTTP_ADDR" default:":8080" help:"Address for the fence admin and query API."`
	MetricsAddr  string        `name:"metrics-addr" env:"PERIMETER_METRICS_ADDR" default:":9091" help:"Address for Prometheus /metrics."`
	MaxActive    int           `name:"max-active" env:"PERIMETER_MAX_ACTIVE" default:"5" help:"Active-fence monitoring capacity."`
	RecentWindow int           `name:"recent-window" env:"PERIMETER_RECENT_WINDOW" default:"100" help:"Size of the recent-events display window."`
	ObserverLat  float64       `name:"observer-lat" env:"PERIMETER_OBSERVER_LAT" default:"0" help:"Latitude of the observing device (radar-frame origin)."`
	ObserverLon  float64       `name:"observer-lon" env:"PERIMETER_OBSERVER_LON" default:"0" help:"Longitude of the observing device."`
	Workers      int           `name:"workers" default:"4" help:"Sample ingest worker count."`
	ConnectWait  time.Duration `name:"connect-wait" default:"30s" help:"How long to retry the initial mesh connection."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("trackerd"),
		kong.Description("Tracks group members against monitored fences and broadcasts entry/exit events over the mesh."),
	)

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	kctx.FatalIfErrorf(err)
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	collector, err := observability.NewCollector(nil)
	kctx.FatalIfErrorf(err)

	registry := core.NewFenceRegistry(cli.MaxActive)
	selector := core.NewSourceSelector(model.LatLon{Lat: cli.ObserverLat, Lon: cli.ObserverLon})
	tracker := core.NewContainmentTracker(registry, collector)
	log.Info(ctx, "registry ready",
		logging.Int("max_active", cli.MaxActive),
		logging.Float("observer_lat", cli.ObserverLat),
		logging.Float("observer_lon", cli.ObserverLon))

	conn, err := mesh.Dial(ctx, cli.NATSURL, cli.ConnectWait, log)
	kctx.FatalIfErrorf(err)
	publisher := mesh.NewNATSPublisher(conn)
	listener := mesh.NewListener(conn, log)

	coordinator := monitor.New(monitor.Config{
		Registry:  registry,
		Selector:  selector,
		Tracker:   tracker,
		Log:       eventlog.New(cli.RecentWindow),
		Roster:    roster.New(),
		Publisher: publisher,
		Logger:    log,
		Metrics:   collector,
	})
	defer coordinator.Close()

	samples, cancelSamples, err := listener.Samples(256)
	kctx.FatalIfErrorf(err)
	defer cancelSamples()

	rosterUpdates, cancelRoster, err := listener.RosterUpdates()
	kctx.FatalIfErrorf(err)
	defer cancelRoster()

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go coordinator.Run(runCtx, samples, cli.Workers)
	go coordinator.WatchRoster(runCtx, rosterUpdates)
	log.Info(ctx, "mesh ingest running",
		logging.String("url", cli.NATSURL), logging.Int("workers", cli.Workers))

	metricsSrv := serveMetrics(cli.MetricsAddr, collector, log)

	apiSrv := api.New(registry, coordinator, log)
	go func() {
		if err := apiSrv.Start(cli.HTTPAddr); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "HTTP API exited", logging.Err(err))
		}
	}()

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down")
	stopWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	_ = publisher.Close()
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
