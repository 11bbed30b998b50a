// peersim publishes synthetic peer location samples to the mesh so a
// running trackerd can be exercised without real devices. Each peer
// random-walks around the configured centre and reports through a
// randomly chosen signal type, with occasional silent cycles.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/alecthomas/kong"
	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/perimeter-tracker/core"
	"github.com/signalsfoundry/perimeter-tracker/internal/logging"
	"github.com/signalsfoundry/perimeter-tracker/internal/mesh"
	"github.com/signalsfoundry/perimeter-tracker/model"
	"github.com/signalsfoundry/perimeter-tracker/timectrl"
)

var cli struct {
	NATSURL   string        `name:"nats-url" env:"PERIMETER_NATS_URL" default:"nats://127.0.0.1:4222" help:"Mesh (NATS) server URL."`
	Peers     int           `name:"peers" default:"4" help:"Number of simulated peers."`
	Tick      time.Duration `name:"tick" default:"1s" help:"Sample publish interval."`
	Duration  time.Duration `name:"duration" default:"0" help:"How long to run; 0 runs forever."`
	CenterLat float64       `name:"center-lat" default:"19.4" help:"Walk centre latitude."`
	CenterLon float64       `name:"center-lon" default:"-99.1" help:"Walk centre longitude."`
	SpreadM   float64       `name:"spread-m" default:"250" help:"Maximum walk radius in metres."`
	StepM     float64       `name:"step-m" default:"15" help:"Maximum step per tick in metres."`
	Seed      int64         `name:"seed" default:"0" help:"RNG seed; 0 uses the clock."`
}

type walker struct {
	id   string
	name string
	// offset from centre in metres, east/north
	x, y float64
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("peersim"),
		kong.Description("Publishes synthetic peer walks to the mesh for development and load testing."),
	)

	log := logging.NewFromEnv()
	ctx := context.Background()

	seed := cli.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	conn, err := mesh.Dial(ctx, cli.NATSURL, 30*time.Second, log)
	kctx.FatalIfErrorf(err)
	defer conn.Close()

	centre := model.LatLon{Lat: cli.CenterLat, Lon: cli.CenterLon}
	peers := make([]*walker, cli.Peers)
	for i := range peers {
		peers[i] = &walker{
			id:   fmt.Sprintf("peer-%02d", i+1),
			name: fmt.Sprintf("Walker %d", i+1),
			x:    (rng.Float64()*2 - 1) * cli.SpreadM,
			y:    (rng.Float64()*2 - 1) * cli.SpreadM,
		}
		publishRoster(conn, peers[i])
	}
	log.Info(ctx, "simulating peers",
		logging.Int("peers", cli.Peers),
		logging.Any("tick", cli.Tick),
		logging.Float("spread_m", cli.SpreadM))

	controller := timectrl.New(time.Now().UTC(), cli.Tick)
	controller.AddListener(func(now time.Time) {
		for _, p := range peers {
			p.step(rng, cli.StepM, cli.SpreadM)
			sample := p.sample(rng, centre, now)
			data, err := json.Marshal(sample)
			if err != nil {
				log.Warn(ctx, "marshal sample", logging.Err(err))
				continue
			}
			if err := conn.Publish(mesh.SubjectSamplesPrefix+p.id, data); err != nil {
				log.Warn(ctx, "publish sample", logging.String("peer", p.id), logging.Err(err))
			}
		}
	})

	done := controller.Start(cli.Duration)
	<-done
	_ = conn.Flush()
	log.Info(ctx, "simulation complete")
}

func publishRoster(conn *nats.Conn, p *walker) {
	update := mesh.RosterUpdate{PeerID: p.id, Nickname: p.name}
	if data, err := json.Marshal(update); err == nil {
		_ = conn.Publish(mesh.SubjectRoster, data)
	}
}

// step random-walks the peer, reflecting at the spread boundary.
func (w *walker) step(rng *rand.Rand, stepM, spreadM float64) {
	w.x += (rng.Float64()*2 - 1) * stepM
	w.y += (rng.Float64()*2 - 1) * stepM
	if r := math.Hypot(w.x, w.y); r > spreadM && r > 0 {
		scale := spreadM / r
		w.x *= scale
		w.y *= scale
	}
}

// sample reports the walker's position through one signal type:
// mostly precise ranging, sometimes a satellite fix or a bare
// distance ring, occasionally nothing at all.
func (w *walker) sample(rng *rand.Rand, centre model.LatLon, now time.Time) model.Sample {
	s := model.Sample{PeerID: w.id, ObservedAt: now}

	lat := centre.Lat + w.y/core.EarthRadiusM*180.0/math.Pi
	lon := centre.Lon + w.x/(core.EarthRadiusM*math.Cos(centre.Lat*math.Pi/180.0))*180.0/math.Pi

	switch roll := rng.Float64(); {
	case roll < 0.55:
		s.Signals = []model.Signal{{Source: model.SourcePrecise, Lat: lat, Lon: lon}}
	case roll < 0.75:
		s.Signals = []model.Signal{{Source: model.SourceRanged, DistanceM: math.Hypot(w.x, w.y)}}
	case roll < 0.92:
		s.Signals = []model.Signal{{Source: model.SourceSatellite, Lat: lat, Lon: lon}}
	default:
		// silent cycle: no usable signal this tick
	}
	return s
}
