// Command meshnoded runs an in-process demo mesh: a configurable number of
// simulated nodes sharing one internal/radiosim medium, one sink node
// running the subscriber role and the rest running the publisher role
// (§4.7). It exists purely to exercise the stack end to end; the CLI
// flag/wiring glue here intentionally carries none of Subnet, Pubsub,
// Publisher or Subscriber's own logic.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshnet/internal/clock"
	"meshnet/internal/config"
	"meshnet/internal/logging"
	"meshnet/internal/metrics"
	"meshnet/internal/ports"
	"meshnet/internal/publisher"
	"meshnet/internal/pubsub"
	"meshnet/internal/radiosim"
	"meshnet/internal/subnet"
	"meshnet/internal/subscriber"
	"meshnet/internal/taskloop"
	"meshnet/internal/wire"
)

const (
	pubsubChannel uint16 = 14159
	peerChannel   uint16 = 26535
)

func main() {
	nodes := flag.Int("nodes", 3, "number of simulated nodes to run (node 0 is the sink)")
	duration := flag.Duration("duration", 30*time.Second, "how long to run the demo before exiting")
	interval := flag.Duration("sub-interval", 15*time.Second, "sampling interval the sink subscribes with")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshnoded: load config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshnoded: init logging:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runDemo(ctx, *nodes, *duration, *interval, cfg, log)
}

type node struct {
	self wire.Addr
	conn *subnet.Conn
	sub  *subscriber.Role
	pub  *publisher.Role
}

// runDemo wires and drives the simulated mesh on a single shared
// taskloop -- the demo's whole in-process mesh shares one cooperative task,
// matching the single-goroutine serialization internal/radiosim's
// synchronous delivery already assumes (§5).
func runDemo(ctx context.Context, numNodes int, duration, subInterval time.Duration, cfg *config.Config, log *logging.Logger) {
	loop := taskloop.New(256)
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go loop.Run(loopCtx)

	medium := radiosim.NewMedium()
	newTimer := func() ports.Timer { return loop.NewTimer() }
	clk := clock.System{}
	m := &metrics.Counters{}

	nodes := make([]*node, numNodes)
	for i := 0; i < numNodes; i++ {
		self := wire.AddrFromUint64(uint64(i + 1))
		nodes[i] = buildNode(medium, self, *cfg, clk, log, m, newTimer, i == 0)
	}

	sink := nodes[0]
	loop.Post(func() {
		sub := wire.Subscription{
			Interval: subInterval,
			Soft:     wire.FilterSpec{Kind: "NONE"},
			Hard:     wire.FilterSpec{Kind: "NONE"},
			Aggregator: wire.FilterSpec{
				Kind: "LAST",
			},
			Sensor: wire.SensorHumidity,
		}
		subid, err := sink.sub.Subscribe(sub)
		if err != nil {
			log.Error("sink subscribe failed", logging.Error(err))
			return
		}
		log.Info("sink subscribed", logging.String("sink", sink.self.String()), logging.Uint8("subid", uint8(subid)))
	})

	timeout, cancelTimeout := context.WithTimeout(ctx, duration)
	defer cancelTimeout()
	<-timeout.Done()
	log.Info("meshnoded: demo complete", logging.Int("nodes", numNodes))
}

func buildNode(medium *radiosim.Medium, self wire.Addr, cfg config.Config, clk clock.Clock, log *logging.Logger, m *metrics.Counters, newTimer func() ports.Timer, isSink bool) *node {
	n := &node{self: self}

	if isSink {
		n.sub = subscriber.NewRole(cfg, log, newTimer, subscriber.Callbacks{
			OnReading: func(subid wire.SubID, reading wire.Reading) {
				log.Info("reading received", logging.String("sink", self.String()), logging.Uint8("subid", uint8(subid)), logging.String("value", fmt.Sprintf("%.2f", reading.Value)))
			},
		})
		store := pubsub.NewStore(cfg, clk, log, m, pubsub.Callbacks{})
		conn, err := subnet.Open(medium.NewRadio(self), pubsubChannel, peerChannel, self, newTimer, cfg, clk, log, m, store.SubnetCallbacks(n.sub.SubnetCallbacks()))
		if err != nil {
			log.Error("open subnet failed", logging.String("node", self.String()), logging.Error(err))
			return n
		}
		n.conn = conn
		n.sub.Attach(conn)
		return n
	}

	rng := rand.New(rand.NewSource(int64(self[len(self)-1])))
	n.pub = publisher.NewRole(cfg, clk, log, m, newTimer, publisher.Callbacks{
		OnCollect: func(sensor wire.SensorType) {
			n.pub.Publish(sensor, wire.Reading{X: rng.Float64() * 100, Y: rng.Float64() * 100, Value: 20 + rng.Float64()*10})
		},
		ErrPub: func(sink wire.Addr) {
			log.Warn("publish exhausted", logging.String("node", self.String()), logging.String("sink", sink.String()))
		},
	})
	store := pubsub.NewStore(cfg, clk, log, m, n.pub.SubscriptionCallbacks())
	conn, err := subnet.Open(medium.NewRadio(self), pubsubChannel, peerChannel, self, newTimer, cfg, clk, log, m, store.SubnetCallbacks(n.pub.SubnetCallbacks()))
	if err != nil {
		log.Error("open subnet failed", logging.String("node", self.String()), logging.Error(err))
		return n
	}
	n.conn = conn
	n.pub.Attach(conn, store)
	return n
}
