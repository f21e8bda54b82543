// Command relayctl is a tiny demonstration binary wiring Configuration
// -> Pool -> Client/Consumer, mirroring the teacher's cmd/ services
// (flag-driven config file path, signal-based shutdown). It subscribes
// a Router carrying one "ping" controller, then issues a Client.Request
// against that same controller so the round trip is actually exercised
// end to end. Real deployments embed the subpackages directly rather
// than shelling out to this binary.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/cactus/go-statsd-client/v5/statsd"

	relay "github.com/gedera/relay"
	"github.com/gedera/relay/amqpsession"
	"github.com/gedera/relay/client"
	"github.com/gedera/relay/config"
	"github.com/gedera/relay/controller"
	"github.com/gedera/relay/internal/log"
	"github.com/gedera/relay/middleware"
	"github.com/gedera/relay/pool"
	"github.com/gedera/relay/request"
	"github.com/gedera/relay/router"
)

const (
	pingExchange     = "relayctl.ping"
	pingExchangeType = request.Direct
	pingQueue        = "relayctl.ping"
	pingRoutingKey   = "ping"
)

var pingController = &controller.Definition{
	Actions: map[string]func(ctx *controller.Context) error{
		"index": func(ctx *controller.Context) error {
			ctx.Render(200, map[string]interface{}{"pong": true}, nil)
			return nil
		},
	},
}

func resolvePing(name string) (controller.Handler, bool) {
	if name != "Ping" {
		return nil, false
	}
	return pingController, true
}

func main() {
	configFile := flag.String("config", "", "File path to the configuration file for this service")
	poolSize := flag.Int("pool-size", 4, "Number of pooled broker connections")
	statsdAddr := flag.String("statsd-addr", "", "host:port of the statsd server to emit metrics to; empty disables metrics")
	flag.Parse()
	if *configFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger := log.GetAuditLogger()

	conf, err := config.Load(*configFile)
	if err != nil {
		logger.Critf("relayctl: reading config file: %v", err)
		os.Exit(1)
	}
	if conf.AMQP == nil {
		logger.Crit("relayctl: config has no amqp section")
		os.Exit(1)
	}

	var stats statsd.Statter
	if *statsdAddr == "" {
		stats, err = statsd.NewNoopClient()
	} else {
		stats, err = statsd.NewClient(*statsdAddr, "relayctl")
	}
	if err != nil {
		logger.Critf("relayctl: building statsd client: %v", err)
		os.Exit(1)
	}

	p := pool.NewBounded(conf.AMQP, *poolSize)
	relay.RegisterPool(p)

	cl := client.New(p, conf.AMQP, []middleware.Middleware{middleware.JSONResponse, middleware.RaiseError}, stats)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			relay.OnFork()
			return
		}
		logger.Infof("relayctl: shutting down on %v", sig)
		cancel()
	}()

	subscribed := make(chan struct{})
	go func() {
		if err := runSubscriber(ctx, p, conf.AMQP, stats, subscribed); err != nil && ctx.Err() == nil {
			logger.Warningf("relayctl: subscriber exited: %v", err)
		}
	}()

	select {
	case <-subscribed:
		_, err := cl.Request(ctx, "ping",
			client.WithMethod(request.GET),
			client.WithExchange(pingExchange, pingExchangeType),
			client.WithRoutingKey(pingRoutingKey),
		)
		if err != nil {
			logger.Warningf("relayctl: demonstration ping failed: %v", err)
		} else {
			logger.Info("relayctl: demonstration ping round trip succeeded")
		}
	case <-time.After(5 * time.Second):
		logger.Warning("relayctl: subscriber did not come up within 5s, skipping demonstration ping")
	case <-ctx.Done():
	}

	<-ctx.Done()
	if err := p.Close(); err != nil {
		logger.Warningf("relayctl: closing pool: %v", err)
	}
}

// runSubscriber checks out one pooled connection for the process
// lifetime and runs a Router on it, dispatching to resolvePing, until
// ctx is canceled. The connection stays checked out for exactly as
// long as Router.Subscribe's loop runs, per pool.Pool.With's "checked
// out for the duration of a block" contract.
func runSubscriber(ctx context.Context, p *pool.Bounded, conf *config.AMQPConfig, stats statsd.Statter, subscribed chan struct{}) error {
	return p.With(ctx, func(conn *amqp.Connection) error {
		sess := amqpsession.New(conn, conf, config.ExchangeOptions{}, config.QueueOptions{})
		defer sess.Close()

		// Declare and bind the queue before signaling, so a request
		// published right after the signal is queued rather than lost.
		if _, err := sess.Exchange(pingExchange, string(pingExchangeType), nil); err != nil {
			return err
		}
		if _, err := sess.Queue(pingQueue, nil); err != nil {
			return err
		}
		if err := sess.Bind(pingQueue, pingExchange, pingRoutingKey); err != nil {
			return err
		}
		r := router.New(sess, resolvePing, conf, "", 0, stats)
		close(subscribed)
		return r.Subscribe(ctx, pingQueue, pingExchange, string(pingExchangeType), pingRoutingKey, nil)
	})
}
