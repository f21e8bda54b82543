// Package client implements the public producer facade spec.md §4.5
// describes: acquire a session from the connection pool, build the
// middleware chain, invoke it, release the session. Generalized from
// Boulder's AmqpRPCCLient constructor, which wired a fixed connection
// and a fixed exchange name at construction time, into a facade that
// builds a fresh Session per call against a shared Pool.
package client

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/jmhodges/clock"

	"github.com/gedera/relay/amqpsession"
	"github.com/gedera/relay/config"
	"github.com/gedera/relay/middleware"
	"github.com/gedera/relay/pool"
	"github.com/gedera/relay/producer"
	"github.com/gedera/relay/request"
)

// Option mutates a Request built from a path before it is dispatched,
// the role spec.md §4.5's "recognized option keys" / configuration
// callback plays.
type Option func(*request.Request)

// Client is the public facade Resource and hand-written callers use to
// talk to the broker.
type Client struct {
	pool        pool.Pool
	conf        *config.AMQPConfig
	middlewares []middleware.Middleware
	stats       statsd.Statter
	clk         clock.Clock
}

// New builds a Client against pool. middlewares, if any, form the
// default stack every Request/Publish call runs through; stats may be
// nil.
func New(p pool.Pool, conf *config.AMQPConfig, middlewares []middleware.Middleware, stats statsd.Statter) *Client {
	return &Client{
		pool:        p,
		conf:        conf,
		middlewares: middlewares,
		stats:       stats,
		clk:         clock.Default(),
	}
}

func buildRequest(path string, opts []Option) *request.Request {
	req := request.New(path)
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// Request performs an RPC call: path plus opts build a Request, which
// is published and whose reply is awaited, per spec.md §4.5 step 1-2.
func (c *Client) Request(ctx context.Context, path string, opts ...Option) ([]byte, error) {
	req := buildRequest(path, opts)
	return c.dispatch(ctx, req, true)
}

// Publish performs fire-and-forget: path plus opts build a Request,
// which is published with no reply expected.
func (c *Client) Publish(ctx context.Context, path string, opts ...Option) error {
	req := buildRequest(path, opts)
	_, err := c.dispatch(ctx, req, false)
	return err
}

func (c *Client) dispatch(ctx context.Context, req *request.Request, wantReply bool) ([]byte, error) {
	if req.Timeout <= 0 && c.conf != nil {
		req.Timeout = c.conf.RPCTimeoutOrDefault()
	}
	var result []byte
	err := c.pool.With(ctx, func(conn *amqp.Connection) error {
		sess := amqpsession.New(conn, c.conf, config.ExchangeOptions{}, config.QueueOptions{})
		defer sess.Close()

		prod := producer.New(sess, c.stats, c.clk)

		terminal := middleware.Next(func(req *request.Request) ([]byte, error) {
			if !wantReply {
				return nil, prod.Fire(ctx, req)
			}
			return prod.RPC(ctx, req)
		})

		chained := middleware.Chain(c.middlewares, terminal)
		out, err := chained(req)
		result = out
		return err
	})
	return result, err
}

// WithMethod sets the virtual HTTP-like verb.
func WithMethod(m request.Method) Option {
	return func(r *request.Request) { r.Method = m }
}

// WithJSON marshals v with marshal and sets it as the body.
func WithJSON(marshal func(interface{}) ([]byte, error), v interface{}) Option {
	return func(r *request.Request) { _ = r.SetJSON(marshal, v) }
}

// WithRaw sets a pre-serialized body, bypassing JSON encoding.
func WithRaw(body string) Option {
	return func(r *request.Request) { r.SetRaw(body) }
}

// WithExchange overrides the target exchange and its kind.
func WithExchange(name string, kind request.ExchangeType) Option {
	return func(r *request.Request) {
		r.Exchange = name
		r.ExchangeType = kind
	}
}

// WithRoutingKey overrides the routing key, otherwise defaulted to
// path by Request.FinalRoutingKey.
func WithRoutingKey(key string) Option {
	return func(r *request.Request) { r.RoutingKey = key }
}

// WithTimeout overrides the per-call RPC timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *request.Request) { r.Timeout = d }
}

// WithHeaders merges h into the Request's headers.
func WithHeaders(h map[string]string) Option {
	return func(r *request.Request) {
		for k, v := range h {
			r.Headers[k] = v
		}
	}
}
