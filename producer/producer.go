// Package producer implements Fire and RPC, the two producer-side
// entry points spec.md §4.3 describes, generalized directly from the
// teacher's AmqpRPCCLient (rpc/amqp-rpc.go): a pending-request table
// keyed by correlation id, completed by a single lazily-started
// direct-reply-to listener per Producer, guarded by double-checked
// locking so the optimization the broker's pseudo-queue exists for
// (no temporary queue per call) is never defeated by re-subscribing.
package producer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/gedera/relay/amqpsession"
	"github.com/gedera/relay/config"
	relayerrors "github.com/gedera/relay/errors"
	"github.com/gedera/relay/internal/log"
	"github.com/gedera/relay/request"
)

// directReplyQueue is the broker's pseudo-queue: publishing to it as
// reply_to lets a single channel receive RPC responses with no
// per-call temporary queue, per spec.md's Direct reply-to glossary
// entry.
const directReplyQueue = "amq.rabbitmq.reply-to"

// transport is the slice of *amqpsession.Session a Producer needs.
// Depending on this narrow interface rather than the concrete type
// lets tests exercise the pending-table and timeout invariants against
// a fake, without a live broker.
type transport interface {
	Exchange(name, kind string, opts *config.ExchangeOptions) (string, error)
	Publish(ctx context.Context, exchange, routingKey string, props amqp.Publishing) error
	Consume(queue, consumer string, autoAck bool) (<-chan amqp.Delivery, error)
}

// Producer owns one session's worth of RPC state: the pending-request
// table and the lazily-started reply listener, matching spec.md §4.3's
// "Owns per-producer state" line and Boulder's AmqpRPCCLient.pending.
type Producer struct {
	session transport
	stats   statsd.Statter
	clk     clock.Clock
	log     *log.Logger

	listenerOnce    sync.Once
	listenerStarted bool
	listenerErr     error

	mu      sync.Mutex
	pending map[string]chan []byte
}

// New builds a Producer bound to session. stats may be nil, in which
// case metrics are no-ops.
func New(session *amqpsession.Session, stats statsd.Statter, clk clock.Clock) *Producer {
	if clk == nil {
		clk = clock.Default()
	}
	return &Producer{
		session: session,
		stats:   stats,
		clk:     clk,
		log:     log.GetAuditLogger(),
		pending: make(map[string]chan []byte),
	}
}

func (p *Producer) inc(stat string, delta int64) {
	if p.stats != nil {
		p.stats.Inc(stat, delta, 1.0)
	}
}

func (p *Producer) timing(stat string, d time.Duration) {
	if p.stats != nil {
		p.stats.TimingDuration(stat, d, 1.0)
	}
}

// Fire publishes req with no reply expected, per spec.md §4.3.
func (p *Producer) Fire(ctx context.Context, req *request.Request) error {
	exchange, err := p.resolveExchange(req)
	if err != nil {
		return err
	}
	body, err := serializeBody(req)
	if err != nil {
		return err
	}
	props := buildPublishing(req, body)
	p.inc("RPC.Traffic.Tx."+req.Path, int64(len(body)))
	return p.session.Publish(ctx, exchange, req.FinalRoutingKey(), props)
}

// RPC publishes req and blocks until a correlated reply arrives or
// the timeout elapses, per spec.md §4.3.
func (p *Producer) RPC(ctx context.Context, req *request.Request) ([]byte, error) {
	if err := p.ensureListener(); err != nil {
		return nil, err
	}

	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.ReplyTo = directReplyQueue

	respCh := make(chan []byte, 1)
	p.mu.Lock()
	p.pending[req.CorrelationID] = respCh
	p.mu.Unlock()

	cleanup := func() {
		p.mu.Lock()
		delete(p.pending, req.CorrelationID)
		p.mu.Unlock()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	started := p.clk.Now()
	if err := p.Fire(ctx, req); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case body := <-respCh:
		cleanup()
		p.timing("RPC.ClientCallLatency."+req.Path+".Success", p.clk.Now().Sub(started))
		return body, nil
	case <-p.clk.After(timeout):
		cleanup()
		p.timing("RPC.ClientCallLatency."+req.Path+".Timeout", p.clk.Now().Sub(started))
		p.log.Warningf("producer: RPC timeout on %s [%s]", req.Path, req.CorrelationID)
		return nil, relayerrors.NewRequestTimeout("rpc timeout after %s", timeout)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// ensureListener lazily starts the single direct-reply consumer for
// this Producer, using double-checked locking via sync.Once so
// concurrent first-RPCs never start it twice.
func (p *Producer) ensureListener() error {
	p.listenerOnce.Do(func() {
		p.listenerErr = p.startListener()
		p.listenerStarted = p.listenerErr == nil
	})
	return p.listenerErr
}

func (p *Producer) startListener() error {
	deliveries, err := p.session.Consume(directReplyQueue, "", true)
	if err != nil {
		return err
	}
	go p.readReplies(deliveries)
	return nil
}

func (p *Producer) readReplies(deliveries <-chan amqp.Delivery) {
	for msg := range deliveries {
		corrID := msg.CorrelationId
		p.mu.Lock()
		respCh, ok := p.pending[corrID]
		if ok {
			delete(p.pending, corrID)
		}
		p.mu.Unlock()

		if !ok {
			// Occurs when a request already timed out and the reply
			// arrives afterward; completing a future twice would be
			// wrong, so the late reply is only logged and dropped.
			p.inc("RPC.AfterTimeoutResponseArrivals", 1)
			p.log.Warningf("producer: dropped late reply [%s]", corrID)
			continue
		}
		respCh <- msg.Body
	}
}

func (p *Producer) resolveExchange(req *request.Request) (string, error) {
	return p.session.Exchange(req.Exchange, string(req.ExchangeType), nil)
}

func serializeBody(req *request.Request) ([]byte, error) {
	if req.IsRaw() || req.Body != nil {
		return req.Body, nil
	}
	return json.Marshal(nil)
}

func buildPublishing(req *request.Request, body []byte) amqp.Publishing {
	props := req.AMQPProperties()
	pub := amqp.Publishing{
		ContentType: req.ContentType,
		Body:        body,
	}
	if v, ok := props["content_encoding"].(string); ok {
		pub.ContentEncoding = v
	}
	if v, ok := props["correlation_id"].(string); ok {
		pub.CorrelationId = v
	}
	if v, ok := props["reply_to"].(string); ok {
		pub.ReplyTo = v
	}
	if v, ok := props["type"].(string); ok {
		pub.Type = v
	}
	if v, ok := props["timestamp"].(time.Time); ok {
		pub.Timestamp = v
	}
	if v, ok := props["priority"].(uint8); ok {
		pub.Priority = v
	}
	if v, ok := props["expiration"].(string); ok {
		pub.Expiration = v
	}
	if v, ok := props["app_id"].(string); ok {
		pub.AppId = v
	}
	if v, ok := props["message_id"].(string); ok {
		pub.MessageId = v
	}
	if req.Persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	if headers, ok := props["headers"].(map[string]interface{}); ok {
		table := amqp.Table{}
		for k, v := range headers {
			table[k] = v
		}
		pub.Headers = table
	}
	return pub
}
