// Package router implements the consumer side of spec.md §4.6: it
// subscribes a queue, parses the virtual URL out of each delivery's
// `type` property, resolves a controller, dispatches, and replies.
// Generalized from the teacher's amqpSubscribe/AmqpRPCServer.start
// dispatch loop (rpc/amqp-rpc.go), which routed every delivery to a
// single fixed handler; Router instead resolves a handler per message
// by controller name.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/jmhodges/clock"

	"github.com/gedera/relay/amqpsession"
	"github.com/gedera/relay/config"
	"github.com/gedera/relay/controller"
	"github.com/gedera/relay/internal/log"
	"github.com/gedera/relay/response"
	"github.com/gedera/relay/vurl"
)

// Resolver maps a controller name (already camelized and namespaced)
// to a handler. Returning ok=false means "unresolved", which the
// Router turns into a 501.
type Resolver func(name string) (controller.Handler, bool)

// transport is the slice of *amqpsession.Session Router needs.
// Depending on this narrow interface rather than the concrete type
// lets tests drive Subscribe/handle against a fake, without a live
// broker.
type transport interface {
	Exchange(name, kind string, opts *config.ExchangeOptions) (string, error)
	Queue(name string, opts *config.QueueOptions) (string, error)
	Bind(queue, exchange, routingKey string) error
	Consume(queue, consumer string, autoAck bool) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, exchange, routingKey string, props amqp.Publishing) error
	Channel() (*amqp.Channel, error)
}

// Router owns one subscription's dispatch loop.
type Router struct {
	session   transport
	resolve   Resolver
	conf      *config.AMQPConfig
	log       *log.Logger
	stats     statsd.Statter
	clk       clock.Clock
	Namespace string

	queue string // the bound queue's name, set by Subscribe; keys the Rx/lag/drop counters

	maxConcurrent int64
	inFlight      int64
}

// New builds a Router dispatching deliveries received on session
// through resolve. namespace is prefixed to the camelized controller
// name before resolution, per spec.md §4.6 step 3. maxConcurrent <= 0
// disables the 503 guard.
func New(session *amqpsession.Session, resolve Resolver, conf *config.AMQPConfig, namespace string, maxConcurrent int64, stats statsd.Statter) *Router {
	return &Router{
		session:       session,
		resolve:       resolve,
		conf:          conf,
		log:           log.GetAuditLogger(),
		stats:         stats,
		clk:           clock.Default(),
		Namespace:     namespace,
		maxConcurrent: maxConcurrent,
	}
}

func (r *Router) inc(stat string, delta int64) {
	if r.stats != nil {
		r.stats.Inc(stat, delta, 1.0)
	}
}

func (r *Router) timing(stat string, d time.Duration) {
	if r.stats != nil {
		r.stats.TimingDuration(stat, d, 1.0)
	}
}

func (r *Router) clock() clock.Clock {
	if r.clk != nil {
		return r.clk
	}
	return clock.Default()
}

// Subscribe declares exchange and queue, binds them with routingKey,
// and begins a manual-ack subscription, dispatching every delivery
// until ctx is done or the channel errors.
func (r *Router) Subscribe(ctx context.Context, queue, exchange, exchangeType, routingKey string, queueOpts *config.QueueOptions) error {
	if _, err := r.session.Exchange(exchange, exchangeType, nil); err != nil {
		return err
	}
	qname, err := r.session.Queue(queue, queueOpts)
	if err != nil {
		return err
	}
	r.queue = qname
	if exchange != "" {
		if err := r.session.Bind(qname, exchange, routingKey); err != nil {
			return err
		}
	}
	deliveries, err := r.session.Consume(qname, "", false)
	if err != nil {
		return err
	}

	if r.conf != nil && r.conf.HealthCheckInterval.Duration > 0 {
		go r.healthCheck(ctx, qname, r.conf.HealthCheckInterval.Duration)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

// healthCheck periodically passively declares qname: if the queue was
// removed externally the declare fails, and the failure is logged so
// the outer retry loop (owned by the caller) can notice and restart
// the subscription.
func (r *Router) healthCheck(ctx context.Context, qname string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ch, err := r.session.Channel()
			if err != nil {
				r.log.Warningf("router: health check could not get channel: %v", err)
				continue
			}
			if _, err := ch.QueueDeclarePassive(qname, false, false, false, false, nil); err != nil {
				r.log.Warningf("router: queue %s missing on passive declare: %v", qname, err)
			}
		}
	}
}

func (r *Router) handle(ctx context.Context, msg amqp.Delivery) {
	if msg.Type == "" {
		msg.Reject(false)
		return
	}

	if !msg.Timestamp.IsZero() {
		r.timing(fmt.Sprintf("RPC.MessageLag.%s", r.queue), r.clock().Now().Sub(msg.Timestamp))
	}

	if r.maxConcurrent > 0 {
		n := atomic.AddInt64(&r.inFlight, 1)
		if n > r.maxConcurrent {
			atomic.AddInt64(&r.inFlight, -1)
			r.inc(fmt.Sprintf("RPC.CallsDropped.%s", r.queue), 1)
			r.replyTooManyRequests(ctx, msg)
			msg.Ack(false)
			return
		}
		defer atomic.AddInt64(&r.inFlight, -1)
	}

	r.inc(fmt.Sprintf("RPC.Traffic.Rx.%s", r.queue), int64(len(msg.Body)))
	startedProcessing := r.clock().Now()
	defer func() {
		r.timing(fmt.Sprintf("RPC.ServerProcessingLatency.%s", msg.Type), r.clock().Now().Sub(startedProcessing))
	}()

	parsed, err := vurl.Parse(msg.Type)
	if err != nil {
		msg.Reject(false)
		return
	}
	name, id, action := dispatch(parsed.Segments, controllerMethod(msg))
	params := parsed.Query
	if params == nil {
		params = map[string]interface{}{}
	}
	if id != "" {
		params["id"] = id
	}

	fullName := name
	if r.Namespace != "" {
		fullName = r.Namespace + "::" + camelize(name)
	} else {
		fullName = camelize(name)
	}

	handler, ok := r.resolve(fullName)
	if !ok {
		r.reply(ctx, msg, 501, map[string]interface{}{"error": "unresolved_controller", "controller": fullName})
		msg.Reject(false)
		return
	}

	headers := controller.RequestHeaders{
		Method:        controllerMethod(msg),
		Type:          msg.Type,
		Controller:    name,
		Action:        action,
		ID:            id,
		CorrelationID: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		ContentType:   msg.ContentType,
	}

	resp, err := safeCall(handler, headers, params, msg.Body)
	if err != nil {
		r.reply(ctx, msg, 500, map[string]interface{}{"error": "internal_server_error", "detail": err.Error()})
		msg.Reject(false)
		return
	}

	msg.Ack(false)
	if msg.ReplyTo != "" {
		r.replyResponse(ctx, msg.ReplyTo, msg.CorrelationId, resp)
	}
}

func safeCall(handler controller.Handler, headers controller.RequestHeaders, params map[string]interface{}, body []byte) (resp *response.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError{rec}
		}
	}()
	return handler.Call(headers, params, body)
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic in controller: " + toString(p.v) }

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func controllerMethod(msg amqp.Delivery) string {
	if v, ok := msg.Headers["method"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "GET"
}

// dispatch implements spec.md §4.6 step 2's segment/action resolution.
func dispatch(segments []string, method string) (name, id, action string) {
	if len(segments) > 0 {
		name = segments[0]
	}
	if len(segments) > 1 {
		id = segments[1]
	}
	if len(segments) > 2 {
		action = strings.Join(segments[2:], "/")
		return name, id, action
	}
	return name, id, inferAction(method, id)
}

func inferAction(method, id string) string {
	switch strings.ToUpper(method) {
	case "GET":
		if id != "" {
			return "show"
		}
		return "index"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "destroy"
	default:
		if id != "" {
			return id
		}
		return "index"
	}
}

// camelize turns a snake_case or plain name into CamelCase, the Go
// stand-in for Ruby's String#camelize that spec.md §4.6 step 3 needs.
func camelize(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func (r *Router) replyTooManyRequests(ctx context.Context, msg amqp.Delivery) {
	if msg.ReplyTo == "" {
		return
	}
	r.replyResponse(ctx, msg.ReplyTo, msg.CorrelationId, &response.Response{
		Status: 503,
		Body:   map[string]interface{}{"error": "too_many_requests"},
	})
}

func (r *Router) reply(ctx context.Context, msg amqp.Delivery, status int, body interface{}) {
	if msg.ReplyTo == "" {
		return
	}
	r.replyResponse(ctx, msg.ReplyTo, msg.CorrelationId, &response.Response{Status: status, Body: body})
}

func (r *Router) replyResponse(ctx context.Context, replyTo, correlationID string, resp *response.Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		r.log.Warningf("router: could not marshal reply: %v", err)
		return
	}
	err = r.session.Publish(ctx, "", replyTo, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
	})
	if err != nil {
		r.log.Warningf("router: reply publish failed: %v", err)
	}
}
