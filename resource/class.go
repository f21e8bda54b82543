package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gedera/relay/client"
	"github.com/gedera/relay/config"
	relayerrors "github.com/gedera/relay/errors"
	"github.com/gedera/relay/request"
	"github.com/gedera/relay/response"
	"github.com/gedera/relay/vurl"
)

// Factory builds a fresh, empty instance of T around base, the shape
// every generated resource type's constructor takes.
type Factory[T any] func(base *Base) *T

// Requester is the slice of *client.Client a Class needs. Depending on
// this narrow interface rather than the concrete type lets tests drive
// Find/Where/Create/Save/Destroy against a fake, without a live pool
// or broker connection.
type Requester interface {
	Request(ctx context.Context, path string, opts ...client.Option) ([]byte, error)
}

// Class is the small code-generator-shaped helper that produces the
// per-resource wrapper functions (Find, Where, All, Create) spec.md
// §4.8's class-level operations describe, parameterized over T instead
// of requiring Go-side inheritance.
type Class[T any] struct {
	Name         string
	ParamKey     string
	Exchange     string
	ExchangeType request.ExchangeType
	RoutingKey   string

	// Config, if set, supplies spec.md §3's per-class override chain
	// (config.Config.ClassOverrides, keyed by Name). Its values win over
	// the Class's own static fields above, per spec.md §4.8's class-
	// level resolution order (thread_context override -> class config
	// -> resource name); a nil Config simply falls back to the static
	// fields.
	Config *config.Config

	Client Requester
	New    Factory[T]
	BaseOf func(*T) *Base
}

// Define builds a Class for T. name is the pluralized, underscored
// resource name used as the routing-key/path fallback; the Class's
// ParamKey is set to name.
func Define[T any](name string, cl Requester, factory Factory[T], baseOf func(*T) *Base) *Class[T] {
	return &Class[T]{
		Name:     name,
		ParamKey: name,
		Client:   cl,
		New:      factory,
		BaseOf:   baseOf,
	}
}

// snapshot computes the exchange/exchange-type/routing-key in effect
// right now, without erroring on an unset exchange: the Class's own
// static fields, overridden by its config.Config.ClassOverrides entry
// (if any) per spec.md §4.8's "the class's configured routing key",
// overridden last by any in-scope resource.WithOverride (spec.md §3's
// per-call override). Used both by resolve (class-level calls) and by
// newInstance (to capture a per-instance snapshot at construction
// time, per spec.md §4.8's "instance level prefers a routing-key
// captured at construction time").
func (c *Class[T]) snapshot(ctx context.Context) (exchange string, exchangeType request.ExchangeType, routingKey string) {
	exchange, exchangeType, routingKey = c.Exchange, c.ExchangeType, c.RoutingKey
	if c.Config != nil {
		co := c.Config.Override(c.Name)
		if co.Exchange != "" {
			exchange = co.Exchange
		}
		if co.ExchangeType != "" {
			exchangeType = request.ExchangeType(co.ExchangeType)
		}
		if co.RoutingKey != "" {
			routingKey = co.RoutingKey
		}
	}
	if routingKey == "" {
		routingKey = c.Name
	}
	if o, ok := overrideFrom(ctx); ok {
		if o.Exchange != "" {
			exchange = o.Exchange
		}
		if o.ExchangeType != "" {
			exchangeType = request.ExchangeType(o.ExchangeType)
		}
		if o.RoutingKey != "" {
			routingKey = o.RoutingKey
		}
	}
	return exchange, exchangeType, routingKey
}

// resolve applies spec.md §4.8's class-level routing-key/exchange
// resolution chain. An unresolved exchange is an error — a Request
// cannot be built without one.
func (c *Class[T]) resolve(ctx context.Context) (exchange string, exchangeType request.ExchangeType, routingKey string, err error) {
	exchange, exchangeType, routingKey = c.snapshot(ctx)
	if exchange == "" {
		return "", "", "", fmt.Errorf("resource: %s has no configured exchange", c.Name)
	}
	return exchange, exchangeType, routingKey, nil
}

func (c *Class[T]) options(ctx context.Context, method request.Method) ([]client.Option, error) {
	exchange, exchangeType, routingKey, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return []client.Option{
		client.WithMethod(method),
		client.WithExchange(exchange, exchangeType),
		client.WithRoutingKey(routingKey),
	}, nil
}

// optionsForInstance resolves exchange/exchange-type/routing-key for
// an instance-level call (Save/Destroy). Per spec.md §4.8, the
// instance's own snapshot — captured at construction time by
// newInstance — wins when set, so a Save/Destroy issued after the
// resource.WithOverride block that constructed the instance has
// exited still uses that block's values (spec.md §8 testable property
// 5). An instance built without going through Class (e.g. a bare
// NewBase("","","")) has an empty snapshot and falls back to
// resolving fresh from ctx/class config, matching class-level
// resolution.
func (c *Class[T]) optionsForInstance(ctx context.Context, base *Base, method request.Method) ([]client.Option, error) {
	exchange, exchangeType, routingKey := base.Snapshot()
	if exchange == "" {
		var err error
		exchange, exchangeType, routingKey, err = c.resolve(ctx)
		if err != nil {
			return nil, err
		}
	} else if routingKey == "" {
		routingKey = c.Name
	}
	return []client.Option{
		client.WithMethod(method),
		client.WithExchange(exchange, exchangeType),
		client.WithRoutingKey(routingKey),
	}, nil
}

func (c *Class[T]) newInstance(ctx context.Context) *T {
	exchange, exchangeType, routingKey := c.snapshot(ctx)
	return c.New(NewBase(exchange, exchangeType, routingKey))
}

func (c *Class[T]) hydrate(ctx context.Context, body map[string]interface{}) *T {
	inst := c.newInstance(ctx)
	base := c.BaseOf(inst)
	base.hydrate(body)
	base.markPersisted()
	return inst
}

// Find performs GET <resource>/<id>. A 404 returns (nil, nil); any
// other 2xx mapping body hydrates a persisted, clean instance.
func (c *Class[T]) Find(ctx context.Context, id string) (*T, error) {
	opts, err := c.options(ctx, request.GET)
	if err != nil {
		return nil, err
	}
	raw, err := c.Client.Request(ctx, c.Name+"/"+id, opts...)
	if err != nil {
		if relayErr, ok := err.(*relayerrors.Error); ok && relayErr.Kind == relayerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	_, body, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	m, ok := body.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("resource: %s find response body was not a mapping", c.Name)
	}
	return c.hydrate(ctx, m), nil
}

// Where performs GET <resource>?<nested-query>; the response body must
// be a sequence, each element hydrating a persisted, clean instance.
func (c *Class[T]) Where(ctx context.Context, filters map[string]interface{}) ([]*T, error) {
	opts, err := c.options(ctx, request.GET)
	if err != nil {
		return nil, err
	}
	path := c.Name
	if len(filters) > 0 {
		path = path + "?" + vurl.Build(filters)
	}
	raw, err := c.Client.Request(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	_, body, err := parseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	seq, ok := body.([]interface{})
	if !ok {
		return nil, fmt.Errorf("resource: %s where response body was not a sequence", c.Name)
	}
	out := make([]*T, 0, len(seq))
	for _, el := range seq {
		m, ok := el.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, c.hydrate(ctx, m))
	}
	return out, nil
}

// All is Where with no filters.
func (c *Class[T]) All(ctx context.Context) ([]*T, error) {
	return c.Where(ctx, nil)
}

// Create builds a new unpersisted instance from attrs and saves it,
// returning the instance regardless of save outcome — callers inspect
// Persisted()/Errors() on the result, per spec.md §4.8.
func (c *Class[T]) Create(ctx context.Context, attrs map[string]interface{}) (*T, error) {
	inst := c.newInstance(ctx)
	base := c.BaseOf(inst)
	for k, v := range attrs {
		base.Set(k, v)
	}
	_, err := c.Save(ctx, inst)
	return inst, err
}

// Save persists a new instance with POST <resource>, or an existing
// one with PUT <resource>/<id>, body {param_key: dirty_attributes}. A
// 422 populates Errors() and returns (false, nil); other 4xx/5xx
// return (false, err); success hydrates the returned attributes, marks
// persisted, and clears dirty state.
func (c *Class[T]) Save(ctx context.Context, inst *T) (bool, error) {
	base := c.BaseOf(inst)
	method := request.POST
	path := c.Name
	if base.Persisted() {
		method = request.PUT
		path = c.Name + "/" + base.ID()
	}
	opts, err := c.optionsForInstance(ctx, base, method)
	if err != nil {
		return false, err
	}
	payload := map[string]interface{}{c.paramKey(): base.DirtyAttributes()}
	opts = append(opts, client.WithJSON(json.Marshal, payload))

	raw, err := c.Client.Request(ctx, path, opts...)
	if err != nil {
		if relayErr, ok := err.(*relayerrors.Error); ok && relayErr.Kind == relayerrors.UnprocessableEntity {
			base.errors = relayErr.Fields
			if base.errors == nil {
				base.errors = map[string]interface{}{"base": relayErr.Detail}
			}
			return false, nil
		}
		return false, err
	}
	_, body, err := parseEnvelope(raw)
	if err != nil {
		return false, err
	}
	if m, ok := body.(map[string]interface{}); ok {
		base.hydrate(m)
	}
	base.markPersisted()
	return true, nil
}

// Destroy performs DELETE <resource>/<id>, marking the instance
// not-persisted on success. 4xx/5xx are swallowed into (false, nil),
// per spec.md §4.8.
func (c *Class[T]) Destroy(ctx context.Context, inst *T) (bool, error) {
	base := c.BaseOf(inst)
	if !base.Persisted() {
		return false, nil
	}
	opts, err := c.optionsForInstance(ctx, base, request.DELETE)
	if err != nil {
		return false, err
	}
	_, err = c.Client.Request(ctx, c.Name+"/"+base.ID(), opts...)
	if err != nil {
		if relayErr, ok := err.(*relayerrors.Error); ok && relayErr.Kind != relayerrors.CommunicationError {
			return false, nil
		}
		return false, err
	}
	base.markNotPersisted()
	return true, nil
}

func (c *Class[T]) paramKey() string {
	if c.Config != nil {
		if pk := c.Config.Override(c.Name).ParamKey; pk != "" {
			return pk
		}
	}
	if c.ParamKey != "" {
		return c.ParamKey
	}
	return c.Name
}

func parseEnvelope(raw []byte) (*response.Response, interface{}, error) {
	resp, err := response.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	body := resp.Body
	if s, ok := body.(string); ok {
		var decoded interface{}
		if json.Unmarshal([]byte(s), &decoded) == nil {
			body = decoded
		}
	}
	return resp, body, nil
}
