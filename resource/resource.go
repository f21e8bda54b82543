// Package resource implements the active-record-style model spec.md
// §4.8 describes: class-level query operations and instance-level
// persistence operations, all routed through a client.Client. It is
// modeled on the teacher's rpc-wrappers.go per-role request/response
// struct split (the closest analogue to "a class whose calls become
// RPCs"), generalized from a fixed closed set of RPC methods into the
// spec's open CRUD-over-HTTP-verb model via Go generics rather than
// inheritance.
package resource

import (
	"fmt"
	"strings"

	"github.com/gedera/relay/request"
)

// Base is the embeddable remote-attribute map every generated resource
// type carries: a case-preserving, lookup-insensitive map.Get/Set/ID
// plus dirty tracking and the exchange/routing-key snapshot captured
// at construction, per spec.md §3's "Resource instance" data model.
type Base struct {
	attrs     map[string]interface{}
	lookup    map[string]string // lowercased key -> stored key
	persisted bool
	dirty     map[string]bool
	errors    map[string]interface{}

	exchange     string
	exchangeType request.ExchangeType
	routingKey   string
}

// NewBase builds an empty, unpersisted Base with exchange/exchangeType/
// routingKey captured from the override in effect at construction
// time, per spec.md §4.8's "instance level prefers a routing-key
// captured at construction time".
func NewBase(exchange string, exchangeType request.ExchangeType, routingKey string) *Base {
	return &Base{
		attrs:        map[string]interface{}{},
		lookup:       map[string]string{},
		dirty:        map[string]bool{},
		exchange:     exchange,
		exchangeType: exchangeType,
		routingKey:   routingKey,
	}
}

// Get reads an attribute case-insensitively.
func (b *Base) Get(name string) (interface{}, bool) {
	key, ok := b.lookup[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	v, ok := b.attrs[key]
	return v, ok
}

// Set writes an attribute, recording it dirty if the value changed.
// "id"/"ID"/"Id"/"_id" all write through to the canonical "id" key,
// per spec.md §4.8's dynamic-attribute id aliasing.
func (b *Base) Set(name string, value interface{}) {
	if isIDAlias(name) {
		name = "id"
	}
	lower := strings.ToLower(name)
	key, exists := b.lookup[lower]
	if !exists {
		key = name
		b.lookup[lower] = key
	}
	old, hadOld := b.attrs[key]
	if !hadOld || !equalValue(old, value) {
		b.dirty[key] = true
	}
	b.attrs[key] = value
}

// SetClean writes an attribute without marking it dirty — used when
// hydrating from a server response.
func (b *Base) SetClean(name string, value interface{}) {
	if isIDAlias(name) {
		name = "id"
	}
	lower := strings.ToLower(name)
	key, exists := b.lookup[lower]
	if !exists {
		key = name
		b.lookup[lower] = key
	}
	b.attrs[key] = value
}

func isIDAlias(name string) bool {
	switch name {
	case "id", "ID", "Id", "_id":
		return true
	default:
		return false
	}
}

func equalValue(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// ID returns the id attribute, or "" if unset.
func (b *Base) ID() string {
	v, ok := b.Get("id")
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Persisted reports whether the instance has been saved or loaded from
// the server.
func (b *Base) Persisted() bool { return b.persisted }

// Snapshot returns the exchange/exchange-type/routing-key captured at
// construction time, per spec.md §3's "captured-at-construction
// {exchange, exchange_type, routing_key} snapshot" and §4.8's
// "instance level prefers a routing-key captured at construction
// time".
func (b *Base) Snapshot() (exchange string, exchangeType request.ExchangeType, routingKey string) {
	return b.exchange, b.exchangeType, b.routingKey
}

// Attributes returns the full remote-attribute map.
func (b *Base) Attributes() map[string]interface{} { return b.attrs }

// DirtyAttributes returns only the attributes changed since the last
// clean hydration.
func (b *Base) DirtyAttributes() map[string]interface{} {
	out := make(map[string]interface{}, len(b.dirty))
	for k := range b.dirty {
		out[k] = b.attrs[k]
	}
	return out
}

// Errors returns the validation-errors map populated by a 422 save
// response, keyed by attribute name or "base".
func (b *Base) Errors() map[string]interface{} { return b.errors }

func (b *Base) markPersisted() {
	b.persisted = true
	b.dirty = map[string]bool{}
	b.errors = nil
}

func (b *Base) markNotPersisted() {
	b.persisted = false
}

func (b *Base) hydrate(attrs map[string]interface{}) {
	for k, v := range attrs {
		b.SetClean(k, v)
	}
}
