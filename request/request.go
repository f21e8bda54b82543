// Package request defines the Request value object: everything needed
// to publish one AMQP message, per spec.md §3/§4.1. It is a passive
// transport contract — middlewares mutate it freely on the way down —
// generalized from the fixed publish call Boulder's rpc package makes
// inline (rpc.connection.publish(msg.ReplyTo, msg.CorrelationId, ...))
// into a full property bag.
package request

import (
	"fmt"
	"strings"
	"time"
)

// Method is the virtual HTTP-like verb a Request carries.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	PATCH  Method = "PATCH"
	DELETE Method = "DELETE"
)

// ExchangeType is the AMQP exchange kind a Request publishes through.
type ExchangeType string

const (
	Direct  ExchangeType = "direct"
	Topic   ExchangeType = "topic"
	Fanout  ExchangeType = "fanout"
	Headers ExchangeType = "headers"
)

// Request is a mutable value bag describing one publication.
type Request struct {
	Path   string
	Method Method
	Query  string // raw query string, if any; appended to Path for FinalType

	Body []byte // pre-serialized; use SetJSON to populate from a Go value, SetRaw from a string
	raw  bool    // true when Body was supplied as a raw string, not JSON-encoded

	Exchange        string
	ExchangeType    ExchangeType
	ExchangeOptions map[string]interface{}
	QueueOptions    map[string]interface{}
	RoutingKey      string

	Timeout time.Duration // RPC only; falls back to the configured default

	Headers       map[string]string
	CorrelationID string
	ReplyTo       string

	ContentType     string
	ContentEncoding string
	Persistent      bool
	Timestamp       time.Time
	Priority        uint8
	Expiration      string
	AppID           string
	MessageID       string
}

// New builds a Request with the spec's documented defaults.
func New(path string) *Request {
	return &Request{
		Path:         path,
		Method:       GET,
		ExchangeType: Direct,
		ContentType:  "application/json",
		Headers:      map[string]string{},
		Timestamp:    time.Now(),
		Persistent:   false,
	}
}

// SetJSON marshals v and stores it as the Request body.
func (r *Request) SetJSON(marshal func(interface{}) ([]byte, error), v interface{}) error {
	b, err := marshal(v)
	if err != nil {
		return err
	}
	r.Body = b
	r.raw = false
	return nil
}

// SetRaw stores s as the Request body unmodified, bypassing JSON
// encoding — for callers that already have a wire-ready string.
func (r *Request) SetRaw(s string) {
	r.Body = []byte(s)
	r.raw = true
}

// IsRaw reports whether the body was set via SetRaw.
func (r *Request) IsRaw() bool { return r.raw }

// FinalRoutingKey returns RoutingKey if set, else Path — the spec's
// §3 invariant final_routing_key = routing_key ?? path.
func (r *Request) FinalRoutingKey() string {
	if r.RoutingKey != "" {
		return r.RoutingKey
	}
	return r.Path
}

// FinalType returns the virtual URL to place in the AMQP `type`
// property: Path, plus "?"+Query when a query string is present.
func (r *Request) FinalType() string {
	if r.Query == "" {
		return r.Path
	}
	return fmt.Sprintf("%s?%s", r.Path, r.Query)
}

// AMQPProperties returns the map of AMQP properties to publish with,
// omitting any key whose value is unset, per spec.md §4.1.
func (r *Request) AMQPProperties() map[string]interface{} {
	props := map[string]interface{}{
		"content_type": r.ContentType,
		"persistent":   r.Persistent,
	}
	if r.ContentEncoding != "" {
		props["content_encoding"] = r.ContentEncoding
	}
	if r.CorrelationID != "" {
		props["correlation_id"] = r.CorrelationID
	}
	if r.ReplyTo != "" {
		props["reply_to"] = r.ReplyTo
	}
	if !r.Timestamp.IsZero() {
		props["timestamp"] = r.Timestamp
	}
	if r.Priority != 0 {
		props["priority"] = r.Priority
	}
	if r.Expiration != "" {
		props["expiration"] = r.Expiration
	}
	if r.AppID != "" {
		props["app_id"] = r.AppID
	}
	if r.MessageID != "" {
		props["message_id"] = r.MessageID
	}
	if len(r.Headers) > 0 {
		headers := make(map[string]interface{}, len(r.Headers))
		for k, v := range r.Headers {
			headers[k] = v
		}
		props["headers"] = headers
	}
	props["routing_key"] = r.FinalRoutingKey()
	props["type"] = r.FinalType()
	return props
}

// MethodFromVerb parses a method string case-insensitively, defaulting
// to GET on an unrecognized or empty value.
func MethodFromVerb(s string) Method {
	switch strings.ToUpper(s) {
	case "POST":
		return POST
	case "PUT":
		return PUT
	case "PATCH":
		return PATCH
	case "DELETE":
		return DELETE
	default:
		return GET
	}
}
