package router

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gedera/relay/config"
	"github.com/gedera/relay/controller"
	"github.com/gedera/relay/response"
)

type fakeTransport struct {
	published []amqp.Publishing
}

func (f *fakeTransport) Exchange(name, kind string, opts *config.ExchangeOptions) (string, error) {
	return name, nil
}
func (f *fakeTransport) Queue(name string, opts *config.QueueOptions) (string, error) {
	return name, nil
}
func (f *fakeTransport) Bind(queue, exchange, routingKey string) error { return nil }
func (f *fakeTransport) Consume(queue, consumer string, autoAck bool) (<-chan amqp.Delivery, error) {
	return make(chan amqp.Delivery), nil
}
func (f *fakeTransport) Publish(ctx context.Context, exchange, routingKey string, props amqp.Publishing) error {
	f.published = append(f.published, props)
	return nil
}
func (f *fakeTransport) Channel() (*amqp.Channel, error) { return nil, nil }

type fakeHandler struct {
	resp *response.Response
	err  error
}

func (h *fakeHandler) Call(headers controller.RequestHeaders, params map[string]interface{}, body []byte) (*response.Response, error) {
	return h.resp, h.err
}

func newTestRouter(ft *fakeTransport, resolve Resolver) *Router {
	return &Router{
		session: ft,
		resolve: resolve,
	}
}

func TestDispatchInfersActionFromMethod(t *testing.T) {
	cases := []struct {
		segments []string
		method   string
		action   string
		id       string
	}{
		{[]string{"widgets", "1"}, "GET", "show", "1"},
		{[]string{"widgets"}, "GET", "index", ""},
		{[]string{"widgets"}, "POST", "create", ""},
		{[]string{"widgets", "1"}, "PUT", "update", "1"},
		{[]string{"widgets", "1"}, "DELETE", "destroy", "1"},
		{[]string{"widgets", "1", "activate"}, "POST", "activate", "1"},
	}
	for _, c := range cases {
		_, id, action := dispatch(c.segments, c.method)
		if id != c.id || action != c.action {
			t.Errorf("dispatch(%v, %s) = id:%q action:%q, want id:%q action:%q", c.segments, c.method, id, action, c.id, c.action)
		}
	}
}

func TestCamelize(t *testing.T) {
	if got := camelize("widget_orders"); got != "WidgetOrders" {
		t.Errorf("camelize = %q", got)
	}
}

func TestHandleRepliesWithRenderedResponse(t *testing.T) {
	ft := &fakeTransport{}
	resolve := func(name string) (controller.Handler, bool) {
		if name != "Widgets" {
			return nil, false
		}
		return &fakeHandler{resp: &response.Response{Status: 200, Body: map[string]interface{}{"id": "1"}}}, true
	}
	r := newTestRouter(ft, resolve)

	msg := amqp.Delivery{
		Type:          "widgets/1",
		ReplyTo:       "reply.to.me",
		CorrelationId: "corr-1",
	}
	r.handle(context.Background(), msg)

	if len(ft.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(ft.published))
	}
	pub := ft.published[0]
	if pub.CorrelationId != "corr-1" {
		t.Errorf("CorrelationId = %q", pub.CorrelationId)
	}
	var resp response.Response
	if err := json.Unmarshal(pub.Body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
}

func TestHandleRejectsMissingType(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestRouter(ft, func(name string) (controller.Handler, bool) { return nil, false })
	r.handle(context.Background(), amqp.Delivery{})
	if len(ft.published) != 0 {
		t.Errorf("expected no reply for missing type, got %d", len(ft.published))
	}
}

func TestHandleRepliesWith501OnUnresolvedController(t *testing.T) {
	ft := &fakeTransport{}
	r := newTestRouter(ft, func(name string) (controller.Handler, bool) { return nil, false })
	msg := amqp.Delivery{Type: "ghosts/1", ReplyTo: "reply.to.me", CorrelationId: "corr-2"}
	r.handle(context.Background(), msg)

	if len(ft.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(ft.published))
	}
	var resp response.Response
	if err := json.Unmarshal(ft.published[0].Body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != 501 {
		t.Errorf("Status = %d, want 501", resp.Status)
	}
}

func TestHandleEnforcesMaxConcurrentRequests(t *testing.T) {
	ft := &fakeTransport{}
	blocking := make(chan struct{})
	resolve := func(name string) (controller.Handler, bool) {
		return &fakeHandler{resp: response.NoContent()}, true
	}
	r := newTestRouter(ft, resolve)
	r.maxConcurrent = 1
	r.inFlight = 1 // simulate one request already in flight

	msg := amqp.Delivery{Type: "widgets/1", ReplyTo: "reply.to.me", CorrelationId: "corr-3"}
	r.handle(context.Background(), msg)
	close(blocking)

	if len(ft.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(ft.published))
	}
	var resp response.Response
	if err := json.Unmarshal(ft.published[0].Body, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != 503 {
		t.Errorf("Status = %d, want 503", resp.Status)
	}
}
