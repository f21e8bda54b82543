package resource

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gedera/relay/client"
	"github.com/gedera/relay/config"
	relayerrors "github.com/gedera/relay/errors"
	"github.com/gedera/relay/request"
)

type widget struct {
	base *Base
}

func widgetBase(w *widget) *Base { return w.base }

func newWidget(base *Base) *widget { return &widget{base: base} }

type fakeRequester struct {
	lastPath string
	lastOpts []client.Option
	response []byte
	err      error
}

func (f *fakeRequester) Request(ctx context.Context, path string, opts ...client.Option) ([]byte, error) {
	f.lastPath = path
	f.lastOpts = opts
	return f.response, f.err
}

func envelope(status int, body interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{"status": status, "body": body})
	return b
}

func newWidgets(fr *fakeRequester) *Class[widget] {
	c := Define[widget]("widgets", fr, newWidget, widgetBase)
	c.Exchange = "relay.resources"
	return c
}

func TestFindHydratesPersistedInstance(t *testing.T) {
	fr := &fakeRequester{response: envelope(200, map[string]interface{}{"id": "1", "name": "Gizmo"})}
	c := newWidgets(fr)

	w, err := c.Find(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if w == nil {
		t.Fatal("expected an instance")
	}
	if !w.base.Persisted() {
		t.Error("expected Find result to be persisted")
	}
	if len(w.base.dirty) != 0 {
		t.Error("expected Find result to be clean")
	}
	if w.base.ID() != "1" {
		t.Errorf("ID = %q", w.base.ID())
	}
	if fr.lastPath != "widgets/1" {
		t.Errorf("path = %q, want widgets/1", fr.lastPath)
	}
}

func TestFindReturnsNilOnNotFound(t *testing.T) {
	fr := &fakeRequester{err: relayerrors.NewNotFound("not found")}
	c := newWidgets(fr)

	w, err := c.Find(context.Background(), "99")
	if err != nil {
		t.Fatalf("expected nil error on 404, got %v", err)
	}
	if w != nil {
		t.Error("expected nil instance on 404")
	}
}

func TestWhereHydratesEachElement(t *testing.T) {
	fr := &fakeRequester{response: envelope(200, []interface{}{
		map[string]interface{}{"id": "1"},
		map[string]interface{}{"id": "2"},
	})}
	c := newWidgets(fr)

	ws, err := c.Where(context.Background(), map[string]interface{}{"active": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(ws) != 2 {
		t.Fatalf("got %d instances, want 2", len(ws))
	}
	if fr.lastPath != "widgets?active=true" {
		t.Errorf("path = %q", fr.lastPath)
	}
}

func TestCreateReturnsInstanceRegardlessOfOutcome(t *testing.T) {
	fr := &fakeRequester{response: envelope(422, map[string]interface{}{
		"errors": map[string]interface{}{"name": []interface{}{"can't be blank"}},
	})}
	fr.err = relayerrors.NewUnprocessableEntity(nil, map[string]interface{}{"name": []interface{}{"can't be blank"}})
	c := newWidgets(fr)

	w, err := c.Create(context.Background(), map[string]interface{}{"name": ""})
	if err != nil {
		t.Fatal(err)
	}
	if w == nil {
		t.Fatal("expected an instance even on validation failure")
	}
	if w.base.Persisted() {
		t.Error("expected not persisted after 422")
	}
	if w.base.Errors()["name"] == nil {
		t.Errorf("Errors = %#v, want name key", w.base.Errors())
	}
}

func TestSaveNewInstancePOSTsAndMarksPersisted(t *testing.T) {
	fr := &fakeRequester{response: envelope(201, map[string]interface{}{"id": "7", "name": "Gizmo"})}
	c := newWidgets(fr)

	w := newWidget(NewBase("", "", ""))
	w.base.Set("name", "Gizmo")

	ok, err := c.Save(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Save to succeed")
	}
	if !w.base.Persisted() {
		t.Error("expected persisted after successful save")
	}
	if fr.lastPath != "widgets" {
		t.Errorf("path = %q, want widgets", fr.lastPath)
	}
}

func TestSavePersistedInstancePUTsToID(t *testing.T) {
	fr := &fakeRequester{response: envelope(200, map[string]interface{}{"id": "7", "name": "Updated"})}
	c := newWidgets(fr)

	w := newWidget(NewBase("", "", ""))
	w.base.hydrate(map[string]interface{}{"id": "7", "name": "Gizmo"})
	w.base.markPersisted()
	w.base.Set("name", "Updated")

	ok, err := c.Save(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Save to succeed")
	}
	if fr.lastPath != "widgets/7" {
		t.Errorf("path = %q, want widgets/7", fr.lastPath)
	}
}

func TestResolveFailsWithoutExchange(t *testing.T) {
	c := Define[widget]("widgets", &fakeRequester{}, newWidget, widgetBase)
	_, _, _, err := c.resolve(context.Background())
	if err == nil {
		t.Fatal("expected error when no exchange is configured at any level")
	}
}

func TestResolveOverrideBeatsClassConfig(t *testing.T) {
	c := newWidgets(&fakeRequester{})
	c.RoutingKey = "widgets.default"

	ctx := WithOverride(context.Background(), Override{RoutingKey: "widgets.override"})
	_, _, rk, err := c.resolve(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rk != "widgets.override" {
		t.Errorf("routing key = %q, want override to win", rk)
	}

	_, _, rk2, err := c.resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rk2 != "widgets.default" {
		t.Errorf("routing key = %q, want class default without override", rk2)
	}
}

func TestDestroyMarksNotPersisted(t *testing.T) {
	fr := &fakeRequester{response: envelope(204, nil)}
	c := newWidgets(fr)

	w := newWidget(NewBase("", "", ""))
	w.base.hydrate(map[string]interface{}{"id": "7"})
	w.base.markPersisted()

	ok, err := c.Destroy(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Destroy to succeed")
	}
	if w.base.Persisted() {
		t.Error("expected not persisted after Destroy")
	}
}

func TestDestroyOnUnpersistedIsNoop(t *testing.T) {
	c := newWidgets(&fakeRequester{})
	w := newWidget(NewBase("", "", ""))
	ok, err := c.Destroy(context.Background(), w)
	if err != nil || ok {
		t.Errorf("Destroy on unpersisted = %v, %v, want false, nil", ok, err)
	}
}

// TestSaveUsesRoutingKeyCapturedAtConstruction is spec.md §8 testable
// property 5: an instance built inside a resource.WithOverride block,
// saved after that block's context has gone out of scope, still uses
// the override in effect when it was constructed rather than whatever
// is (or isn't) in scope at save time.
func TestSaveUsesRoutingKeyCapturedAtConstruction(t *testing.T) {
	fr := &fakeRequester{response: envelope(201, map[string]interface{}{"id": "1"})}
	c := newWidgets(fr)
	c.RoutingKey = "widgets.default"

	ctx := WithOverride(context.Background(), Override{RoutingKey: "widgets.override"})
	w, err := c.Create(ctx, map[string]interface{}{"name": "Gizmo"})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := c.Save(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Save to succeed")
	}

	req := request.New("widgets")
	for _, opt := range fr.lastOpts {
		opt(req)
	}
	if req.RoutingKey != "widgets.override" {
		t.Errorf("routing key = %q, want save outside the override block to still use the routing key captured at construction", req.RoutingKey)
	}
}

func TestParamKeyPrefersConfigOverride(t *testing.T) {
	c := newWidgets(&fakeRequester{})
	c.Config = &config.Config{
		ClassOverrides: map[string]*config.ClassOverride{
			"widgets": {ParamKey: "widget"},
		},
	}
	if got := c.paramKey(); got != "widget" {
		t.Errorf("paramKey = %q, want widget", got)
	}
}

func TestResolvePrefersConfigOverrideAheadOfClassFields(t *testing.T) {
	c := newWidgets(&fakeRequester{})
	c.RoutingKey = "widgets.default"
	c.Config = &config.Config{
		ClassOverrides: map[string]*config.ClassOverride{
			"widgets": {RoutingKey: "widgets.from_config"},
		},
	}
	_, _, rk, err := c.resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rk != "widgets.from_config" {
		t.Errorf("routing key = %q, want config override to beat the class's static field", rk)
	}
}
