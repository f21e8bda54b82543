// Package controller implements per-message dispatch: spec.md §4.7's
// params unification, before-action chain, rescue-from registry, and
// structured render. Generalized from the teacher's WebFrontEndImpl
// (wfe/web-front-end.go), which hard-coded one handler per HTTP route;
// Definition instead describes a named action set any Router can
// resolve by controller name and invoke uniformly.
package controller

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gedera/relay/response"
)

// RequestHeaders is the per-message metadata spec.md §3's "Controller
// instance" data model carries alongside params.
type RequestHeaders struct {
	Method        string
	Type          string
	Controller    string
	Action        string
	ID            string
	CorrelationID string
	ReplyTo       string
	ContentType   string
}

// Context is the per-message controller instance: one is built fresh
// for every delivery, lives only for the duration of Call, and is
// discarded afterward.
type Context struct {
	Headers   RequestHeaders
	Params    map[string]interface{}
	RawString string

	rendered *response.Response
}

// Render sets the response a controller action (or before-action, or
// rescue handler) produces. status may be an int or one of the symbol
// names in statusCodes (":ok", ":unprocessable_entity", ...), mirroring
// spec.md §4.7's "status may be a symbol or an integer".
func (c *Context) Render(status interface{}, body interface{}, headers map[string]string) {
	code, err := resolveStatus(status)
	if err != nil {
		code = 500
	}
	if headers == nil {
		headers = map[string]string{}
	}
	c.rendered = &response.Response{Status: code, Body: body, Headers: headers}
}

// Rendered reports whether Render has already been called, the signal
// a before-action filter uses to halt the chain early.
func (c *Context) Rendered() bool { return c.rendered != nil }

// haltError is a sentinel error BeforeAction filters and Actions can
// return to short-circuit without treating it as a real failure, used
// when a filter renders and stops the chain (spec.md §4.7 step 3).
type haltError struct{}

func (haltError) Error() string { return "halted after render" }

// Halt stops the before-action chain or action after a Render call.
var Halt = haltError{}

// BeforeAction is one entry in the `_all_actions`-then-specific filter
// chain spec.md §4.7 step 3 describes. Only/Except scope it to a
// subset of actions; both nil means it runs for every action.
type BeforeAction struct {
	Name   string
	Only   []string
	Except []string
	Run    func(ctx *Context) error
}

func (b BeforeAction) appliesTo(action string) bool {
	if len(b.Only) > 0 {
		return contains(b.Only, action)
	}
	if len(b.Except) > 0 {
		return !contains(b.Except, action)
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// RescueEntry is one entry in the rescue-from registry, matched in
// LIFO order (last registered, first tried) per spec.md §4.7 step 6.
type RescueEntry struct {
	Matches func(err error) bool
	Handle  func(ctx *Context, err error)
}

// Definition describes a controller class: its action set, its
// before-action chain, and its rescue-from registry. One Definition is
// resolved per controller name and invoked once per delivery.
type Definition struct {
	Actions       map[string]func(ctx *Context) error
	BeforeActions []BeforeAction
	RescueFrom    []RescueEntry
}

// Handler is what Router dispatches to: Call runs one message through
// a Definition and returns the structured response.
type Handler interface {
	Call(headers RequestHeaders, params map[string]interface{}, body []byte) (*response.Response, error)
}

// Call implements spec.md §4.7's one-shot entry point.
func (d *Definition) Call(headers RequestHeaders, params map[string]interface{}, body []byte) (resp *response.Response, err error) {
	ctx := &Context{Headers: headers, Params: cloneParams(params)}
	mergeBody(ctx, body)

	defer func() {
		if rec := recover(); rec != nil {
			recErr, ok := rec.(error)
			if !ok {
				recErr = fmt.Errorf("%v", rec)
			}
			resp, err = d.rescue(ctx, recErr)
		}
	}()

	if halted := d.runBeforeActions(ctx); halted {
		return ctx.rendered, nil
	}

	action, ok := d.Actions[headers.Action]
	if !ok {
		return d.rescue(ctx, fmt.Errorf("controller: unknown action %q", headers.Action))
	}

	if actErr := action(ctx); actErr != nil && actErr != Halt {
		return d.rescue(ctx, actErr)
	}

	if ctx.rendered != nil {
		return ctx.rendered, nil
	}
	return response.NoContent(), nil
}

func (d *Definition) runBeforeActions(ctx *Context) bool {
	for _, b := range d.BeforeActions {
		if !b.appliesTo(ctx.Headers.Action) {
			continue
		}
		if err := b.Run(ctx); err != nil && err != Halt {
			panic(err)
		}
		if ctx.Rendered() {
			return true
		}
	}
	return false
}

func (d *Definition) rescue(ctx *Context, err error) (*response.Response, error) {
	for i := len(d.RescueFrom) - 1; i >= 0; i-- {
		entry := d.RescueFrom[i]
		if entry.Matches(err) {
			entry.Handle(ctx, err)
			if ctx.rendered != nil {
				return ctx.rendered, nil
			}
			break
		}
	}
	return &response.Response{
		Status: 500,
		Body:   map[string]interface{}{"error": "internal_server_error", "detail": err.Error()},
	}, nil
}

func mergeBody(ctx *Context, body []byte) {
	if len(body) == 0 {
		return
	}
	if ctx.Headers.ContentType != "" && !strings.Contains(ctx.Headers.ContentType, "json") {
		ctx.RawString = string(body)
		return
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		ctx.RawString = string(body)
		return
	}
	if m, ok := decoded.(map[string]interface{}); ok {
		for k, v := range m {
			ctx.Params[k] = v
		}
		return
	}
	ctx.RawString = string(body)
}

func cloneParams(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

var statusCodes = map[string]int{
	"ok":                    200,
	"created":               201,
	"accepted":              202,
	"no_content":            204,
	"bad_request":           400,
	"unauthorized":          401,
	"forbidden":             403,
	"not_found":             404,
	"not_acceptable":        406,
	"request_timeout":       408,
	"conflict":              409,
	"unprocessable_entity":  422,
	"too_many_requests":     429,
	"internal_server_error": 500,
	"not_implemented":       501,
	"service_unavailable":   503,
}

func resolveStatus(status interface{}) (int, error) {
	switch v := status.(type) {
	case int:
		return v, nil
	case string:
		name := strings.TrimPrefix(v, ":")
		code, ok := statusCodes[name]
		if !ok {
			return 0, fmt.Errorf("controller: unknown status symbol %q", v)
		}
		return code, nil
	default:
		return 0, fmt.Errorf("controller: status must be int or symbol string, got %T", status)
	}
}
