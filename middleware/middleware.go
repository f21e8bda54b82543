// Package middleware implements the onion chain spec.md §4.4 wraps
// around the producer: each wrapper sees the Request on the way down
// and the Response on the way up. Grounded on Boulder's wrapError/
// unwrapError pair (rpc/amqp-rpc.go), generalized from a fixed
// marshal/unmarshal step into an ordered, user-extensible chain.
package middleware

import (
	"encoding/json"

	"github.com/gedera/relay/errors"
	"github.com/gedera/relay/request"
	"github.com/gedera/relay/response"
)

// Next is the terminal step, or the next middleware in the chain,
// invoked with the Request and returning the wire-format reply bytes.
type Next func(req *request.Request) ([]byte, error)

// Middleware wraps Next with behavior that runs before and/or after
// delegating.
type Middleware func(next Next) Next

// Chain folds middlewares from last to first, so the first registered
// is outermost — it sees the Request first on the way down and the
// Response last on the way up, per spec.md §4.4.
func Chain(middlewares []Middleware, terminal Next) Next {
	next := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		next = middlewares[i](next)
	}
	return next
}

// JSONResponse parses response.body if it is a JSON string, leaving
// any other shape untouched, per spec.md §4.4's "JSON response"
// built-in.
func JSONResponse(next Next) Next {
	return func(req *request.Request) ([]byte, error) {
		raw, err := next(req)
		if err != nil {
			return raw, err
		}
		resp, err := response.Parse(raw)
		if err != nil {
			// Not a {status,body,headers} envelope; pass the bytes
			// through unchanged.
			return raw, nil
		}
		if s, ok := resp.Body.(string); ok {
			var decoded interface{}
			if json.Unmarshal([]byte(s), &decoded) == nil {
				resp.Body = decoded
				if reencoded, err := resp.Marshal(); err == nil {
					return reencoded, nil
				}
			}
		}
		return raw, nil
	}
}

// RaiseError inspects response.status and converts 4xx/5xx into a
// relay/errors sentinel, per spec.md §4.4's "Raise on error" built-in
// status→kind mapping. 2xx responses pass through untouched.
func RaiseError(next Next) Next {
	return func(req *request.Request) ([]byte, error) {
		raw, err := next(req)
		if err != nil {
			return raw, err
		}
		resp, perr := response.Parse(raw)
		if perr != nil {
			return raw, nil
		}
		if resp.Status < 300 {
			return raw, nil
		}

		var fields map[string]any
		if resp.Status == 422 {
			if m, ok := resp.Body.(map[string]interface{}); ok {
				if errs, ok := m["errors"].(map[string]interface{}); ok {
					fields = errs
				}
			}
		}
		bodyBytes, _ := json.Marshal(resp.Body)
		return raw, errors.FromStatus(resp.Status, bodyBytes, fields)
	}
}
