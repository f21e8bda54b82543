// Package vurl implements the virtual URL grammar from spec.md §6:
//
//	path := segment ( "/" segment )* ( "?" query )?
//
// placed in the AMQP `type` property, plus the Rails-style bracketed
// nested-query codec the router uses to build controller params
// (a[b]=1&a[c][]=x&a[c][]=y -> {"a": {"b": "1", "c": ["x", "y"]}}).
//
// No pack dependency implements this: gorilla/schema, go-querystring
// and ajg/form all decode into typed Go structs, not an open
// map[string]any tree, so this is a small hand-rolled codec over
// net/url in the teacher's plain-stdlib style (see DESIGN.md).
package vurl

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Parsed is the result of splitting a virtual URL into its path and
// nested query parameters.
type Parsed struct {
	Path     string
	Query    map[string]interface{}
	Segments []string
}

// Parse splits raw as path[?query], per spec.md §9 Open Question (b):
// the first "?" is always the query delimiter, so segments must not
// themselves contain "?".
func Parse(raw string) (*Parsed, error) {
	path := raw
	query := ""
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		path = raw[:idx]
		query = raw[idx+1:]
	}
	q, err := ParseNestedQuery(query)
	if err != nil {
		return nil, err
	}
	return &Parsed{
		Path:     path,
		Query:    q,
		Segments: Segments(path),
	}, nil
}

// Segments splits path on "/" into its non-empty parts.
func Segments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseNestedQuery parses a bracketed-nested query string into a
// map[string]interface{} tree. A trailing "[]" on a key produces an
// ordered []interface{} sequence; any other bracketed suffix produces
// nested maps.
func ParseNestedQuery(raw string) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	if raw == "" {
		return result, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		rawKey := kv[0]
		rawVal := ""
		if len(kv) == 2 {
			rawVal = kv[1]
		}
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, err
		}
		val, err := url.QueryUnescape(rawVal)
		if err != nil {
			return nil, err
		}
		assign(result, tokenize(key), val)
	}
	return result, nil
}

// tokenize splits "a[b][c][]" into ["a", "b", "c", ""].
func tokenize(key string) []string {
	root := key
	var rest string
	if idx := strings.IndexByte(key, '['); idx >= 0 {
		root = key[:idx]
		rest = key[idx:]
	}
	tokens := []string{root}
	for len(rest) > 0 {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}
		tokens = append(tokens, rest[1:end])
		rest = rest[end+1:]
	}
	return tokens
}

// assign walks tokens into tree, creating maps as needed, and appends
// to a slice when the final token is empty ("[]").
func assign(tree map[string]interface{}, tokens []string, value string) {
	if len(tokens) == 1 {
		tree[tokens[0]] = value
		return
	}
	head, next := tokens[0], tokens[1]
	if len(tokens) == 2 && next == "" {
		existing, _ := tree[head].([]interface{})
		tree[head] = append(existing, value)
		return
	}
	child, ok := tree[head].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		tree[head] = child
	}
	assign(child, tokens[1:], value)
}

// Build renders params back into a bracketed nested query string, the
// inverse of ParseNestedQuery, used by Resource.Where to construct
// GET <resource>?<nested-query> requests. Keys are sorted for
// deterministic output.
func Build(params map[string]interface{}) string {
	var pairs []string
	for _, k := range sortedKeys(params) {
		pairs = append(pairs, buildPair(k, params[k])...)
	}
	return strings.Join(pairs, "&")
}

func buildPair(prefix string, v interface{}) []string {
	switch val := v.(type) {
	case map[string]interface{}:
		var out []string
		for _, k := range sortedKeys(val) {
			out = append(out, buildPair(prefix+"["+k+"]", val[k])...)
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range val {
			out = append(out, buildPair(prefix+"[]", item)...)
		}
		return out
	default:
		return []string{url.QueryEscape(prefix) + "=" + url.QueryEscape(toString(val))}
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
