package vurl

import (
	"reflect"
	"testing"
)

func TestParseSplitsOnFirstQuestionMark(t *testing.T) {
	p, err := Parse("users/42?active=true")
	if err != nil {
		t.Fatal(err)
	}
	if p.Path != "users/42" {
		t.Errorf("Path = %q, want users/42", p.Path)
	}
	if !reflect.DeepEqual(p.Segments, []string{"users", "42"}) {
		t.Errorf("Segments = %v", p.Segments)
	}
	if p.Query["active"] != "true" {
		t.Errorf("Query[active] = %v, want true", p.Query["active"])
	}
}

func TestParseNoQuery(t *testing.T) {
	p, err := Parse("test_user/ping")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Query) != 0 {
		t.Errorf("expected empty query, got %v", p.Query)
	}
}

func TestNestedQueryRoundTrip(t *testing.T) {
	q, err := ParseNestedQuery("q[active]=true&q[roles][]=admin")
	if err != nil {
		t.Fatal(err)
	}
	qMap, ok := q["q"].(map[string]interface{})
	if !ok {
		t.Fatalf("q[\"q\"] = %#v, want map", q["q"])
	}
	if qMap["active"] != "true" {
		t.Errorf("active = %v", qMap["active"])
	}
	roles, ok := qMap["roles"].([]interface{})
	if !ok || len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("roles = %#v", qMap["roles"])
	}

	built := Build(q)
	reparsed, err := ParseNestedQuery(built)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(q, reparsed) {
		t.Errorf("round trip mismatch: %#v != %#v", q, reparsed)
	}
}

func TestBuildMatchesSpecExample(t *testing.T) {
	params := map[string]interface{}{
		"q": map[string]interface{}{
			"active": true,
			"roles":  []interface{}{"admin"},
		},
	}
	got := Build(params)
	want := "q%5Bactive%5D=true&q%5Broles%5D%5B%5D=admin"
	if got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}
