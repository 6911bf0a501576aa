package jsonx

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

type toggle struct {
	Kind    string      `json:"kind"`
	Enabled Field[bool] `json:"enabled"`
}

func parse(t *testing.T, body string) (toggle, error) {
	t.Helper()
	var v toggle
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	return v, ParseStrictJSONBody(r, &v)
}

func TestFieldPresence(t *testing.T) {
	v, err := parse(t, `{"kind":"a"}`)
	if err != nil || v.Enabled.IsSet() {
		t.Fatalf("missing key: set=%v err=%v", v.Enabled.IsSet(), err)
	}

	v, err = parse(t, `{"kind":"a","enabled":null}`)
	if err != nil || !v.Enabled.IsNull() {
		t.Fatalf("null: %+v %v", v.Enabled, err)
	}
	if _, ok := v.Enabled.Get(); ok {
		t.Fatal("null reported as present")
	}

	v, err = parse(t, `{"kind":"a","enabled":false}`)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := v.Enabled.Get(); !ok || got {
		t.Fatalf("explicit false: %v %v", got, ok)
	}
}

func TestStrictBodyRejects(t *testing.T) {
	cases := map[string]string{
		"empty":    "  \n",
		"unknown":  `{"kind":"a","extra":1}`,
		"trailing": `{"kind":"a"}{"kind":"b"}`,
		"type":     `{"kind":"a","enabled":"yes"}`,
		"syntax":   `{"kind":`,
	}
	for name, body := range cases {
		if _, err := parse(t, body); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	if _, err := parse(t, ""); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := parse(t, `{} []`); !errors.Is(err, ErrTrailingJSON) {
		t.Fatalf("trailing: %v", err)
	}
}
