package params

import (
	"testing"
	"time"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Params{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var p Params
	cloned := p.Clone()
	if cloned == nil {
		t.Fatal("expected non-nil map")
	}
	if len(cloned) != 0 {
		t.Fatal("expected empty map")
	}
}

func TestWithAndWithAll(t *testing.T) {
	base := Params{"realm": "internal"}
	enriched := base.With("timeout", "5s")
	if _, ok := base["timeout"]; ok {
		t.Fatalf("expected base map to remain unchanged")
	}

	merged := enriched.WithAll(Params{"retries": "3"})
	if merged["retries"] != "3" || merged["timeout"] != "5s" || merged["realm"] != "internal" {
		t.Fatalf("unexpected merged params: %#v", merged)
	}
}

func TestTypedGetters(t *testing.T) {
	p := New("retries", "3", "strict", "true", "timeout", "250ms", "broken", "x")

	if n, err := p.Int("retries", 0); err != nil || n != 3 {
		t.Fatalf("Int() = %d, %v", n, err)
	}
	if n, err := p.Int("missing", 7); err != nil || n != 7 {
		t.Fatalf("Int(missing) = %d, %v", n, err)
	}
	if _, err := p.Int("broken", 0); err == nil {
		t.Fatal("expected parse error")
	}
	if b, err := p.Bool("strict", false); err != nil || !b {
		t.Fatalf("Bool() = %v, %v", b, err)
	}
	if _, err := p.Bool("broken", false); err == nil {
		t.Fatal("expected parse error")
	}
	if d, err := p.Duration("timeout", 0); err != nil || d != 250*time.Millisecond {
		t.Fatalf("Duration() = %v, %v", d, err)
	}
	if got := p.String("missing", "fallback"); got != "fallback" {
		t.Fatalf("String() = %q", got)
	}
}

func TestKeysSorted(t *testing.T) {
	p := New("b", "2", "a", "1", "c", "3")
	keys := p.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("Keys() = %v", keys)
	}
}
