package cache

import (
	"testing"
	"time"
)

func TestCacheSetGet(t *testing.T) {
	c := New(time.Minute)

	c.Set("k", 42)

	v, ok := c.Get("k")

	if !ok || v.(int) != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Fatal("missing key must not be found")
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)

	c.Set("k", "v")

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("entry must expire after the ttl")
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New(time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")

	if _, ok := c.Get("a"); ok {
		t.Fatal("deleted key must be gone")
	}

	c.Clear()

	if _, ok := c.Get("b"); ok {
		t.Fatal("cleared cache must be empty")
	}
}
