package generator

import (
	"testing"
	"time"
)

func TestCache_LRUEviction(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Put(1, Completion{Text: "a"})
	c.Put(2, Completion{Text: "b"})
	if _, ok := c.Get(1); !ok { // 1 becomes most recent
		t.Fatal("expected hit for 1")
	}
	c.Put(3, Completion{Text: "c"})

	if _, ok := c.Get(2); ok {
		t.Fatal("2 should have been evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Fatal("1 should survive")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestCache_TTL(t *testing.T) {
	now := time.Now()
	c := NewCache(4, time.Minute)
	c.now = func() time.Time { return now }
	c.Put(1, Completion{Text: "a"})

	now = now.Add(59 * time.Second)
	if _, ok := c.Get(1); !ok {
		t.Fatal("entry should be live")
	}
	now = now.Add(2 * time.Second)
	if _, ok := c.Get(1); ok {
		t.Fatal("entry should have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not removed, len=%d", c.Len())
	}
}

func TestCache_Disabled(t *testing.T) {
	c := NewCache(0, time.Hour)
	c.Put(1, Completion{Text: "a"})
	if _, ok := c.Get(1); ok {
		t.Fatal("disabled cache must miss")
	}
}

func TestKeyFor_TenantScoped(t *testing.T) {
	a, err := keyFor("t1", ClassGeneral, "friendly", "Hi", "Body")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := keyFor("t2", ClassGeneral, "friendly", "Hi", "Body")
	c, _ := keyFor("t1", ClassGeneral, "friendly", "hi", "  body ")
	if a == b {
		t.Fatal("different tenants must not share a key")
	}
	if a != c {
		t.Fatal("case and whitespace should not change the key")
	}
}
