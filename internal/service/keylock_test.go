package service

import (
	"sync"
	"testing"
)

func TestKeyLockSerializesPerKey(t *testing.T) {
	k := newKeyLock()
	counts := map[string]*int{"a": new(int), "b": new(int)}
	var wg sync.WaitGroup
	for i := range 200 {
		key := "a"
		if i%2 == 0 {
			key = "b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			*counts[key]++
			unlock()
		}()
	}
	wg.Wait()

	if *counts["a"] != 100 || *counts["b"] != 100 {
		t.Errorf("unexpected counts: a=%d b=%d", *counts["a"], *counts["b"])
	}
	if len(k.locks) != 0 {
		t.Errorf("expected lock table drained, %d entries left", len(k.locks))
	}
}
