package redisx

import (
	"sync"
	"testing"
)

func TestAsyncIsSingleton(t *testing.T) {
	p := New(Config{Addr: "127.0.0.1:6379"})

	const goroutines = 32
	clients := make([]any, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i] = p.Async()
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if clients[i] != clients[0] {
			t.Fatal("concurrent Async() produced more than one client")
		}
	}
}

func TestAsyncAndBlockingAreIndependent(t *testing.T) {
	p := New(Config{Addr: "127.0.0.1:6379"})
	if p.Async() == p.Blocking() {
		t.Fatal("async and blocking paths must not share a client")
	}
	if p.Async().Options().PoolSize != 50 || p.Blocking().Options().PoolSize != 20 {
		t.Fatalf("unexpected pool sizes: %d/%d",
			p.Async().Options().PoolSize, p.Blocking().Options().PoolSize)
	}
}

func TestShutdownIsIdempotentAndResets(t *testing.T) {
	p := New(Config{Addr: "127.0.0.1:6379"})
	first := p.Async()

	if err := p.Shutdown(); err != nil {
		t.Fatalf("first shutdown failed: %v", err)
	}
	if err := p.Shutdown(); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}

	if p.Async() == first {
		t.Fatal("acquire after shutdown should rebuild the client")
	}
}
