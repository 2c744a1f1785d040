package natskv

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/phasegate/internal/port/cache/cachetest"
	"github.com/Strob0t/phasegate/internal/port/counter/countertest"
)

// startJetStream runs an embedded JetStream-enabled server for the test.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	return js
}

func TestCacheCompliance(t *testing.T) {
	js := startJetStream(t)
	kv, err := OpenBucket(context.Background(), js, "PHASE_CACHE", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	cachetest.RunComplianceTests(t, New(kv))
}

func TestCounterCompliance(t *testing.T) {
	js := startJetStream(t)
	kv, err := OpenBucket(context.Background(), js, "HITL_COUNTERS", 0)
	if err != nil {
		t.Fatal(err)
	}
	countertest.RunComplianceTests(t, NewCounter(kv))
}

func TestCounterSharedAcrossReplicas(t *testing.T) {
	js := startJetStream(t)
	ctx := context.Background()
	kv, err := OpenBucket(ctx, js, "HITL_COUNTERS", 0)
	if err != nil {
		t.Fatal(err)
	}

	a, b := NewCounter(kv), NewCounter(kv)
	for range 3 {
		if _, err := a.Incr(ctx, "hitl.counter.p1"); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := b.Get(ctx, "hitl.counter.p1"); v != 3 {
		t.Fatalf("expected 3 from second replica, got %d", v)
	}
	if v, _ := b.Incr(ctx, "hitl.counter.p1"); v != 4 {
		t.Errorf("expected 4, got %d", v)
	}
	if err := a.Set(ctx, "hitl.counter.p1", 0); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Get(ctx, "hitl.counter.p1"); v != 0 {
		t.Errorf("expected reset to reach every replica, got %d", v)
	}
}
