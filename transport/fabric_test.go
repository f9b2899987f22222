package transport

import (
	"context"
	"testing"
	"time"

	"github.com/twitter/fleet/id"
)

func TestSendRecvRoundTrip(t *testing.T) {
	f := NewFabric(2)
	a, b := f.Endpoint(0), f.Endpoint(1)

	type payload struct{ N int }
	if err := a.Send(1, FindNode, payload{N: 42}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, ok := b.Recv(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if env.Tag != FindNode || env.SrcRank != 0 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var got payload
	if err := Decode(env, &got); err != nil {
		t.Fatal(err)
	}
	if got.N != 42 {
		t.Fatalf("expected N=42, got %d", got.N)
	}
}

func TestTryRecvNonBlockingWhenEmpty(t *testing.T) {
	f := NewFabric(1)
	ep := f.Endpoint(0)
	if _, ok := ep.TryRecv(); ok {
		t.Fatal("expected no message on an empty inbox")
	}
}

func TestDeferredMessageSurfacesBeforeNewOnes(t *testing.T) {
	f := NewFabric(2)
	a, b := f.Endpoint(0), f.Endpoint(1)

	if err := a.Send(1, Interrupt, nil); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, ok := b.Recv(ctx)
	if !ok {
		t.Fatal("expected the interrupt message")
	}
	// Description hasn't arrived yet: defer it.
	b.Defer(first)

	if err := a.Send(1, Warmup, nil); err != nil {
		t.Fatal(err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	time.Sleep(10 * time.Millisecond) // let the warmup delivery goroutine land
	second, ok := b.Recv(ctx2)
	if !ok {
		t.Fatal("expected a message")
	}
	if second.Tag != Interrupt {
		t.Fatalf("expected the deferred INTERRUPT to surface first, got %s", second.Tag)
	}
}

func TestFabricSizeMatchesConstructedRankCount(t *testing.T) {
	f := NewFabric(5)
	if f.Size() != 5 {
		t.Fatalf("expected 5 endpoints, got %d", f.Size())
	}
	if f.Endpoint(id.Rank(4)) == nil {
		t.Fatal("expected an endpoint for rank 4")
	}
}
