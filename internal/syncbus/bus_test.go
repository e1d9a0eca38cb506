package syncbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

func recv(t *testing.T, sub *Subscription) triage.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return triage.Event{}
}

func TestPublish_StampsOriginAndFansOut(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	a, c := b.Subscribe(4), b.Subscribe(4)
	defer a.Close()
	defer c.Close()

	b.Publish(context.Background(), triage.Event{Kind: triage.EventCaseUpdated, CaseID: "c1", Origin: "spoofed"})

	for _, sub := range []*Subscription{a, c} {
		ev := recv(t, sub)
		if ev.Origin != b.ID() {
			t.Errorf("Origin = %q, want %q", ev.Origin, b.ID())
		}
		if ev.CaseID != "c1" || ev.Kind != triage.EventCaseUpdated {
			t.Errorf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Error("At not stamped")
		}
	}
}

func TestDeliver_SkipsOwnOrigin(t *testing.T) {
	t.Parallel()

	b := New(nil)
	sub := b.Subscribe(4)
	defer sub.Close()

	b.Deliver(triage.Event{Kind: triage.EventReset, Origin: b.ID()})
	b.Deliver(triage.Event{Kind: triage.EventReset, Origin: "other"})

	ev := recv(t, sub)
	if ev.Origin != "other" {
		t.Errorf("Origin = %q, want other", ev.Origin)
	}
	select {
	case ev := <-sub.C():
		t.Errorf("unexpected second event %+v", ev)
	default:
	}
}

func TestPublish_SlowSubscriberGetsResync(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	slow := b.Subscribe(2)
	defer slow.Close()

	for i := range 5 {
		b.Publish(context.Background(), triage.Event{Kind: triage.EventToast, Message: string(rune('a' + i))})
	}

	var got []triage.Event
drain:
	for {
		select {
		case ev := <-slow.C():
			got = append(got, ev)
		default:
			break drain
		}
	}

	if len(got) == 0 {
		t.Fatal("no events queued")
	}
	last := got[len(got)-1]
	if last.Kind != triage.EventResync && got[0].Kind != triage.EventResync {
		t.Errorf("events = %+v, want a resync after overflow", got)
	}
	if len(got) > 2 {
		t.Errorf("queued %d events, buffer is 2", len(got))
	}
}

func TestPublish_DoesNotBlock(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	sub := b.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 1000 {
			b.Publish(context.Background(), triage.Event{Kind: triage.EventCaseUpdated})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a subscriber that never reads")
	}
}

func TestSubscription_Close(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	sub := b.Subscribe(0)
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", b.Subscribers())
	}

	sub.Close()
	sub.Close()

	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", b.Subscribers())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}

	// publishing after close must not panic
	b.Publish(context.Background(), triage.Event{Kind: triage.EventReset})
}

func TestPublish_ConcurrentWithClose(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		sub := b.Subscribe(1)
		go func() {
			defer wg.Done()
			b.Publish(context.Background(), triage.Event{Kind: triage.EventCaseUpdated})
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()

	if b.Subscribers() != 0 {
		t.Errorf("Subscribers = %d, want 0", b.Subscribers())
	}
}
