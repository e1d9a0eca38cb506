package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/postgres"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

func TestPGBridge_Handle(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	br := NewPGBridge(nil, b, "", log.Nop())
	if br.channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", br.channel, DefaultChannel)
	}

	sub := b.Subscribe(8)
	defer sub.Close()

	ctx := context.Background()
	br.handle(ctx, "not json")
	br.handle(ctx, `{"type":"reset"}`)
	br.handle(ctx, `{"type":"reset","origin":"`+b.ID()+`"}`)
	br.handle(ctx, `{"type":"case_updated","caseId":"c9","origin":"remote"}`)

	ev := recv(t, sub)
	if ev.CaseID != "c9" || ev.Origin != "remote" {
		t.Errorf("delivered %+v, want remote case_updated", ev)
	}
	select {
	case ev := <-sub.C():
		t.Errorf("unexpected event %+v", ev)
	default:
	}
}

func TestPGBridge_Outbound(t *testing.T) {
	t.Parallel()

	b := New(log.Nop())
	br := NewPGBridge(nil, b, "chan", nil)

	tests := []struct {
		name string
		ev   triage.Event
		want bool
	}{
		{"local case update", triage.Event{Kind: triage.EventCaseUpdated, Origin: b.ID()}, true},
		{"local reset", triage.Event{Kind: triage.EventReset, Origin: b.ID()}, true},
		{"local resync", triage.Event{Kind: triage.EventResync, Origin: b.ID()}, false},
		{"remote", triage.Event{Kind: triage.EventCaseUpdated, Origin: "x"}, false},
	}
	for _, tt := range tests {
		if got := br.outbound(tt.ev); got != tt.want {
			t.Errorf("%s: outbound = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPGBridge_RelaysBetweenProcesses(t *testing.T) {
	url := os.Getenv("CAREBRIDGE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CAREBRIDGE_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	channel := "carebridge_test_" + uuid.NewString()[:8]
	left, right := New(log.Nop()), New(log.Nop())

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	for _, bus := range []*Bus{left, right} {
		go func() { _ = NewPGBridge(pool, bus, channel, log.Nop()).Run(runCtx) }()
	}

	sub := right.Subscribe(8)
	defer sub.Close()
	// bridge subscriptions plus ours
	waitFor(t, func() bool { return left.Subscribers() == 1 && right.Subscribers() == 2 })

	// LISTEN is asynchronous to Run; keep publishing until one arrives.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == triage.EventResync {
				continue
			}
			if ev.Origin != left.ID() || ev.CaseID != "c1" {
				t.Fatalf("received %+v", ev)
			}
			return
		case <-tick.C:
			left.Publish(ctx, triage.Event{Kind: triage.EventCaseUpdated, CaseID: "c1"})
		case <-deadline:
			t.Fatal("event never crossed the bridge")
		}
	}
}
