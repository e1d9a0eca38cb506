package syncbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/postgres"
	"github.com/linnemanlabs/carebridge/internal/triage"
)

// DefaultChannel is the LISTEN/NOTIFY channel used when none is configured.
const DefaultChannel = "carebridge_events"

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second

	// NOTIFY payloads are capped at 8000 bytes by Postgres.
	maxPayload = 7999
)

// PGBridge relays bus events between processes through Postgres
// LISTEN/NOTIFY. Events published locally are sent out; notifications from
// other processes are delivered to local subscribers. Events originating on
// this bus are never delivered back to it.
type PGBridge struct {
	pool    *pgxpool.Pool
	bus     *Bus
	channel string
	logger  log.Logger
}

// NewPGBridge creates a bridge on channel. An empty channel uses DefaultChannel.
func NewPGBridge(pool *pgxpool.Pool, bus *Bus, channel string, logger log.Logger) *PGBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &PGBridge{
		pool:    pool,
		bus:     bus,
		channel: channel,
		logger:  logger.With("component", "pgbridge", "channel", channel),
	}
}

// Run relays events until ctx is cancelled. Listener connection failures are
// retried with backoff; Run only returns ctx's error.
func (b *PGBridge) Run(ctx context.Context) error {
	sub := b.bus.Subscribe(256)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.forward(ctx, sub)
	}()

	delay := minReconnectDelay
	for attempt := 0; ; attempt++ {
		err := b.listen(ctx, attempt > 0)
		if ctx.Err() != nil {
			break
		}
		b.logger.Warn(ctx, "listener lost, reconnecting", "err", err, "delay", delay.String())

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
		if ctx.Err() != nil {
			break
		}
		delay = min(delay*2, maxReconnectDelay)
	}

	sub.Close()
	<-done
	return ctx.Err()
}

// listen holds one connection in LISTEN until it fails or ctx ends.
func (b *PGBridge) listen(ctx context.Context, reconnected bool) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener: %w", err)
	}
	defer func() {
		if !conn.Conn().IsClosed() {
			uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = conn.Exec(uctx, "UNLISTEN *")
			cancel()
		}
		conn.Release()
	}()

	if _, err := conn.Exec(postgres.WithOp(ctx, "syncbus.Listen"), "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	b.logger.Info(ctx, "listening for remote events")

	// Notifications sent while disconnected are lost.
	if reconnected {
		b.bus.Deliver(triage.Event{Kind: triage.EventResync, At: time.Now()})
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.handle(ctx, n.Payload)
	}
}

// handle decodes one notification payload and delivers it locally.
func (b *PGBridge) handle(ctx context.Context, payload string) {
	var ev triage.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Warn(ctx, "dropping malformed notification", "err", err)
		return
	}
	if ev.Origin == "" || ev.Origin == b.bus.ID() {
		return
	}
	b.bus.Deliver(ev)
}

// forward sends locally originated events to the channel.
func (b *PGBridge) forward(ctx context.Context, sub *Subscription) {
	for ev := range sub.C() {
		if !b.outbound(ev) {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			b.logger.Error(ctx, err, "encode event")
			continue
		}
		if len(payload) > maxPayload {
			b.logger.Warn(ctx, "event too large for notify, dropping", "event", string(ev.Kind), "bytes", len(payload))
			continue
		}
		nctx := triage.WithScope(postgres.WithOp(ctx, "syncbus.Notify"), triage.Scope{PatientID: ev.PatientID, CaseID: ev.CaseID})
		if _, err := b.pool.Exec(nctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.logger.Error(ctx, err, "notify failed", "event", string(ev.Kind))
		}
	}
}

// outbound reports whether ev should leave this process. Resync events are
// local bookkeeping and remote events are already everywhere they need to be.
func (b *PGBridge) outbound(ev triage.Event) bool {
	return ev.Origin == b.bus.ID() && ev.Kind != triage.EventResync
}
