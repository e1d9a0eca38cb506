package syncbus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/carebridge/internal/triage"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second

	// ViewerIDHeader carries the viewer id on the upgrade response.
	ViewerIDHeader = "X-Viewer-Id"
)

// StreamOptions configures a Stream.
type StreamOptions struct {
	// OriginPatterns is passed to websocket.AcceptOptions. Empty means
	// same-origin only.
	OriginPatterns []string

	// Buffer is the per-viewer event queue length.
	Buffer int

	// PingInterval is the keepalive period. Zero uses 30s.
	PingInterval time.Duration
}

// Stream is an http.Handler that upgrades to a WebSocket and forwards every
// bus event to the viewer as a JSON text frame.
type Stream struct {
	bus    *Bus
	logger log.Logger
	opts   StreamOptions

	mu      sync.Mutex
	closing bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStream creates a stream handler over bus.
func NewStream(bus *Bus, logger log.Logger, opts StreamOptions) *Stream {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Stream{bus: bus, logger: logger, opts: opts, done: make(chan struct{})}
}

// acquire registers a viewer. It fails once Close has started.
func (s *Stream) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

// viewerMessage is what a viewer may send. Only "ping" is understood.
type viewerMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		http.Error(w, "stream closing", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	viewerID := uuid.NewString()
	L := s.logger.With("viewer_id", viewerID)

	// The stream outlives the server's per-request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set(ViewerIDHeader, viewerID)
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		L.Error(r.Context(), err, "websocket accept failed")
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "stream ended")
	}()

	sub := s.bus.Subscribe(s.opts.Buffer)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	L.Info(ctx, "viewer connected", "remote_addr", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)

	// Read loop: detects the viewer going away and answers pings.
	go func() {
		defer wg.Done()
		defer cancel()
		s.readLoop(ctx, ws, L)
	}()

	// Write loop: bus -> viewer.
	go func() {
		defer wg.Done()
		defer cancel()
		s.writeLoop(ctx, ws, sub, L)
	}()

	wg.Wait()
	L.Info(context.WithoutCancel(ctx), "viewer disconnected")
}

// Close refuses new viewers, disconnects open ones and waits for their
// handlers to return. It is safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Stream) readLoop(ctx context.Context, ws *websocket.Conn, L log.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				L.Warn(ctx, "websocket read error", "err", err)
			}
			return
		}

		var msg viewerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (s *Stream) writeLoop(ctx context.Context, ws *websocket.Conn, sub *Subscription, L log.Logger) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					L.Warn(ctx, "websocket write failed", "err", err, "event", string(ev.Kind))
				}
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

var _ triage.Publisher = (*Bus)(nil)
