package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/broadcast"
	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/session"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

type fakeRelay struct {
	attached atomic.Int32
	released atomic.Int32
}

func (f *fakeRelay) Attach() func() {
	f.attached.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			f.released.Add(1)
		}
	}
}

func (f *fakeRelay) Close() {}

type harness struct {
	group    *broadcast.Group
	relay    *fakeRelay
	sessions chan *session.Session
	errs     chan error
	srv      *httptest.Server
}

func newHarness(t *testing.T, ctx context.Context) *harness {
	t.Helper()
	h := &harness{
		group:    broadcast.NewGroup("crypto_updates", 16, logger.Nop()),
		relay:    &fakeRelay{},
		sessions: make(chan *session.Session, 4),
		errs:     make(chan error, 16),
	}
	up := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := session.New(conn, h.group, h.relay, session.Config{WriteTimeout: time.Second}, logger.Nop())
		h.sessions <- s
		h.errs <- s.Serve(ctx)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T) (*websocket.Conn, *session.Session) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	select {
	case s := <-h.sessions:
		return conn, s
	case <-time.After(2 * time.Second):
		t.Fatal("no session")
		return nil, nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSession_StreamsPriceUpdates(t *testing.T) {
	h := newHarness(t, context.Background())
	conn, s := h.dial(t)
	defer conn.Close()

	waitFor(t, func() bool { return s.State() == session.Streaming && h.group.Len() == 1 })
	if h.relay.attached.Load() != 1 {
		t.Fatalf("attached = %d; want 1", h.relay.attached.Load())
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h.group.Publish(domain.PriceTick{Symbol: "BTC/USDT", Price: decimal.RequireFromString("45000.0000000001"), ObservedAt: at})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	want := map[string]string{
		"type":      "send_price_update",
		"symbol":    "BTC/USDT",
		"price":     "45000.0000000001",
		"timestamp": "2024-01-02 03:04:05",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q; want %q", k, got[k], v)
		}
	}
}

func TestSession_InboundMessagesIgnored(t *testing.T) {
	h := newHarness(t, context.Background())
	conn, s := h.dial(t)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"x":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if s.State() != session.Streaming {
		t.Errorf("state = %v; want streaming", s.State())
	}
}

func TestSession_PeerCloseReleasesUpstream(t *testing.T) {
	h := newHarness(t, context.Background())
	conn, s := h.dial(t)
	waitFor(t, func() bool { return s.State() == session.Streaming })

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
	waitFor(t, func() bool { return h.relay.released.Load() == 1 })
	if h.group.Len() != 0 {
		t.Errorf("group len = %d; want 0", h.group.Len())
	}
	if s.State() != session.Closed {
		t.Errorf("state = %v; want closed", s.State())
	}
}

func TestSession_ContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, ctx)
	conn, s := h.dial(t)
	defer conn.Close()
	waitFor(t, func() bool { return s.State() == session.Streaming })

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed on cancel")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read err = %v; want normal close", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t, context.Background())
	conn, s := h.dial(t)
	defer conn.Close()
	waitFor(t, func() bool { return s.State() == session.Streaming })

	s.Close()
	s.Close()
	waitFor(t, func() bool { return h.relay.released.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := h.relay.released.Load(); n != 1 {
		t.Errorf("released = %d; want 1", n)
	}
}

func TestSession_ExternalCloseIsNotEviction(t *testing.T) {
	h := newHarness(t, context.Background())
	for i := 0; i < 8; i++ {
		conn, s := h.dial(t)
		waitFor(t, func() bool { return s.State() == session.Streaming })

		s.Close()
		select {
		case err := <-h.errs:
			if err != nil {
				t.Errorf("run %d: Serve = %v; want nil", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after Close")
		}
		conn.Close()
	}
}

func TestState_String(t *testing.T) {
	cases := map[session.State]string{
		session.Connecting: "connecting",
		session.Streaming:  "streaming",
		session.Closed:     "closed",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q; want %q", int32(st), st.String(), want)
		}
	}
}
