package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/broadcast"
	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/internal/storage"
	transport "github.com/leraspizh/crypto-project/internal/transport/http"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

type nopRelay struct{}

func (nopRelay) Attach() func() { return func() {} }
func (nopRelay) Close()         {}

func newRouter(t *testing.T, n int) (http.Handler, *storage.Memory, *broadcast.Group) {
	t.Helper()
	mem := storage.NewMemory(0)
	for i := 0; i < n; i++ {
		if _, err := mem.Record(context.Background(), "BTC/USDT", decimal.NewFromInt(int64(100+i))); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	group := broadcast.NewGroup("crypto_updates", 8, logger.Nop())
	h := transport.NewHandler(mem, group, nopRelay{}, transport.Options{
		Symbols: []string{"BTC/USDT", "ETH/USDT"},
		Latest:  mem,
	}, logger.Nop())
	return transport.Routes(h), mem, group
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndex(t *testing.T) {
	h, _, _ := newRouter(t, 0)
	rec := get(t, h, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"BTC/USDT", "ETH/USDT", "/ws/crypto/"} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}
}

func TestListPrices(t *testing.T) {
	h, _, _ := newRouter(t, 5)

	cases := []struct {
		target   string
		wantCode int
		wantLen  int
	}{
		{"/api/prices/", http.StatusOK, 5},
		{"/api/prices/?limit=2", http.StatusOK, 2},
		{"/api/prices/?limit=5000", http.StatusOK, 5},
		{"/api/prices/?limit=0", http.StatusBadRequest, 0},
		{"/api/prices/?limit=abc", http.StatusBadRequest, 0},
	}
	for _, c := range cases {
		t.Run(c.target, func(t *testing.T) {
			rec := get(t, h, c.target)
			if rec.Code != c.wantCode {
				t.Fatalf("code = %d; want %d", rec.Code, c.wantCode)
			}
			if c.wantCode != http.StatusOK {
				return
			}
			var recs []storage.PriceRecord
			if err := json.Unmarshal(rec.Body.Bytes(), &recs); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(recs) != c.wantLen {
				t.Fatalf("len = %d; want %d", len(recs), c.wantLen)
			}
			for i := 1; i < len(recs); i++ {
				if recs[i-1].ID < recs[i].ID {
					t.Errorf("not newest first: %d before %d", recs[i-1].ID, recs[i].ID)
				}
			}
		})
	}
}

func TestListPrices_EmptyIsArray(t *testing.T) {
	h, _, _ := newRouter(t, 0)
	rec := get(t, h, "/api/prices/")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q; want []", got)
	}
}

func TestGetPrice(t *testing.T) {
	h, mem, _ := newRouter(t, 0)
	r, _ := mem.Record(context.Background(), "ETH/USDT", decimal.RequireFromString("3000.5"))

	rec := get(t, h, "/api/prices/"+jsonID(r.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got storage.PriceRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Symbol != "ETH/USDT" || !got.Price.Equal(decimal.RequireFromString("3000.5")) {
		t.Errorf("got %+v", got)
	}

	if rec := get(t, h, "/api/prices/999"); rec.Code != http.StatusNotFound {
		t.Errorf("missing id code = %d; want 404", rec.Code)
	}
	if rec := get(t, h, "/api/prices/xyz"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id code = %d; want 400", rec.Code)
	}
}

func TestLatestPrices(t *testing.T) {
	h, mem, _ := newRouter(t, 3)
	if _, err := mem.Record(context.Background(), "ETH/USDT", decimal.RequireFromString("3000.5")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := get(t, h, "/api/prices/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var got map[string]storage.PriceRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}
	if p := got["BTC/USDT"].Price; !p.Equal(decimal.NewFromInt(102)) {
		t.Errorf("BTC/USDT = %s; want 102", p)
	}
	if p := got["ETH/USDT"].Price; !p.Equal(decimal.RequireFromString("3000.5")) {
		t.Errorf("ETH/USDT = %s; want 3000.5", p)
	}
}

func TestLatestPrices_Disabled(t *testing.T) {
	group := broadcast.NewGroup("crypto_updates", 8, logger.Nop())
	h := transport.NewHandler(storage.NewMemory(0), group, nopRelay{}, transport.Options{}, logger.Nop())
	if rec := get(t, transport.Routes(h), "/api/prices/latest"); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d; want 404", rec.Code)
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestStream_DeliversGroupMessages(t *testing.T) {
	h, _, group := newRouter(t, 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + transport.StreamPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for group.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	group.Publish(domain.PriceTick{Symbol: "ETH/USDT", Price: decimal.RequireFromString("10.5"), ObservedAt: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg domain.PriceUpdate
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != domain.MessageTypePriceUpdate || msg.Symbol != "ETH/USDT" || msg.Price != "10.5" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	group := broadcast.NewGroup("crypto_updates", 8, logger.Nop())
	h := transport.NewHandler(storage.NewMemory(0), group, nopRelay{}, transport.Options{
		AllowedOrigins: []string{"https://prices.example.com"},
	}, logger.Nop())
	srv := httptest.NewServer(transport.Routes(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + transport.StreamPath
	hdr := http.Header{"Origin": []string{"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(url, hdr); err == nil {
		t.Fatal("expected handshake failure")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v", resp)
	}

	hdr.Set("Origin", "https://prices.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}
