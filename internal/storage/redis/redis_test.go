package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

func newTestSink(t *testing.T) (*Sink, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, logger.Nop()), mr, rdb
}

func TestRecord_StoresLatestAndNumbers(t *testing.T) {
	s, mr, _ := newTestSink(t)
	ctx := context.Background()

	r1, err := s.Record(ctx, "BTC/USDT", decimal.RequireFromString("45000.01"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	r2, err := s.Record(ctx, "BTC/USDT", decimal.RequireFromString("45000.0000000001"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if r1.ID != 1 || r2.ID != 2 {
		t.Errorf("ids = %d, %d", r1.ID, r2.ID)
	}

	raw := mr.HGet(LatestKey, "BTC/USDT")
	var got storage.PriceRecord
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("stored value %q: %v", raw, err)
	}
	if !got.Price.Equal(decimal.RequireFromString("45000.0000000001")) {
		t.Errorf("latest price = %s", got.Price)
	}

	latest, err := s.Latest(ctx)
	if err != nil || len(latest) != 1 || latest["BTC/USDT"].ID != 2 {
		t.Errorf("Latest = %+v, %v", latest, err)
	}
}

func TestRecord_Publishes(t *testing.T) {
	s, _, rdb := newTestSink(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, ChannelPrefix+"ETH/USDT")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil { // subscription confirmation
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := s.Record(ctx, "ETH/USDT", decimal.RequireFromString("3000.5")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var rec storage.PriceRecord
		if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
			t.Fatalf("payload %q: %v", msg.Payload, err)
		}
		if rec.Symbol != "ETH/USDT" || rec.Price.String() != "3000.5" {
			t.Errorf("published = %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRecord_ServerDown(t *testing.T) {
	s, mr, _ := newTestSink(t)
	mr.Close()
	if _, err := s.Record(context.Background(), "BTC/USDT", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error with server down")
	}
}

func TestNew_PingFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := New(context.Background(), Config{Enabled: true, Addr: addr, Timeout: 100 * time.Millisecond}, logger.Nop())
	if err == nil {
		t.Fatal("expected ping error")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Enabled: true}).Validate(); err == nil {
		t.Error("enabled without addr must fail")
	}
	if err := (Config{}).Validate(); err != nil {
		t.Errorf("disabled: %v", err)
	}
}
