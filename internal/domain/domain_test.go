package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Symbol
		wantErr bool
	}{
		{"BTC/USDT", "BTC/USDT", false},
		{"eth/usdt", "ETH/USDT", false},
		{" sol/btc ", "SOL/BTC", false},
		{"BTCUSDT", "", true},
		{"/USDT", "", true},
		{"BTC/", "", true},
		{"A/B/C", "", true},
	}
	for _, tt := range tests {
		got, err := domain.ParseSymbol(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSymbol(%q) err = %v; wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSymbol(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestSymbolForms(t *testing.T) {
	s := domain.NewSymbol("btc", "usdt")
	if s.Base() != "BTC" || s.Quote() != "USDT" {
		t.Errorf("Base/Quote = %s/%s", s.Base(), s.Quote())
	}
	if s.Upstream() != "BTCUSDT" {
		t.Errorf("Upstream = %s", s.Upstream())
	}
	if s.TradeStream() != "btcusdt@trade" {
		t.Errorf("TradeStream = %s", s.TradeStream())
	}
}

func TestNewPriceTick_RejectsNonPositive(t *testing.T) {
	for _, p := range []string{"0", "-1", "-0.0000000001"} {
		_, err := domain.NewPriceTick("BTC/USDT", decimal.RequireFromString(p), time.Now())
		if !errors.Is(err, domain.ErrNonPositivePrice) {
			t.Errorf("price %s: err = %v", p, err)
		}
	}
	if _, err := domain.NewPriceTick("BTC/USDT", decimal.RequireFromString("0.0000000001"), time.Now()); err != nil {
		t.Errorf("tiny positive price rejected: %v", err)
	}
}

func TestNewPriceUpdate(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.FixedZone("MSK", 3*3600))
	tick, _ := domain.NewPriceTick("BTC/USDT", decimal.RequireFromString("45000.0000000001"), at)

	raw, err := json.Marshal(domain.NewPriceUpdate(tick))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"send_price_update","symbol":"BTC/USDT","price":"45000.0000000001","timestamp":"2024-03-05 11:07:09"}`
	if string(raw) != want {
		t.Errorf("envelope =\n%s\nwant\n%s", raw, want)
	}
}
