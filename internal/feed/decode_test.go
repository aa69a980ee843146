package feed

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/domain"
)

func testDecoder() *Decoder {
	return NewDecoder(NewSymbolMapper(
		[]domain.Symbol{"BTC/USDT", "ETH/USDT"},
		DefaultQuoteAssets,
	))
}

func TestDecode_ExactPrice(t *testing.T) {
	at := time.Now()
	tick, err := testDecoder().Decode([]byte(`{"e":"trade","s":"BTCUSDT","p":"45000.0000000001","q":"0.1"}`), at)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if tick.Symbol != "BTC/USDT" {
		t.Errorf("Symbol = %q; want BTC/USDT", tick.Symbol)
	}
	if !tick.Price.Equal(decimal.RequireFromString("45000.0000000001")) {
		t.Errorf("Price = %s; want 45000.0000000001", tick.Price)
	}
	if tick.Price.String() != "45000.0000000001" {
		t.Errorf("Price text = %s", tick.Price.String())
	}
	if !tick.ObservedAt.Equal(at) {
		t.Errorf("ObservedAt = %v; want %v", tick.ObservedAt, at)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"missing fields", `{"x":1}`, ErrNotTrade},
		{"subscribe ack", `{"result":null,"id":1}`, ErrNotTrade},
		{"price only", `{"p":"1.0"}`, ErrNotTrade},
		{"symbol only", `{"s":"BTCUSDT"}`, ErrNotTrade},
		{"null price", `{"s":"BTCUSDT","p":null}`, ErrNotTrade},
		{"malformed json", `{"s":`, ErrDecode},
		{"bad price", `{"s":"BTCUSDT","p":"abc"}`, ErrDecode},
		{"zero price", `{"s":"BTCUSDT","p":"0.00000000"}`, ErrDecode},
		{"negative price", `{"s":"BTCUSDT","p":"-5"}`, ErrDecode},
		{"unknown symbol", `{"s":"FOOBAR","p":"1.5"}`, ErrUnknownSymbol},
	}
	d := testDecoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tt.in), time.Now())
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode(%s) err = %v; want %v", tt.in, err, tt.want)
			}
		})
	}
}

func TestDecode_DecodeErrorCarriesRawValues(t *testing.T) {
	_, err := testDecoder().Decode([]byte(`{"s":"ETHUSDT","p":"12,5"}`), time.Now())
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v; want *DecodeError", err)
	}
	if de.Symbol != "ETHUSDT" || de.Raw != "12,5" {
		t.Errorf("DecodeError = %+v", de)
	}
}

func TestDecode_NumericPriceAndCombinedStream(t *testing.T) {
	d := testDecoder()
	tick, err := d.Decode([]byte(`{"s":"ETHUSDT","p":3100.25}`), time.Now())
	if err != nil {
		t.Fatalf("numeric price: %v", err)
	}
	if tick.Price.String() != "3100.25" {
		t.Errorf("Price = %s", tick.Price)
	}

	tick, err = d.Decode([]byte(`{"stream":"ethusdt@trade","data":{"s":"ETHUSDT","p":"3100.26"}}`), time.Now())
	if err != nil {
		t.Fatalf("combined stream: %v", err)
	}
	if tick.Symbol != "ETH/USDT" || tick.Price.String() != "3100.26" {
		t.Errorf("tick = %+v", tick)
	}
}

func TestSymbolMapper(t *testing.T) {
	m := NewSymbolMapper([]domain.Symbol{"BTC/USDT"}, []string{"usdt", "BTC", "FDUSD", "USDC"})
	tests := []struct {
		in      string
		want    domain.Symbol
		wantErr bool
	}{
		{"BTCUSDT", "BTC/USDT", false},
		{"btcusdt", "BTC/USDT", false},
		{"ETHBTC", "ETH/BTC", false},
		{"SOLUSDC", "SOL/USDC", false},
		{"BTCFDUSD", "BTC/FDUSD", false},
		{"USDT", "", true},
		{"FOOBAR", "", true},
	}
	for _, tt := range tests {
		got, err := m.Translate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Translate(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Translate(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
