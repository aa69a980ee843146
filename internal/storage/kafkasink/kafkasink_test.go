package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/storage"
)

type published struct {
	topic      string
	key, value []byte
}

type fakeProducer struct {
	msgs []published
	err  error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, key, value})
	return nil
}
func (f *fakeProducer) Ping(context.Context) error { return nil }
func (f *fakeProducer) Close() error               { return nil }

func TestRecord_PublishesKeyedJSON(t *testing.T) {
	fp := &fakeProducer{}
	s := New(fp, "")

	rec, err := s.Record(context.Background(), "BTC/USDT", decimal.RequireFromString("45000.0000000001"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID != 1 {
		t.Errorf("ID = %d", rec.ID)
	}
	if len(fp.msgs) != 1 {
		t.Fatalf("published %d messages", len(fp.msgs))
	}
	m := fp.msgs[0]
	if m.topic != DefaultTopic || string(m.key) != "BTC/USDT" {
		t.Errorf("topic/key = %s/%s", m.topic, m.key)
	}
	var got storage.PriceRecord
	if err := json.Unmarshal(m.value, &got); err != nil {
		t.Fatalf("value: %v", err)
	}
	if got.Price.String() != "45000.0000000001" {
		t.Errorf("price = %s", got.Price)
	}
}

func TestRecord_PropagatesError(t *testing.T) {
	boom := errors.New("no brokers")
	s := New(&fakeProducer{err: boom}, "t")
	if _, err := s.Record(context.Background(), "BTC/USDT", decimal.NewFromInt(1)); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Enabled: true}).Validate(); err == nil {
		t.Error("enabled without brokers must fail")
	}
}
