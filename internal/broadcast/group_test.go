package broadcast_test

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leraspizh/crypto-project/internal/broadcast"
	"github.com/leraspizh/crypto-project/internal/domain"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

func tick(i int) domain.PriceTick {
	return domain.PriceTick{Symbol: "BTC/USDT", Price: decimal.NewFromInt(int64(i + 1)), ObservedAt: time.Now()}
}

func TestPublish_AllMembersInOrder(t *testing.T) {
	g := broadcast.NewGroup("crypto_updates", 64, logger.Nop())
	a := g.Join("a")
	b := g.Join("b")

	for i := 0; i < 50; i++ {
		if n := g.Publish(tick(i)); n != 2 {
			t.Fatalf("Publish #%d delivered to %d; want 2", i, n)
		}
	}
	for _, sub := range []*broadcast.Subscriber{a, b} {
		for i := 0; i < 50; i++ {
			got := <-sub.C()
			if !got.Price.Equal(decimal.NewFromInt(int64(i + 1))) {
				t.Fatalf("%s: message %d = %s", sub.ID(), i, got.Price)
			}
		}
	}
}

func TestPublish_SlowSubscriberDoesNotBlockFast(t *testing.T) {
	g := broadcast.NewGroup("crypto_updates", 4, logger.Nop())
	slow := g.Join("slow") // never read
	fast := g.Join("fast")

	const total = 100
	var wg sync.WaitGroup
	wg.Add(1)
	received := make([]domain.PriceTick, 0, total)
	go func() {
		defer wg.Done()
		for tk := range fast.C() {
			received = append(received, tk)
			if len(received) == total {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			// keep the fast queue from filling so it loses nothing
			for len(fast.C()) == cap(fast.C()) {
				time.Sleep(100 * time.Microsecond)
			}
			g.Publish(tick(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}
	wg.Wait()

	for i, tk := range received {
		if !tk.Price.Equal(decimal.NewFromInt(int64(i + 1))) {
			t.Fatalf("fast subscriber message %d = %s (reordered or lost)", i, tk.Price)
		}
	}
	if slow.Dropped() != total-4 {
		t.Errorf("slow.Dropped = %d; want %d", slow.Dropped(), total-4)
	}
}

func TestLeave_ClosesQueueAndIsIdempotent(t *testing.T) {
	g := broadcast.NewGroup("g", 1, logger.Nop())
	s := g.Join("x")
	g.Leave(s)
	g.Leave(s)
	if _, ok := <-s.C(); ok {
		t.Error("queue still open after Leave")
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d", g.Len())
	}
	if n := g.Publish(tick(0)); n != 0 {
		t.Errorf("Publish after leave delivered to %d", n)
	}
}

func TestJoin_DuplicateIDEvictsPrevious(t *testing.T) {
	g := broadcast.NewGroup("g", 1, logger.Nop())
	old := g.Join("dup")
	cur := g.Join("dup")
	if _, ok := <-old.C(); ok {
		t.Error("evicted subscriber queue still open")
	}
	g.Leave(old) // stale handle must not remove the new member
	if g.Len() != 1 {
		t.Fatalf("Len = %d; want 1", g.Len())
	}
	g.Leave(cur)
}

func TestConcurrentMembershipAndPublish(t *testing.T) {
	g := broadcast.NewGroup("g", 8, logger.Nop())
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				g.Publish(tick(i))
			}
		}
	}()
	for i := 0; i < 200; i++ {
		s := g.Join(strconv.Itoa(i))
		g.Leave(s)
	}
	close(stop)
	wg.Wait()
}

func TestLayer_SameNameSameGroup(t *testing.T) {
	l := broadcast.NewLayer(0, logger.Nop())
	if l.Group("crypto_updates") != l.Group("crypto_updates") {
		t.Error("Layer.Group returned different groups for one name")
	}
	if l.Group("a") == l.Group("b") {
		t.Error("distinct names share a group")
	}
}
