package runlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/yungbote/neurobridge-successbundle/internal/data/repos/testutil"
)

func TestRedisPublisher_RoundTrip(t *testing.T) {
	addr := os.Getenv("SB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set SB_TEST_REDIS_ADDR to run the redis publisher test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := NewRedisPublisher(ctx, testutil.Logger(t), addr, "successbundle.test")
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	defer pub.Close()

	got := make(chan Event, 1)
	if err := pub.Subscribe(ctx, func(ev Event) { got <- ev }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := pub.Publish(ctx, Event{RunID: "r-1", Stage: "lock", At: time.Now()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case ev := <-got:
		if ev.RunID != "r-1" || ev.Stage != "lock" {
			t.Fatalf("event=%+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("no event received")
	}
}

func TestNewRedisPublisher_RequiresAddr(t *testing.T) {
	if _, err := NewRedisPublisher(context.Background(), testutil.Logger(t), " ", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
