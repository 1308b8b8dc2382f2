package redisgate_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/warden/internal/cooldown/redisgate"
)

func openGate(t *testing.T, window time.Duration) *redisgate.Gate {
	t.Helper()
	addr := os.Getenv("WARDEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WARDEN_TEST_REDIS_ADDR not set, skipping integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return redisgate.New(client, window)
}

// testKey returns a key unique to this run so tests do not collide with
// leftovers from earlier runs.
func testKey(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func TestAdmit_BurstAdmitsExactlyOne(t *testing.T) {
	g := openGate(t, time.Minute)
	ctx := context.Background()
	key := testKey("burst")

	admitted := 0
	for i := range 5 {
		ok, err := g.Admit(ctx, key)
		if err != nil {
			t.Fatalf("Admit %d: %v", i, err)
		}
		if ok {
			admitted++
		}
	}
	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted)
	}
}

func TestAdmit_KeysAreIndependent(t *testing.T) {
	g := openGate(t, time.Minute)
	ctx := context.Background()

	a, b := testKey("cam-a"), testKey("cam-b")
	if ok, err := g.Admit(ctx, a); err != nil || !ok {
		t.Fatalf("Admit a: ok=%v err=%v", ok, err)
	}
	if ok, err := g.Admit(ctx, b); err != nil || !ok {
		t.Errorf("Admit b: ok=%v err=%v, want admitted", ok, err)
	}
}

func TestAdmit_WindowExpires(t *testing.T) {
	g := openGate(t, 100*time.Millisecond)
	ctx := context.Background()
	key := testKey("expiry")

	if ok, err := g.Admit(ctx, key); err != nil || !ok {
		t.Fatalf("first Admit: ok=%v err=%v", ok, err)
	}
	if ok, _ := g.Admit(ctx, key); ok {
		t.Error("second Admit inside window = true, want false")
	}

	time.Sleep(200 * time.Millisecond)
	if ok, err := g.Admit(ctx, key); err != nil || !ok {
		t.Errorf("Admit after expiry: ok=%v err=%v, want admitted", ok, err)
	}
}

func TestAdmit_BackendError(t *testing.T) {
	// Point at a port nothing listens on; the gate must surface the
	// error rather than fabricating an admission decision.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	g := redisgate.New(client, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := g.Admit(ctx, "any"); err == nil {
		t.Fatal("expected error from unreachable backend")
	}
}
