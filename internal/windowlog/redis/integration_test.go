//go:build integration

package wlredis_test

import (
	"context"
	"testing"
	"time"

	"learn.admission/internal/testharness/redistest"
	wlredis "learn.admission/internal/windowlog/redis"
)

func TestIntegration_WindowLogRedis(t *testing.T) {
	client := redistest.SetupRedisClient(t)
	defer client.Close()

	key := "integration_wl_" + time.Now().Format("150405.000000")
	defer redistest.CleanupControllers(t, client, key)

	ctx := context.Background()
	w := wlredis.New(key, client, wlredis.WithTTL(5*time.Second))
	interval := 300 * time.Millisecond
	base := time.Now()

	for i := 0; i < 2; i++ {
		ok, _, err := w.Admit(ctx, base.Add(time.Duration(i)*time.Millisecond), interval, 2)
		if err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
		if !ok {
			t.Fatalf("Admission %d unexpectedly denied", i+1)
		}
	}

	ok, oldest, err := w.Admit(ctx, base.Add(10*time.Millisecond), interval, 2)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if ok {
		t.Fatal("Admission unexpectedly allowed on a full window")
	}
	if oldest.UnixMicro() != base.UnixMicro() {
		t.Fatalf("expected oldest %d, got %d", base.UnixMicro(), oldest.UnixMicro())
	}

	ok, _, err = w.Admit(ctx, base.Add(interval), interval, 2)
	if err != nil || !ok {
		t.Fatalf("expected admission after the oldest expired, got ok=%v err=%v", ok, err)
	}

	n, err := w.Len(ctx, base.Add(interval), interval)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 live admissions, got %d (err %v)", n, err)
	}

	if err := w.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n, _ := w.Len(ctx, base.Add(interval), interval); n != 0 {
		t.Fatalf("expected empty window after Clear, got %d", n)
	}
}
