package wlinmemory_test

import (
	"context"
	"testing"
	"time"

	wlinmemory "learn.admission/internal/windowlog/inmemory"
)

func BenchmarkWindowLogInMemory_Admit(b *testing.B) {
	ctx := context.Background()

	configs := []struct {
		name     string
		limit    int
		interval time.Duration
	}{
		{"Limit10_Interval1s", 10, 1 * time.Second},
		{"Limit1000_Interval1s", 1000, 1 * time.Second},
		{"Limit1000_Interval100ms", 1000, 100 * time.Millisecond},
	}

	for _, config := range configs {
		b.Run(config.name, func(b *testing.B) {
			w := wlinmemory.New("bench_wl_inmemory_" + config.name)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _, _ = w.Admit(ctx, time.Now(), config.interval, config.limit)
			}
		})
	}
}
