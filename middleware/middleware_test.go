package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"learn.admission/config"
	"learn.admission/internal/admission"
	"learn.admission/metrics"
	"learn.admission/middleware"
)

func newController(t *testing.T, m *metrics.Metrics) *admission.Controller {
	t.Helper()
	c, err := admission.New(config.ControllerConfig{
		Key:           "transport",
		BaseInterval:  200 * time.Millisecond,
		MaxInterval:   time.Second,
		BackoffFactor: 2,
		MaxAttempts:   1,
		QueueTimeout:  50 * time.Millisecond,
	}, admission.WithMetrics(m))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestAdmissionTransport(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer upstream.Close()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := newController(t, m)
	client := &http.Client{Transport: middleware.NewAdmissionTransport(c, m, "transport", nil)}

	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// The window holds one admission per 200ms, and the queue timeout is 50ms.
	_, err = client.Get(upstream.URL)
	if !errors.Is(err, middleware.ErrNotAdmitted) || !errors.Is(err, admission.ErrQueueTimeout) {
		t.Fatalf("expected a not-admitted queue timeout, got %v", err)
	}

	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	status.Store(http.StatusTooManyRequests)
	resp, err = client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("throttled request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 to be passed through, got %d", resp.StatusCode)
	}
	if got := c.CurrentInterval(); got != 400*time.Millisecond {
		t.Errorf("expected interval backed off to 400ms, got %s", got)
	}

	for outcome, want := range map[string]float64{
		metrics.OutcomeSent:        1,
		metrics.OutcomeNotAdmitted: 1,
		metrics.OutcomeThrottled:   1,
	} {
		if got := testutil.ToFloat64(m.OutboundRequests.WithLabelValues("transport", outcome)); got != want {
			t.Errorf("outcome %s: expected %v, got %v", outcome, want, got)
		}
	}
	if got := testutil.ToFloat64(m.QueueTimeouts.WithLabelValues("transport")); got != 1 {
		t.Errorf("expected 1 queue timeout, got %v", got)
	}
}

func TestAdmissionTransport_UpstreamError(t *testing.T) {
	m := metrics.NewMetrics(nil)
	c := newController(t, m)
	failing := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial failed")
	})
	client := &http.Client{Transport: middleware.NewAdmissionTransport(c, m, "transport", failing)}

	if _, err := client.Get("http://upstream.invalid/"); err == nil {
		t.Fatal("expected the upstream error")
	}
	if got := testutil.ToFloat64(m.OutboundRequests.WithLabelValues("transport", metrics.OutcomeFailed)); got != 1 {
		t.Errorf("expected 1 failed request, got %v", got)
	}
	if got := c.CurrentInterval(); got != 200*time.Millisecond {
		t.Errorf("transport errors must not back off the controller, got %s", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
