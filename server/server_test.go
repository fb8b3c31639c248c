package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"learn.admission/api"
	"learn.admission/config"
	"learn.admission/metrics"
	"learn.admission/server"
)

type status struct {
	Key             string `json:"key"`
	CurrentInterval string `json:"current_interval"`
	SuccessStreak   int    `json:"success_streak"`
	Admissions      int    `json:"admissions"`
	Upstream        string `json:"upstream"`
}

func newTestServer(t *testing.T, upstream string) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	paced := config.ControllerConfig{
		Key:           "paced",
		BaseInterval:  time.Second,
		MaxInterval:   4 * time.Second,
		BackoffFactor: 2,
		MaxAttempts:   1,
		QueueTimeout:  50 * time.Millisecond,
		Upstream:      upstream,
	}
	plain := config.DefaultControllerConfig("plain")

	controllers, configs, closer, err := api.NewControllers([]config.ControllerConfig{paced, plain}, m)
	if err != nil {
		t.Fatalf("NewControllers failed: %v", err)
	}
	t.Cleanup(func() { closer.Close() })

	s, err := server.New(controllers, configs, m, reg)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestServer_StatusAndFeedback(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/controllers")
	if err != nil {
		t.Fatalf("GET /controllers failed: %v", err)
	}
	var list []status
	decode(t, resp, &list)
	if len(list) != 2 || list[0].Key != "paced" || list[1].Key != "plain" {
		t.Fatalf("unexpected controller list: %+v", list)
	}

	resp, err = http.Post(ts.URL+"/controllers/paced/backoff", "", nil)
	if err != nil {
		t.Fatalf("POST backoff failed: %v", err)
	}
	var st status
	decode(t, resp, &st)
	if st.CurrentInterval != "2s" {
		t.Errorf("expected interval 2s after backoff, got %s", st.CurrentInterval)
	}

	resp, err = http.Post(ts.URL+"/controllers/paced/reset", "", nil)
	if err != nil {
		t.Fatalf("POST reset failed: %v", err)
	}
	decode(t, resp, &st)
	if st.CurrentInterval != "1s" {
		t.Errorf("expected interval 1s after reset, got %s", st.CurrentInterval)
	}

	resp, err = http.Get(ts.URL + "/controllers/missing")
	if err != nil {
		t.Fatalf("GET missing controller failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown controller, got %d", resp.StatusCode)
	}
}

func TestServer_Forward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	defer upstream.Close()
	ts := newTestServer(t, upstream.URL+"/rpc")

	resp, err := http.Get(ts.URL + "/forward/paced/signatures")
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "upstream:/rpc/signatures" {
		t.Fatalf("unexpected forward response %d %q", resp.StatusCode, body)
	}

	// One admission per second with a 50ms queue timeout: the next call is turned away.
	resp, err = http.Get(ts.URL + "/forward/paced/signatures")
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when not admitted, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}

	resp, err = http.Get(ts.URL + "/forward/plain/anything")
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for a controller without upstream, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/controllers/paced")
	if err != nil {
		t.Fatalf("GET controller failed: %v", err)
	}
	var st status
	decode(t, resp, &st)
	if st.Admissions != 1 || st.SuccessStreak != 1 || st.Upstream != "/forward/paced/" {
		t.Errorf("unexpected status after forwarding: %+v", st)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `admission_interval_seconds{controller="paced"} 1`) {
		t.Errorf("interval gauge missing from /metrics output:\n%s", body)
	}
}

func TestNew_InvalidUpstream(t *testing.T) {
	cfg := config.DefaultControllerConfig("bad")
	cfg.Upstream = "http://[::1"
	controllers, configs, closer, err := api.NewControllers([]config.ControllerConfig{cfg}, nil)
	if err != nil {
		t.Fatalf("NewControllers failed: %v", err)
	}
	defer closer.Close()

	if _, err := server.New(controllers, configs, nil, nil); err == nil {
		t.Fatal("expected an error for an invalid upstream")
	}
}
