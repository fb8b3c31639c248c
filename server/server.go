// Package server exposes admission controllers over HTTP: status, manual feedback,
// a paced reverse proxy per controller and the Prometheus endpoint.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"learn.admission/api"
	"learn.admission/config"
	"learn.admission/metrics"
	"learn.admission/middleware"
)

// Server routes requests to the admission controllers it was built with.
type Server struct {
	controllers map[string]*api.Controller
	proxies     map[string]*httputil.ReverseProxy
	gatherer    prometheus.Gatherer
}

// controllerStatus is the JSON view of a controller snapshot.
type controllerStatus struct {
	Key                string    `json:"key"`
	CurrentInterval    string    `json:"current_interval"`
	BaseInterval       string    `json:"base_interval"`
	MaxInterval        string    `json:"max_interval"`
	MaxAttempts        int       `json:"max_attempts"`
	SuccessStreak      int       `json:"success_streak"`
	LastIntervalChange time.Time `json:"last_interval_change"`
	Busy               bool      `json:"busy"`
	Waiting            int       `json:"waiting"`
	Admissions         int       `json:"admissions"`
	Upstream           string    `json:"upstream,omitempty"`
}

// New creates a Server. Controllers whose config names an upstream get a paced reverse
// proxy under /forward/{key}/. A nil gatherer disables /metrics.
func New(controllers map[string]*api.Controller, configs map[string]config.ControllerConfig, m *metrics.Metrics, gatherer prometheus.Gatherer) (*Server, error) {
	s := &Server{
		controllers: controllers,
		proxies:     make(map[string]*httputil.ReverseProxy),
		gatherer:    gatherer,
	}
	for key, cfg := range configs {
		if cfg.Upstream == "" {
			continue
		}
		c, ok := controllers[key]
		if !ok {
			return nil, fmt.Errorf("upstream configured for unknown controller '%s'", key)
		}
		target, err := url.Parse(cfg.Upstream)
		if err != nil {
			return nil, fmt.Errorf("controller '%s': invalid upstream %q: %w", key, cfg.Upstream, err)
		}
		s.proxies[key] = newProxy(key, target, c, m)
		log.Info().Str("controller_key", key).Str("upstream", target.String()).Msg("Server: Proxy configured")
	}
	return s, nil
}

func newProxy(key string, target *url.URL, c *api.Controller, m *metrics.Metrics) *httputil.ReverseProxy {
	prefix := "/forward/" + key
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.Out.URL.Path = strings.TrimPrefix(r.In.URL.Path, prefix)
			r.Out.URL.RawPath = ""
			r.SetURL(target)
			r.SetXForwarded()
		},
		Transport: middleware.NewAdmissionTransport(c, m, key, nil),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, middleware.ErrNotAdmitted) {
				retryAfter := int(math.Ceil(c.CurrentInterval().Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			log.Error().Err(err).Str("controller_key", key).Str("path", r.URL.Path).Msg("Server: Upstream request failed")
			writeError(w, http.StatusBadGateway, err)
		},
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /controllers", s.handleList)
	mux.HandleFunc("GET /controllers/{key}", s.handleGet)
	mux.HandleFunc("POST /controllers/{key}/reset", s.handleReset)
	mux.HandleFunc("POST /controllers/{key}/backoff", s.handleBackoff)
	mux.HandleFunc("/forward/{key}/", s.handleForward)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) status(r *http.Request, key string, c *api.Controller) (controllerStatus, error) {
	snap, err := c.Snapshot(r.Context())
	if err != nil {
		return controllerStatus{}, err
	}
	st := controllerStatus{
		Key:                snap.Key,
		CurrentInterval:    snap.CurrentInterval.String(),
		BaseInterval:       snap.BaseInterval.String(),
		MaxInterval:        snap.MaxInterval.String(),
		MaxAttempts:        snap.MaxAttempts,
		SuccessStreak:      snap.SuccessStreak,
		LastIntervalChange: snap.LastIntervalChange,
		Busy:               snap.Busy,
		Waiting:            snap.Waiting,
		Admissions:         snap.Admissions,
	}
	if _, ok := s.proxies[key]; ok {
		st.Upstream = "/forward/" + key + "/"
	}
	return st, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	keys := make([]string, 0, len(s.controllers))
	for key := range s.controllers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]controllerStatus, 0, len(keys))
	for _, key := range keys {
		st, err := s.status(r, key, s.controllers[key])
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *api.Controller, bool) {
	key := r.PathValue("key")
	c, ok := s.controllers[key]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("controller '%s' not found", key))
		return key, nil, false
	}
	return key, c, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st, err := s.status(r, key, c)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	key, c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := c.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	log.Info().Str("controller_key", key).Msg("Server: Controller reset")
	s.handleGet(w, r)
}

func (s *Server) handleBackoff(w http.ResponseWriter, r *http.Request) {
	key, c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	c.IncreaseInterval()
	log.Info().Str("controller_key", key).Dur("interval", c.CurrentInterval()).Msg("Server: Manual backoff")
	s.handleGet(w, r)
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	p, ok := s.proxies[key]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no upstream configured for controller '%s'", key))
		return
	}
	p.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Server: Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
