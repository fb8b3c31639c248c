// Package middleware paces outbound HTTP calls through an admission controller.
package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"learn.admission/metrics"
	"learn.admission/types"
)

// ErrNotAdmitted wraps the gate failure of a request that was never sent.
var ErrNotAdmitted = errors.New("request not admitted")

// AdmissionTransport is an http.RoundTripper that gates every request through a controller
// and backs the controller off when the remote side answers 429 Too Many Requests.
type AdmissionTransport struct {
	controller types.Controller
	metrics    *metrics.Metrics
	key        string
	next       http.RoundTripper
}

// NewAdmissionTransport creates an AdmissionTransport. A nil next uses http.DefaultTransport.
func NewAdmissionTransport(controller types.Controller, m *metrics.Metrics, key string, next http.RoundTripper) *AdmissionTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &AdmissionTransport{
		controller: controller,
		metrics:    m,
		key:        key,
		next:       next,
	}
}

func (t *AdmissionTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.controller.Gate(r.Context()); err != nil {
		t.metrics.RecordRequest(t.key, metrics.OutcomeNotAdmitted)
		log.Warn().Err(err).Str("controller_key", t.key).Str("path", r.URL.Path).Msg("Transport: Request not admitted")
		return nil, fmt.Errorf("%w: %w", ErrNotAdmitted, err)
	}

	resp, err := t.next.RoundTrip(r)
	if err != nil {
		t.metrics.RecordRequest(t.key, metrics.OutcomeFailed)
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		t.controller.IncreaseInterval()
		t.metrics.RecordRequest(t.key, metrics.OutcomeThrottled)
		log.Warn().Str("controller_key", t.key).Str("path", r.URL.Path).Dur("interval", t.controller.CurrentInterval()).Msg("Transport: Rate limited by remote service")
		return resp, nil
	}

	t.metrics.RecordRequest(t.key, metrics.OutcomeSent)
	return resp, nil
}
