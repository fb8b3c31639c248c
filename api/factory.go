package api

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"learn.admission/config"
	"learn.admission/internal/admission"
	"learn.admission/internal/factory"
	"learn.admission/metrics"
	"learn.admission/types"
)

// Controller is an adaptive admission controller.
type Controller = admission.Controller

// Snapshot is the observable state of a Controller.
type Snapshot = admission.Snapshot

// QueueTimeoutError reports a caller that was not admitted within the queue timeout.
type QueueTimeoutError = admission.QueueTimeoutError

var (
	ErrQueueTimeout    = admission.ErrQueueTimeout
	ErrControllerReset = admission.ErrControllerReset
	ErrRateLimited     = admission.ErrRateLimited
	ErrInvalidConfig   = config.ErrInvalidConfig
)

// Do gates, runs fn and backs off when fn reports ErrRateLimited.
var Do = admission.Do

// NewController creates a controller whose window log lives on the backend selected by cfg.
// m may be nil.
func NewController(cfg config.ControllerConfig, clients types.BackendClients, m *metrics.Metrics) (*Controller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	window, err := factory.NewWindowLog(cfg, clients)
	if err != nil {
		return nil, fmt.Errorf("controller '%s': failed to create window log: %w", cfg.Key, err)
	}

	c, err := admission.New(cfg, admission.WithWindowLog(window), admission.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("controller '%s': failed to create instance: %w", cfg.Key, err)
	}
	log.Info().Str("controller_key", cfg.Key).Str("backend", string(cfg.Backend)).Msg("API: Controller created successfully")
	return c, nil
}
