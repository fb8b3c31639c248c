// Package main runs the admission controller server: it paces proxied calls to
// rate-limited upstreams and exposes controller status and Prometheus metrics.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"learn.admission/api"
	"learn.admission/metrics"
	"learn.admission/server"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	port := flag.Int("p", 8080, "Port to run the HTTP server on")
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	logLevelStr := flag.String("log-level", "info", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	flag.Parse()

	logLevel, err := zerolog.ParseLevel(*logLevelStr)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", *logLevelStr).Msg("Invalid log level provided")
	}
	zerolog.SetGlobalLevel(logLevel)

	log.Info().Str("config_path", *configPath).Msg("Starting application initialization")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	controllers, configs, closer, err := api.NewControllersFromConfigPath(*configPath, m)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Application startup failed: Error initializing admission controllers from config")
	}
	defer closer.Close()

	srv, err := server.New(controllers, configs, m, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("Application startup failed: Error building server")
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Info().Str("address", addr).Int("controllers", len(controllers)).Msg("Starting HTTP server")
	log.Fatal().Err(http.ListenAndServe(addr, srv.Handler())).Str("address", addr).Msg("HTTP server stopped")
}
