package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AlexKimmel/spammy/internal/config"
	"github.com/AlexKimmel/spammy/internal/gateway"
	"github.com/AlexKimmel/spammy/internal/obs"
	"github.com/AlexKimmel/spammy/internal/ratelimit"
)

func main() {
	path := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatal().Err(err).Str("path", *path).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	limiters := ratelimit.New(ratelimit.WithLogger(logger.With().Str("component", "ratelimit").Logger()))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(promReg, func() float64 { return float64(limiters.Len()) })

	throttle := obs.NewThrottle(logger, limiters, cfg.Observability.LogThrottle())
	throttle.OnSuppressed = func(ns string) {
		metrics.LogSuppressed.WithLabelValues(ns).Inc()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"pong":true}`))
	})

	skip := map[string]struct{}{
		"/health":                        {},
		cfg.Observability.PrometheusPath: {},
	}
	// only configured routes get limiters and metric labels
	routes := cfg.Cooldown.Routes()
	routes["/ping"] = struct{}{}

	handler := gateway.Chain(
		mux,
		obs.Logger(logger, routes),
		metrics.Middleware(skip, routes),
		gateway.Cooldown(limiters, gateway.Policy{
			Routes:    routes,
			KeyHeader: cfg.Cooldown.KeyHeader,
			For:       cfg.Cooldown.For,
		}, func(route string) {
			metrics.Throttled.WithLabelValues(route).Inc()
			throttle.Event("throttled:"+route, zerolog.WarnLevel).
				Str("route", route).
				Msg("callers are being throttled")
		}),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	// start
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}
