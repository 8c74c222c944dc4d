package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-sre/control-plane/internal/alert"
	"github.com/agent-sre/control-plane/internal/breaker"
	"github.com/agent-sre/control-plane/internal/cache"
	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/config"
	"github.com/agent-sre/control-plane/internal/cost"
	"github.com/agent-sre/control-plane/internal/fleet"
	"github.com/agent-sre/control-plane/internal/incident"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/signal"
	"github.com/agent-sre/control-plane/internal/sli"
	"github.com/agent-sre/control-plane/internal/slo"
	"github.com/agent-sre/control-plane/internal/telemetry"
	"github.com/agent-sre/control-plane/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting agent-sre control plane", slog.String("metrics_address", cfg.Server.MetricsAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	cacheLogger := utils.WithComponent(logger, "cache")
	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			cacheLogger.Warn("valkey cache unavailable", slog.Any("error", err), slog.String("kind", utils.KindOf(err).String()))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	clk := clock.New()

	incidentLogger := utils.WithComponent(logger, "incident")
	var incidentStore *incident.Store
	incidentStore, err = incident.OpenStore(os.Getenv("AGENT_SRE_INCIDENT_DB_PATH"))
	if err != nil {
		incidentLogger.Warn("incident store unavailable, persistence disabled", slog.Any("error", err))
		incidentStore = nil
	}
	if incidentStore != nil {
		defer incidentStore.Close()
	}

	alertLogger := utils.WithComponent(logger, "alert")
	var alertStore *alert.Store
	if cfg.Alert.StorePath != "" {
		alertStore, err = alert.Open(cfg.Alert.StorePath)
		if err != nil {
			alertLogger.Warn("alert audit store unavailable", slog.Any("error", err))
			alertStore = nil
		}
	}
	if alertStore != nil {
		defer alertStore.Close()
	}

	detectorOpts := []incident.DetectorOption{}
	if incidentStore != nil {
		detectorOpts = append(detectorOpts, incident.WithStore(incidentStore))
	}
	detector := incident.NewDetector(cfg.Incident.CorrelationWindow, clk, detectorOpts...)
	bus := signal.NewBus(detector)

	costGuard := cost.NewGuard(cost.Config{
		DefaultPerTaskLimit: cfg.Cost.DefaultPerTaskLimit,
		DefaultDailyLimit:   cfg.Cost.DefaultDailyLimit,
		OrgMonthlyBudget:    cfg.Cost.OrgMonthlyBudget,
		ThrottleThreshold:   cfg.Cost.ThrottleThreshold,
		KillThreshold:       cfg.Cost.KillSwitchThreshold,
	}, clk, bus)

	cascade := breaker.NewCascadeDetector(cfg.Breaker.CascadeThreshold, clk, bus)
	breakerRegistry := fleet.NewBreakerRegistry(cascade)

	fleetRegistry := fleet.NewRegistry(clk,
		fleet.WithThresholds(fleet.Thresholds{
			HeartbeatStaleAfter: cfg.Fleet.HeartbeatStaleAfter,
			MinSuccessRate:      cfg.Fleet.MinSuccessRate,
		}),
		fleet.WithCache(cacheProvider),
	)

	sliRegistry := sli.NewRegistry()
	sliRegistry.Register(sli.NewTaskSuccessRate(cfg.SLO.DefaultWindow, 0.95, clk))
	sliRegistry.Register(sli.NewToolCallAccuracy(cfg.SLO.DefaultWindow, 0.90, clk))
	sliRegistry.Register(sli.NewResponseLatency(cfg.SLO.DefaultWindow, 2000, 95, clk))
	sliRegistry.Register(sli.NewCostPerTask(cfg.SLO.DefaultWindow, cfg.Cost.DefaultPerTaskLimit, clk))

	errorBudget := slo.NewErrorBudget(0.05, cfg.SLO.DefaultWindow.Seconds(), clk).
		WithThresholds(cfg.SLO.BurnRateWarn, cfg.SLO.BurnRateCritical)

	fleetSLIs := []sli.SLI{}
	for _, name := range sliRegistry.Names() {
		ind, ok := sliRegistry.Get(name)
		if ok {
			fleetSLIs = append(fleetSLIs, ind)
		}
	}
	fleetSLO, err := slo.New("fleet", "*", fleetSLIs, errorBudget, clk, bus)
	if err != nil {
		logger.Error("failed to construct fleet SLO", slog.Any("error", err))
		os.Exit(1)
	}

	telemetryAdapter := telemetry.NewAdapter(sliRegistry, errorBudget, costGuard, fleetRegistry)

	dedup := alert.NewDeduplicator(cfg.Alert.DedupWindow, clk)
	var routes []alert.Route
	logChannel := alert.CallbackChannel{Fn: func(n alert.Notification) error {
		alertLogger.Info("alert dispatched", slog.String("title", n.Title), slog.String("severity", n.Severity.String()), slog.String("agent_id", n.AgentID))
		return nil
	}}
	routes = append(routes, alert.Route{Channel: logChannel, MinSeverity: alert.Info})
	dispatcher := alert.NewDispatcher(routes, dedup, clk)

	batcher := alert.NewBatcher(cfg.Alert.BatchFlushEvery, cfg.Alert.BatchMaxSize, clk, func(d alert.Digest) {
		alertLogger.Info("alert digest flushed", slog.String("summary", d.Summary()))
	})

	detector.RegisterResponse("dispatch_alert", func(inc *incident.Incident) {
		snap := inc.Snapshot()
		n := alert.Notification{
			Title:      snap.Title,
			Message:    snap.Title,
			Severity:   severityFromIncident(snap.Severity),
			Source:     "incident_detector",
			AgentID:    snap.AgentID,
			IncidentID: snap.ID,
			Timestamp:  time.Now(),
		}
		results := dispatcher.Dispatch(context.Background(), n)
		if alertStore != nil {
			for _, r := range results {
				_ = alertStore.Record(context.Background(), n, r.Channel.String(), r, time.Now())
			}
		}
		batcher.Add(n)
	})
	for _, kind := range []signal.Kind{
		signal.SLOBreach, signal.ErrorBudgetExhausted, signal.CostAnomaly,
		signal.PolicyViolation, signal.TrustRevocation, signal.LatencySpike, signal.ToolFailureSpike,
	} {
		detector.BindResponse(kind, "dispatch_alert")
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/v1/events/task-end", taskEndHandler(telemetryAdapter))
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	batchTicker := time.NewTicker(5 * time.Second)
	defer batchTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-batchTicker.C:
				batcher.FlushIfDue()
			}
		}
	}()

	sloLogger := utils.WithComponent(logger, "slo")
	sloTicker := time.NewTicker(30 * time.Second)
	defer sloTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sloTicker.C:
				status := fleetSLO.Evaluate()
				sloLogger.Info("fleet SLO evaluated", slog.String("status", status.String()))
				sliRegistry.PersistSnapshots(context.Background(), "*", cacheProvider)
				if breakerRegistry.CascadeDetected() {
					sloLogger.Warn("breaker cascade detected across fleet")
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}

	logger.Info("agent-sre control plane stopped")
}

// taskEndHandler exposes telemetry.Adapter.OnTaskEnd over HTTP, standing in
// for the framework callback a real agent runtime would invoke in-process.
// It is the one HTTP surface this process exposes beyond /metrics.
func taskEndHandler(adapter *telemetry.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var ev telemetry.TaskEndEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "invalid task end event: "+err.Error(), http.StatusBadRequest)
			return
		}
		adapter.OnTaskEnd(r.Context(), ev)
		w.WriteHeader(http.StatusAccepted)
	}
}

func severityFromIncident(s incident.Severity) alert.Severity {
	switch s {
	case incident.P1:
		return alert.Critical
	case incident.P2:
		return alert.Critical
	case incident.P3:
		return alert.Warn
	default:
		return alert.Info
	}
}
