package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/fleetiot/api/vehicles"
	"github.com/kilianp07/fleetiot/config"
	"github.com/kilianp07/fleetiot/core/emulator"
	"github.com/kilianp07/fleetiot/core/ingestion"
	coremetrics "github.com/kilianp07/fleetiot/core/metrics"
	"github.com/kilianp07/fleetiot/core/model"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/core/outbox"
	"github.com/kilianp07/fleetiot/core/vehicle"
	"github.com/kilianp07/fleetiot/infra/logger"
	"github.com/kilianp07/fleetiot/infra/metrics"
	"github.com/kilianp07/fleetiot/infra/mqtt"
	"github.com/kilianp07/fleetiot/infra/push"
	"github.com/kilianp07/fleetiot/infra/store"
)

// Service runs the backend side of the pipeline: ingestion, the notification
// outbox, the push hub and the HTTP endpoints.
type Service struct {
	cfg       *config.Config
	log       logger.Logger
	store     vehicle.Store
	sink      coremetrics.MetricsSink
	transport *mqtt.Client
	outbox    *outbox.Outbox
	ingestion *ingestion.Service
	hub       *push.Hub
	server    *http.Server
}

// New builds a Service from the configuration. Nothing connects before Run.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("vehicle store: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	codec, err := mqtt.NewCodec(cfg.MQTT.Codec)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mcfg := cfg.MQTT
	mcfg.ClientID = cfg.MQTT.ClientID + "-ingestion"
	client := mqtt.NewClient(mcfg, "ingestion")

	hub := push.NewHub(cfg.HTTP.WriteTimeout())
	box := outbox.New(hub, cfg.Outbox,
		outbox.WithLogger(logger.New("outbox")),
		outbox.WithMetrics(sink),
	)
	svc := ingestion.NewService(cfg.Ingestion, client, codec, st, box,
		ingestion.WithLogger(logger.New("ingestion")),
		ingestion.WithMetrics(sink),
	)

	s := &Service{
		cfg:       cfg,
		log:       logg,
		store:     st,
		sink:      sink,
		transport: client,
		outbox:    box,
		ingestion: svc,
		hub:       hub,
	}
	s.server = &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", s.hub)
	mux.Handle("/api/vehicles", vehicles.NewListHandler(s.store))
	mux.HandleFunc("/healthz", s.health)
	return mux
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	state := s.transport.State()
	code := http.StatusOK
	if state != coremqtt.StateConnected {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"transport": state.String(),
		"pending":   s.outbox.Len(),
	})
}

// SeedFleet creates a vehicle record for every spec of site. Existing
// records are kept.
func (s *Service) SeedFleet(ctx context.Context, site string, specs []emulator.DeviceSpec) (int, error) {
	created := 0
	for _, sp := range specs {
		status := model.StatusAvailable
		if sp.Status != "" {
			status = model.Status(sp.Status)
		}
		v := vehicle.Vehicle{
			ID:        sp.ID,
			Serial:    sp.Serial,
			SiteID:    site,
			Category:  model.Category(sp.Category),
			Status:    status,
			Battery:   sp.Battery,
			Light:     model.IndicatorLight(status, sp.Battery, model.Category(sp.Category)),
			UpdatedAt: time.Now().UTC(),
		}
		err := s.store.Create(ctx, v)
		if errors.Is(err, vehicle.ErrDuplicate) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", sp.ID, err)
		}
		created++
	}
	return created, nil
}

// Run starts every component and blocks until ctx is canceled or the HTTP
// server fails. Components are stopped in reverse order before it returns.
func (s *Service) Run(ctx context.Context) error {
	_, _, connRec, _ := coremetrics.Recorders(s.sink)
	metrics.StartStateCollector(ctx, s.transport, "ingestion", connRec)

	if err := s.ingestion.Start(ctx); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}
	s.outbox.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http listening on %s", s.cfg.HTTP.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout())
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("http shutdown: %v", err)
	}
	s.ingestion.Stop()
	s.outbox.Stop()
	if n := s.outbox.Len(); n > 0 {
		s.log.Warnf("%d notifications dropped on shutdown", n)
	}
	return runErr
}

// Close releases the store, the push connections and the metrics sinks.
func (s *Service) Close() error {
	s.transport.Close()
	s.hub.Close()
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	return s.store.Close()
}
