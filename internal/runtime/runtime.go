package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarz-one/Companion/internal/audio"
	"github.com/tarz-one/Companion/internal/bus"
	"github.com/tarz-one/Companion/internal/config"
	"github.com/tarz-one/Companion/internal/eventstore"
	"github.com/tarz-one/Companion/internal/keyword"
	"github.com/tarz-one/Companion/internal/natsserver"
	"github.com/tarz-one/Companion/internal/osc"
	"github.com/tarz-one/Companion/internal/stt"
)

// Runtime hosts the full pipeline: embedded bus, capture, recognition,
// keyword matching and the OSC emitter, plus the HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	store       *eventstore.Store
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	services []service
}

type service interface {
	Start() error
	Close()
	Healthy() bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	defer store.Close()

	if err := r.buildServices(ctx, busClient); err != nil {
		return err
	}
	defer r.closeServices()

	for _, svc := range r.services {
		if err := svc.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/api/detections", r.handleDetections)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("osc_target", fmt.Sprintf("%s:%d", r.cfg.OSC.Host, r.cfg.OSC.Port)))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildServices assembles the pipeline back to front so every consumer is
// subscribed before its producer starts publishing.
func (r *Runtime) buildServices(ctx context.Context, busClient *bus.Client) error {
	emitter := osc.NewEmitter(r.cfg.OSC, r.logger)
	r.services = append(r.services, osc.NewService(ctx, r.cfg.OSC, busClient, emitter, r.logger))

	keywordService, err := keyword.NewService(ctx, r.cfg.Keywords, busClient, r.store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build keyword service: %w", err)
	}
	r.services = append(r.services, keywordService)

	recognizer, err := r.buildRecognizer()
	if err != nil {
		return err
	}
	r.services = append(r.services, stt.NewService(ctx, r.cfg.STT, busClient, recognizer, r.logger))

	source, err := r.buildSource()
	if err != nil {
		return err
	}
	if source != nil {
		r.services = append(r.services, audio.NewService(ctx, r.cfg.Audio, busClient, source, r.logger))
	}

	return nil
}

func (r *Runtime) buildRecognizer() (stt.Recognizer, error) {
	if !r.cfg.STT.Enabled {
		return stt.NewMockRecognizer(), nil
	}
	switch r.cfg.STT.Mode {
	case "exec":
		recognizer, err := stt.NewExecRecognizer(r.cfg.STT)
		if err != nil {
			return nil, fmt.Errorf("failed to build exec recognizer: %w", err)
		}
		return recognizer, nil
	default:
		return stt.NewMockRecognizer(), nil
	}
}

func (r *Runtime) buildSource() (audio.Source, error) {
	if !r.cfg.Audio.Enabled {
		return nil, nil
	}
	switch r.cfg.Audio.Mode {
	case "portaudio":
		source, err := audio.NewPortAudioSource(r.cfg.Audio)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio source: %w", err)
		}
		return source, nil
	default:
		return audio.NewMockSource(r.cfg.Audio), nil
	}
}

func (r *Runtime) closeServices() {
	// Close in reverse order: producers before consumers.
	for i := len(r.services) - 1; i >= 0; i-- {
		r.services[i].Close()
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := r.ready.Load()
	for _, svc := range r.services {
		ready = ready && svc.Healthy()
	}
	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleDetections(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	sessionID := req.URL.Query().Get("session")

	detections, err := r.store.RecentDetections(req.Context(), sessionID, limit)
	if err != nil {
		r.logger.Warn("failed to list detections", slog.String("error", err.Error()))
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(detections); err != nil {
		r.logger.Warn("failed to encode detections", slog.String("error", err.Error()))
	}
}
