// Package web serves local status streams, the risk summary and metrics.
package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/events"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
	"github.com/vadiminshakov/ckvault/internal/services/risk"
	"github.com/vadiminshakov/ckvault/internal/services/snapshot"
	"github.com/vadiminshakov/ckvault/internal/storage/flowjournal"
	"github.com/vadiminshakov/ckvault/pkg/fixedpoint"
)

const (
	defaultPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	shutdownTimeout     = 5 * time.Second
)

type confirmationReader interface {
	RecordsAfter(index uint64) ([]domain.ConfirmationRecord, error)
}

type flowReader interface {
	EntriesAfter(index uint64) ([]flowjournal.Entry, error)
}

type riskSource interface {
	Current() *snapshot.Snapshot
	Refresh(ctx context.Context) (*snapshot.Snapshot, error)
}

// Server exposes SSE streams backed by the WAL stores.
type Server struct {
	l             *zap.Logger
	addr          string
	confirmations confirmationReader
	flows         flowReader
	risk          riskSource
	pollInterval  time.Duration
}

// NewServer creates a server. Any source may be nil; its endpoint then
// answers 503.
func NewServer(l *zap.Logger, addr string, confirmations confirmationReader, flows flowReader, summary riskSource) *Server {
	return &Server{
		l:             l,
		addr:          addr,
		confirmations: confirmations,
		flows:         flows,
		risk:          summary,
		pollInterval:  defaultPollInterval,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/confirmations/stream", s.handleConfirmationStream)
	r.Get("/flows/stream", s.handleFlowStream)
	r.Get("/risk", s.handleRisk)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := s.httpServer(s.addr, s.Handler())
	go s.shutdownOnDone(ctx, server)

	s.l.Info("web server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS serves HTTPS with ACME certificates for host. Port 80
// answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, host, cacheDir string) error {
	if host == "" {
		return fmt.Errorf("no domain provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(host),
		Cache:      autocert.DirCache(cacheDir),
	}

	acmeSrv := s.httpServer(":80", manager.HTTPHandler(nil))

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := s.httpServer(s.addr, s.Handler())
	httpsSrv.TLSConfig = tlsConfig

	go s.shutdownOnDone(ctx, acmeSrv)
	go s.shutdownOnDone(ctx, httpsSrv)

	go func() {
		if err := acmeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme challenge server failed", zap.Error(err))
		}
	}()

	s.l.Info("web server listening with automatic TLS", zap.String("addr", s.addr), zap.String("domain", host))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) httpServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.l.Warn("web server shutdown", zap.String("addr", server.Addr), zap.Error(err))
	}
}

func (s *Server) handleConfirmationStream(w http.ResponseWriter, r *http.Request) {
	if s.confirmations == nil {
		http.Error(w, "confirmation store not available", http.StatusServiceUnavailable)
		return
	}
	stream(s, w, r, "confirmation", func(after uint64) ([]message, error) {
		records, err := s.confirmations.RecordsAfter(after)
		if err != nil {
			return nil, err
		}
		out := make([]message, 0, len(records))
		for _, rec := range records {
			out = append(out, message{index: rec.Index, payload: events.NewConfirmation(rec.State)})
		}
		return out, nil
	})
}

func (s *Server) handleFlowStream(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		http.Error(w, "flow journal not available", http.StatusServiceUnavailable)
		return
	}
	stream(s, w, r, "flow", func(after uint64) ([]message, error) {
		entries, err := s.flows.EntriesAfter(after)
		if err != nil {
			return nil, err
		}
		out := make([]message, 0, len(entries))
		for _, e := range entries {
			out = append(out, message{index: e.Index, payload: e})
		}
		return out, nil
	})
}

type message struct {
	index   uint64
	payload any
}

// stream replays records after the client's last seen index, then polls for
// new ones until the client goes away. The index is sent as the event id so
// reconnecting clients resume via Last-Event-ID.
func stream(s *Server, w http.ResponseWriter, r *http.Request, event string, fetch func(after uint64) ([]message, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex := resumeIndex(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	send := func() error {
		messages, err := fetch(lastIndex)
		if err != nil {
			return err
		}
		for _, m := range messages {
			payload, err := json.Marshal(m.payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", m.index)
			fmt.Fprintf(w, "event: %s\n", event)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = m.index
		}
		flusher.Flush()
		return nil
	}

	if err := send(); err != nil {
		http.Error(w, "failed to load "+event+" history", http.StatusInternalServerError)
		s.l.Error("stream initial load", zap.String("event", event), zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := send(); err != nil {
				s.l.Warn("stream poll", zap.String("event", event), zap.Error(err))
			}
		}
	}
}

func resumeIndex(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0
	}
	idx, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return idx
}

type riskResponse struct {
	Account  string       `json:"account"`
	LoadedAt time.Time    `json:"loaded_at"`
	BtcUsd   string       `json:"btc_usd"`
	Summary  risk.Summary `json:"summary"`
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if s.risk == nil {
		http.Error(w, "risk summary not available", http.StatusServiceUnavailable)
		return
	}

	snap := s.risk.Current()
	if snap == nil || r.URL.Query().Get("refresh") == "1" {
		fresh, err := s.risk.Refresh(r.Context())
		if err != nil {
			s.l.Warn("risk refresh failed", zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": orchestrator.Normalize(err)})
			return
		}
		snap = fresh
	}

	writeJSON(w, http.StatusOK, riskResponse{
		Account:  snap.Account,
		LoadedAt: snap.LoadedAt,
		BtcUsd:   fixedpoint.ToDecimal(&snap.Prices.BtcUsdE8s, 8).StringFixed(2),
		Summary:  snap.Risk(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
