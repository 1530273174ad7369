package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"

	"lightcycle/internal/net/ws"
	"lightcycle/internal/observability"
	"lightcycle/internal/relay"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
)

type HTTPHandlerConfig struct {
	ClientDir     string
	Logger        telemetry.Logger
	Publisher     logging.Publisher
	Metrics       *logging.Metrics
	LogStats      func() logging.RouterStats
	Observability observability.Config
}

type apiFunc func(w nethttp.ResponseWriter, r *nethttp.Request) error

func makeHTTPHandlerFunc(f apiFunc) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := f(w, r); err != nil {
			httpError(w, err.Error(), nethttp.StatusInternalServerError)
		}
	}
}

// NewHTTPHandler builds the relay's HTTP surface.
func NewHTTPHandler(hub *relay.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := telemetry.OrDiscard(cfg.Logger)

	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}).Methods(nethttp.MethodGet, nethttp.MethodOptions)

	r.HandleFunc("/diagnostics", makeHTTPHandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) error {
		payload := struct {
			Status     string               `json:"status"`
			ServerTime int64                `json:"serverTime"`
			Relay      relay.Diagnostics    `json:"relay"`
			Telemetry  map[string]uint64    `json:"telemetry"`
			Logging    *logging.RouterStats `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Relay:      hub.DiagnosticsSnapshot(),
			Telemetry:  cfg.Metrics.Snapshot(),
		}
		if payload.Telemetry == nil {
			payload.Telemetry = map[string]uint64{}
		}
		if cfg.LogStats != nil {
			stats := cfg.LogStats()
			payload.Logging = &stats
		}
		return JSON(w, nethttp.StatusOK, payload)
	})).Methods(nethttp.MethodGet, nethttp.MethodOptions)

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger, Publisher: cfg.Publisher})
	r.HandleFunc("/ws", wsHandler.Handle).Methods(nethttp.MethodGet)

	if cfg.Observability.EnablePprofTrace {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
		logger.Printf("pprof endpoints enabled under /debug/pprof/")
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		r.PathPrefix("/").Handler(fs)
	}

	return r
}

// JSON writes v with the given status.
func JSON(w nethttp.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func enableCORS(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == nethttp.MethodOptions {
			w.WriteHeader(nethttp.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
