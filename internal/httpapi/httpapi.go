// Package httpapi implements the HTTP Control Surface: a JSON/SSE REST
// API. Grounded on original_source/repeater/web/api_endpoints.py for the
// endpoint list, query parameters, and the {success, data|error} envelope
// contract; implemented with stdlib net/http + http.ServeMux since the
// teacher ships no HTTP server of its own (no teacher idiom to preserve
// here — recorded in DESIGN.md).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kabili207/meshcore-go/internal/store"
	"github.com/kabili207/meshcore-go/internal/timeseries"
)

// StatsProvider supplies the live /api/stats payload.
type StatsProvider interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// AdvertSender sends an out-of-band self-advert (POST /api/send_advert).
type AdvertSender func(ctx context.Context) (bool, error)

// ModeSetter applies a forward/monitor mode change (POST /api/set_mode).
type ModeSetter func(mode string) error

// DutyCycleSetter toggles duty-cycle enforcement (POST /api/set_duty_cycle).
type DutyCycleSetter func(enabled bool) error

// FloodPolicySetter toggles the global flood-allow switch.
type FloodPolicySetter func(allow bool) error

// Config configures a Server.
type Config struct {
	Store       *store.Store
	Series      *timeseries.Store
	Stats       StatsProvider
	SendAdvert  AdvertSender
	SetMode     ModeSetter
	SetDuty     DutyCycleSetter
	SetFlood    FloodPolicySetter
	CAD         *CADCalibrationEngine // nil disables CAD endpoints
	Logs        *LogSink              // nil serves a placeholder "no logs" entry
	CORSEnabled bool
	Logger      *slog.Logger
}

// Server is the HTTP Control Surface.
type Server struct {
	cfg Config
	log *slog.Logger
	mux *http.ServeMux
}

// New builds a Server with all routes registered.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, log: logger.WithGroup("httpapi"), mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the root http.Handler, wrapped with CORS if enabled.
func (s *Server) Handler() http.Handler {
	if s.cfg.CORSEnabled {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/packet_stats", s.handlePacketStats)
	s.mux.HandleFunc("GET /api/recent_packets", s.handleRecentPackets)
	s.mux.HandleFunc("GET /api/filtered_packets", s.handleFilteredPackets)
	s.mux.HandleFunc("GET /api/packet_by_hash", s.handlePacketByHash)
	s.mux.HandleFunc("GET /api/packet_type_stats", s.handlePacketTypeStats)
	s.mux.HandleFunc("GET /api/route_stats", s.handleRouteStats)
	s.mux.HandleFunc("GET /api/noise_floor_history", s.handleNoiseFloorHistory)
	s.mux.HandleFunc("GET /api/noise_floor_stats", s.handleNoiseFloorStats)
	s.mux.HandleFunc("GET /api/adverts_by_contact_type", s.handleAdvertsByContactType)
	s.mux.HandleFunc("GET /api/rrd_data", s.handleRRDData)
	s.mux.HandleFunc("GET /api/packet_type_graph_data", s.handlePacketTypeGraphData)
	s.mux.HandleFunc("GET /api/metrics_graph_data", s.handleMetricsGraphData)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)

	s.mux.HandleFunc("POST /api/send_advert", s.handleSendAdvert)
	s.mux.HandleFunc("POST /api/set_mode", s.handleSetMode)
	s.mux.HandleFunc("POST /api/set_duty_cycle", s.handleSetDutyCycle)
	s.mux.HandleFunc("POST /api/global_flood_policy", s.handleGlobalFloodPolicy)

	s.mux.HandleFunc("GET /api/transport_keys", s.handleListTransportKeys)
	s.mux.HandleFunc("POST /api/transport_keys", s.handleCreateTransportKey)
	s.mux.HandleFunc("GET /api/transport_key/{id}", s.handleGetTransportKey)
	s.mux.HandleFunc("PUT /api/transport_key/{id}", s.handleUpdateTransportKey)
	s.mux.HandleFunc("DELETE /api/transport_key/{id}", s.handleDeleteTransportKey)

	if s.cfg.CAD != nil {
		s.mux.HandleFunc("POST /api/cad_calibration_start", s.handleCADStart)
		s.mux.HandleFunc("POST /api/cad_calibration_stop", s.handleCADStop)
		s.mux.HandleFunc("POST /api/save_cad_settings", s.handleSaveCADSettings)
		s.mux.HandleFunc("GET /api/cad_calibration_stream", s.handleCADStream)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// envelope is the uniform response shape: all bodies are
// {success:bool, data?, error?}.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Count   int    `json:"count,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func okCount(w http.ResponseWriter, data any, count int) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: count})
}

// fail never raises: every handler always returns an envelope — HTTP
// endpoints always return an envelope, never raise.
func fail(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func sinceHours(r *http.Request, def int) time.Time {
	hours := queryInt(r, "hours", def)
	return time.Now().Add(-time.Duration(hours) * time.Hour)
}
