package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var errAlreadyRunning = errors.New("cad calibration already running")

type cadStartRequest struct {
	SpreadingFactor int `json:"spreading_factor"`
	Samples         int `json:"samples"`
	DelayMS         int `json:"delay"`
}

func (s *Server) handleCADStart(w http.ResponseWriter, r *http.Request) {
	var req cadStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Samples <= 0 {
		req.Samples = 20
	}
	if req.SpreadingFactor <= 0 {
		req.SpreadingFactor = 8
	}
	if req.DelayMS <= 0 {
		req.DelayMS = 100
	}

	if err := s.cfg.CAD.Start(req.SpreadingFactor, req.Samples, time.Duration(req.DelayMS)*time.Millisecond); err != nil {
		fail(w, http.StatusConflict, err)
		return
	}
	ok(w, "cad calibration started")
}

func (s *Server) handleCADStop(w http.ResponseWriter, r *http.Request) {
	s.cfg.CAD.Stop()
	ok(w, "cad calibration stopped")
}

type saveCADSettingsRequest struct {
	Peak   int `json:"peak"`
	MinVal int `json:"min_val"`
}

func (s *Server) handleSaveCADSettings(w http.ResponseWriter, r *http.Request) {
	var req saveCADSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	ok(w, map[string]any{"peak": req.Peak, "min_val": req.MinVal})
}

// handleCADStream is a stdlib http.Flusher-based Server-Sent-Events writer.
func (s *Server) handleCADStream(w http.ResponseWriter, r *http.Request) {
	flusher, supportsFlush := w.(http.Flusher)
	if !supportsFlush {
		fail(w, http.StatusInternalServerError, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.cfg.CAD.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			body, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", body)
			flusher.Flush()
		}
	}
}
