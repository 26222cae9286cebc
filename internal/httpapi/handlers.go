package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kabili207/meshcore-go/internal/store"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		ok(w, map[string]any{})
		return
	}
	data, err := s.cfg.Stats.Stats(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, data)
}

func (s *Server) handlePacketStats(w http.ResponseWriter, r *http.Request) {
	since := sinceHours(r, 24)
	stats, err := s.cfg.Store.PacketStatsSince(r.Context(), since)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, stats)
}

func (s *Server) handleRecentPackets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	packets, err := s.cfg.Store.FilteredPackets(r.Context(), store.PacketFilter{Limit: limit})
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	okCount(w, packets, len(packets))
}

func (s *Server) handleFilteredPackets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.PacketFilter
	if v := q.Get("type"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			fail(w, http.StatusBadRequest, fmt.Errorf("invalid type parameter: %w", err))
			return
		}
		t := uint8(n)
		f.Type = &t
	}
	f.Route = q.Get("route")
	if v := q.Get("start_timestamp"); v != "" {
		ts, err := parseUnixParam(v)
		if err != nil {
			fail(w, http.StatusBadRequest, fmt.Errorf("invalid start_timestamp: %w", err))
			return
		}
		f.StartTimestamp = &ts
	}
	if v := q.Get("end_timestamp"); v != "" {
		ts, err := parseUnixParam(v)
		if err != nil {
			fail(w, http.StatusBadRequest, fmt.Errorf("invalid end_timestamp: %w", err))
			return
		}
		f.EndTimestamp = &ts
	}
	f.Limit = queryInt(r, "limit", 1000)

	packets, err := s.cfg.Store.FilteredPackets(r.Context(), f)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	okCount(w, packets, len(packets))
}

func parseUnixParam(v string) (time.Time, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(n, 0), nil
}

func (s *Server) handlePacketByHash(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("packet_hash")
	if hash == "" {
		fail(w, http.StatusBadRequest, fmt.Errorf("packet_hash parameter required"))
		return
	}
	pkt, err := s.cfg.Store.PacketByHash(r.Context(), hash)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	if pkt == nil {
		fail(w, http.StatusNotFound, fmt.Errorf("packet not found"))
		return
	}
	ok(w, pkt)
}

func (s *Server) handlePacketTypeStats(w http.ResponseWriter, r *http.Request) {
	since := sinceHours(r, 24)
	counts, err := s.cfg.Store.PacketTypeCounts(r.Context(), since)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, counts)
}

func (s *Server) handleRouteStats(w http.ResponseWriter, r *http.Request) {
	since := sinceHours(r, 24)
	counts, err := s.cfg.Store.RouteCounts(r.Context(), since)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, counts)
}

func (s *Server) handleNoiseFloorHistory(w http.ResponseWriter, r *http.Request) {
	since := sinceHours(r, 24)
	samples, err := s.cfg.Store.NoiseFloorHistory(r.Context(), since)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, samples)
}

func (s *Server) handleNoiseFloorStats(w http.ResponseWriter, r *http.Request) {
	since := sinceHours(r, 24)
	stats, err := s.cfg.Store.NoiseFloorStats(r.Context(), since)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, stats)
}

func (s *Server) handleAdvertsByContactType(w http.ResponseWriter, r *http.Request) {
	contactType := r.URL.Query().Get("contact_type")
	limit := queryInt(r, "limit", 100)
	since := sinceHours(r, 24)
	adverts, err := s.cfg.Store.AdvertsByContactType(r.Context(), contactType, since, limit)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	okCount(w, adverts, len(adverts))
}

func (s *Server) handleSendAdvert(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SendAdvert == nil {
		fail(w, http.StatusServiceUnavailable, fmt.Errorf("send advert function not configured"))
		return
	}
	sent, err := s.cfg.SendAdvert(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	if !sent {
		fail(w, http.StatusInternalServerError, fmt.Errorf("failed to send advert"))
		return
	}
	ok(w, "advert sent successfully")
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Mode != "forward" && req.Mode != "monitor" {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid mode, must be 'forward' or 'monitor'"))
		return
	}
	if s.cfg.SetMode != nil {
		if err := s.cfg.SetMode(req.Mode); err != nil {
			fail(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "mode": req.Mode})
}

type setDutyCycleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetDutyCycle(w http.ResponseWriter, r *http.Request) {
	var req setDutyCycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if s.cfg.SetDuty != nil {
		if err := s.cfg.SetDuty(req.Enabled); err != nil {
			fail(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": req.Enabled})
}

type globalFloodPolicyRequest struct {
	GlobalFloodAllow bool `json:"global_flood_allow"`
}

func (s *Server) handleGlobalFloodPolicy(w http.ResponseWriter, r *http.Request) {
	var req globalFloodPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if s.cfg.SetFlood != nil {
		if err := s.cfg.SetFlood(req.GlobalFloodAllow); err != nil {
			fail(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "global_flood_allow": req.GlobalFloodAllow})
}

func (s *Server) handleListTransportKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.cfg.Store.ListTransportKeys(r.Context())
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, keys)
}

func (s *Server) handleCreateTransportKey(w http.ResponseWriter, r *http.Request) {
	var key store.TransportKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.cfg.Store.CreateTransportKey(r.Context(), &key); err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, key)
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

func (s *Server) handleGetTransportKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}
	key, err := s.cfg.Store.GetTransportKey(r.Context(), id)
	if err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	if key == nil {
		fail(w, http.StatusNotFound, fmt.Errorf("transport key not found"))
		return
	}
	ok(w, key)
}

func (s *Server) handleUpdateTransportKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}
	var key store.TransportKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	key.ID = id
	if err := s.cfg.Store.UpdateTransportKey(r.Context(), &key); err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, key)
}

func (s *Server) handleDeleteTransportKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, http.StatusBadRequest, fmt.Errorf("invalid id: %w", err))
		return
	}
	if err := s.cfg.Store.DeleteTransportKey(r.Context(), id); err != nil {
		fail(w, http.StatusInternalServerError, err)
		return
	}
	ok(w, map[string]any{"deleted": id})
}
