package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kabili207/meshcore-go/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared", nil)
	if err != nil {
		t.Fatalf("opening in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeStats struct{}

func (fakeStats) Stats(ctx context.Context) (map[string]any, error) {
	return map[string]any{"uptime_seconds": 42}, nil
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	return env
}

func TestHandleStatsReturnsEnvelope(t *testing.T) {
	srv := New(Config{Store: openTestStore(t), Stats: fakeStats{}})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success envelope, got %+v", env)
	}
}

func TestHandlePacketStatsQueriesStore(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	if err := s.StorePacket(context.Background(), &store.PacketRecord{Timestamp: now, Type: 4, Transmitted: true, PacketHash: "aa"}); err != nil {
		t.Fatal(err)
	}

	srv := New(Config{Store: s})
	req := httptest.NewRequest(http.MethodGet, "/api/packet_stats?hours=1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("expected success, got %+v", env)
	}
}

func TestHandleSetModeValidatesMode(t *testing.T) {
	srv := New(Config{Store: openTestStore(t)})

	req := httptest.NewRequest(http.MethodPost, "/api/set_mode", strings.NewReader(`{"mode":"bogus"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid mode, got %d", rec.Code)
	}
}

func TestHandleSetModeAppliesValidMode(t *testing.T) {
	var applied string
	srv := New(Config{Store: openTestStore(t), SetMode: func(mode string) error {
		applied = mode
		return nil
	}})

	req := httptest.NewRequest(http.MethodPost, "/api/set_mode", strings.NewReader(`{"mode":"monitor"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if applied != "monitor" {
		t.Fatalf("expected mode setter to be called with 'monitor', got %q", applied)
	}
}

func TestHandlePacketByHashNotFound(t *testing.T) {
	srv := New(Config{Store: openTestStore(t)})

	req := httptest.NewRequest(http.MethodGet, "/api/packet_by_hash?packet_hash=missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec)
	if env.Success {
		t.Fatalf("expected failure envelope for missing packet")
	}
}

func TestTransportKeyCRUDEndpoints(t *testing.T) {
	srv := New(Config{Store: openTestStore(t)})

	createReq := httptest.NewRequest(http.MethodPost, "/api/transport_keys", strings.NewReader(`{"name":"region-a","flood_policy":"allow","transport_key":"AAAA"}`))
	createRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("expected 200 creating transport key, got %d: %s", createRec.Code, createRec.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/transport_keys", nil)
	listRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(listRec, listReq)
	env := decodeEnvelope(t, listRec)
	if !env.Success {
		t.Fatalf("expected success listing transport keys")
	}
}

func TestCORSMiddlewareHandlesPreflight(t *testing.T) {
	srv := New(Config{Store: openTestStore(t), CORSEnabled: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for CORS preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS header to be set")
	}
}
