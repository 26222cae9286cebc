// Package upstream implements the Upstream Publisher (C5): publishes
// repeater telemetry to a remote LetsMesh-style aggregation broker over
// WebSocket, authenticating with a signed, short-lived token.
//
// Grounded on original_source/repeater/data_acquisition/letsmesh_handler.py
// for the broker list and token shape, on core/crypto/keys.go's KeyPair for
// identity signing, and on device/advert/scheduler.go's ticker-driven
// dual-timer loop idiom for the heartbeat/refresh scheduling.
package upstream

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kabili207/meshcore-go/core/crypto"
	"github.com/kabili207/meshcore-go/internal/config"
)

// Broker describes one upstream aggregation endpoint, grounded verbatim on
// letsmesh_handler.py's LETSMESH_BROKERS list.
type Broker struct {
	Name     string
	Host     string
	Port     int
	Audience string
}

// DefaultBrokers mirrors letsmesh_handler.py's LETSMESH_BROKERS.
var DefaultBrokers = []Broker{
	{Name: "Europe (LetsMesh v1)", Host: "mqtt-eu-v1.letsmesh.net", Port: 443, Audience: "mqtt-eu-v1.letsmesh.net"},
	{Name: "US West (LetsMesh v1)", Host: "mqtt-us-v1.letsmesh.net", Port: 443, Audience: "mqtt-us-v1.letsmesh.net"},
}

// tokenLifetime is how long an issued token is valid; refreshed at
// refreshFraction of this.
const tokenLifetime = 10 * time.Minute
const refreshFraction = 0.8
const heartbeatTick = time.Second

// clientVersion is reported in the status message's client_version field.
const clientVersion = "meshcore-go-repeaterd"

// dialer is the subset of gorilla/websocket's top-level functions the
// Publisher needs, mocked in tests.
type dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (conn, error)
}

// conn is the subset of *websocket.Conn the Publisher uses.
type conn interface {
	WriteJSON(v any) error
	Close() error
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string, header http.Header) (conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Config configures a Publisher.
type Config struct {
	Identity *crypto.KeyPair
	Broker   Broker
	NodeName string

	// IataCode and StatusInterval drive the heartbeat topic/cadence (§4.10).
	IataCode       string
	StatusInterval time.Duration

	// Owner and Email are published in the signed token only when the
	// broker connection is TLS-verified (spec.md §4.10); the WebSocket
	// dial here is always wss://, so they are always attached. They are
	// left blank by callers that don't configure them.
	Owner string
	Email string

	// FirmwareVersion and Radio feed the status message's firmware_version
	// and radio fields.
	FirmwareVersion string
	Radio           config.Radio

	// DisallowedPacketTypes suppresses per-packet publication for the
	// listed payload types, matching letsmesh.disallowed_packet_types.
	DisallowedPacketTypes []int

	Logger *slog.Logger

	dial dialer // overridden in tests
}

// Publisher is the Upstream Publisher (C5). It maintains a signed-token
// WebSocket session to a single configured broker and republishes records
// fanned in from the Telemetry Aggregator.
type Publisher struct {
	cfg       Config
	log       *slog.Logger
	dial      dialer
	startedAt time.Time

	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64

	mu        sync.Mutex
	conn      conn
	token     string
	tokenExp  time.Time
	connected bool
}

// New creates a Publisher. Connection is established lazily on the first
// publish call or explicitly via Run.
func New(cfg Config) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := cfg.dial
	if d == nil {
		d = wsDialer{}
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 60 * time.Second
	}
	return &Publisher{cfg: cfg, log: logger.WithGroup("upstream"), dial: d, startedAt: time.Now()}
}

// tokenHeader/tokenPayload form the three-part compact token:
// base64url(header).base64url(payload).hex(signature), matching
// spec.md §4.10's Ed25519-signed JWT-like construction.
type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenPayload struct {
	PublicKey string `json:"publicKey"` // node pubkey, hex, uppercase
	Aud       string `json:"aud"`
	Iat       int64  `json:"iat"`
	Exp       int64  `json:"exp"`
	Owner     string `json:"owner,omitempty"`
	Email     string `json:"email,omitempty"`
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// pubKeyHex returns the node's public key as uppercase hex, matching the
// token payload's publicKey field and the basic-auth username.
func (p *Publisher) pubKeyHex() string {
	return fmt.Sprintf("%X", p.cfg.Identity.PublicKey)
}

// buildToken constructs and signs a fresh token valid for tokenLifetime
// starting at issuedAt. owner/email are only populated when connecting over
// TLS (the upstream broker dial is always wss://, so they're always sent
// here; callers that don't configure them simply leave both blank).
func (p *Publisher) buildToken(issuedAt time.Time) (string, time.Time, error) {
	header, err := json.Marshal(tokenHeader{Alg: "Ed25519", Typ: "JWT"})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token header: %w", err)
	}
	exp := issuedAt.Add(tokenLifetime)
	payload, err := json.Marshal(tokenPayload{
		PublicKey: p.pubKeyHex(),
		Aud:       p.cfg.Broker.Audience,
		Iat:       issuedAt.Unix(),
		Exp:       exp.Unix(),
		Owner:     p.cfg.Owner,
		Email:     p.cfg.Email,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token payload: %w", err)
	}

	signingInput := b64url(header) + "." + b64url(payload)
	sig := ed25519.Sign(p.cfg.Identity.PrivateKey, []byte(signingInput))

	return signingInput + "." + hex.EncodeToString(sig), exp, nil
}

// Username returns the broker login username, v1_<PUBKEY_HEX_UPPER>.
func (p *Publisher) Username() string {
	return "v1_" + p.pubKeyHex()
}

// ensureToken returns a valid token, refreshing if the current one has
// crossed refreshFraction of its lifetime.
func (p *Publisher) ensureToken(now time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		issued := p.tokenExp.Add(-tokenLifetime)
		refreshAt := issued.Add(time.Duration(float64(tokenLifetime) * refreshFraction))
		if now.Before(refreshAt) {
			return p.token, nil
		}
	}

	tok, exp, err := p.buildToken(now)
	if err != nil {
		return "", err
	}
	// A token refresh invalidates any connection authenticated with the
	// old basic-auth password; force a reconnect on next publish.
	if p.token != "" && tok != p.token {
		p.closeLocked()
	}
	p.token = tok
	p.tokenExp = exp
	return tok, nil
}

func (p *Publisher) wsURL() string {
	return fmt.Sprintf("wss://%s:%d/mqtt", p.cfg.Broker.Host, p.cfg.Broker.Port)
}

// connectLocked dials the broker with the signed token attached as HTTP
// Basic-Auth on the WebSocket handshake (spec.md §6), matching the "Auth
// header: basic-auth" requirement — the broker has no separate login frame.
func (p *Publisher) connectLocked(ctx context.Context, token string) error {
	if p.connected {
		return nil
	}
	header := http.Header{}
	header.Set("Authorization", basicAuthHeader(p.Username(), token))

	c, err := p.dial.Dial(ctx, p.wsURL(), header)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("dial upstream broker %s: %w", p.cfg.Broker.Host, err)
	}
	p.conn = c
	p.connected = true
	return nil
}

func (p *Publisher) closeLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}

func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// topicBase returns the `meshcore/<iata>/<pubkey>` prefix shared by the
// status and packets topics (spec.md §6).
func (p *Publisher) topicBase() string {
	return fmt.Sprintf("meshcore/%s/%s", p.cfg.IataCode, p.pubKeyHex())
}

// publish connects (or reuses the connection) and writes one JSON frame to
// the given topic. Best-effort: callers (the Telemetry Aggregator, the
// heartbeat loop) log failures but do not block on them.
func (p *Publisher) publish(ctx context.Context, topic string, payload map[string]any) error {
	token, err := p.ensureToken(time.Now())
	if err != nil {
		return fmt.Errorf("ensure upstream token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(ctx, token); err != nil {
		return err
	}

	envelope := map[string]any{"topic": topic, "payload": payload}
	if err := p.conn.WriteJSON(envelope); err != nil {
		p.closeLocked()
		p.errors.Add(1)
		return fmt.Errorf("publish upstream record: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// PublishPacket publishes one per-packet record to
// meshcore/<iata>/<pubkey>/packets, filling in the node-identity fields the
// Telemetry Aggregator's payload can't supply, and suppressing types listed
// in DisallowedPacketTypes.
func (p *Publisher) PublishPacket(ctx context.Context, payload map[string]any) error {
	if pt, ok := payload["packet_type"]; ok {
		if n, ok := pt.(uint8); ok && p.isDisallowed(int(n)) {
			return nil
		}
	}
	p.received.Add(1)
	return p.publish(ctx, p.topicBase()+"/packets", p.withOrigin(payload, "PACKET"))
}

// PublishAdvert publishes one advert observation, reusing the packets topic
// per spec.md §6 (no separate upstream advert topic is defined).
func (p *Publisher) PublishAdvert(ctx context.Context, payload map[string]any) error {
	return p.publish(ctx, p.topicBase()+"/packets", p.withOrigin(payload, payload["packet_type"]))
}

func (p *Publisher) withOrigin(payload map[string]any, typ any) map[string]any {
	out := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		out[k] = v
	}
	out["origin"] = p.cfg.NodeName
	out["origin_id"] = p.pubKeyHex()
	out["type"] = typ
	return out
}

func (p *Publisher) isDisallowed(t int) bool {
	for _, d := range p.cfg.DisallowedPacketTypes {
		if d == t {
			return true
		}
	}
	return false
}

// radioString renders the configured radio parameters as the status
// message's "<MHz>,<kHz>,<SF>,<CR>" field.
func (p *Publisher) radioString() string {
	r := p.cfg.Radio
	return fmt.Sprintf("%g,%g,%d,%d", r.Frequency, r.Bandwidth, r.SpreadingFactor, r.CodingRate)
}

// statusPayload builds the heartbeat message for meshcore/<iata>/<pubkey>/status.
func (p *Publisher) statusPayload(status string, now time.Time) map[string]any {
	return map[string]any{
		"status":           status,
		"timestamp":        now.UTC().Format(time.RFC3339),
		"origin":           p.cfg.NodeName,
		"origin_id":        p.pubKeyHex(),
		"model":            runtime.GOARCH,
		"firmware_version": p.cfg.FirmwareVersion,
		"radio":            p.radioString(),
		"client_version":   clientVersion,
		"stats": map[string]any{
			"uptime_secs":      int64(now.Sub(p.startedAt).Seconds()),
			"packets_sent":     p.sent.Load(),
			"packets_received": p.received.Load(),
			"errors":           p.errors.Load(),
			"queue_len":        0,
		},
	}
}

func (p *Publisher) publishStatus(ctx context.Context, status string, now time.Time) error {
	return p.publish(ctx, p.topicBase()+"/status", p.statusPayload(status, now))
}

// Run drives the heartbeat/token-refresh loop until ctx is cancelled,
// structured like device/advert/scheduler.go's ticker-driven Start loop.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(heartbeatTick)
	defer ticker.Stop()

	lastHeartbeat := time.Time{}

	for {
		select {
		case <-ctx.Done():
			p.sendOffline(context.Background())
			return
		case now := <-ticker.C:
			if _, err := p.ensureToken(now); err != nil {
				p.log.Warn("failed to refresh upstream token", "error", err)
				continue
			}
			if now.Sub(lastHeartbeat) >= p.cfg.StatusInterval {
				if err := p.publishStatus(ctx, "online", now); err != nil {
					p.log.Debug("heartbeat publish failed", "error", err)
				}
				lastHeartbeat = now
			}
		}
	}
}

// sendOffline publishes a best-effort offline status on shutdown, then
// closes the connection.
func (p *Publisher) sendOffline(ctx context.Context) {
	_ = p.publishStatus(ctx, "offline", time.Now())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}
