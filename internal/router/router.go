// Package router implements the Packet Router (C9): a dispatch-only stage
// that hands each received packet to the relevant side-effect helper
// (advert/trace/discovery) by payload type, then always hands it to the
// Engine for the forward/drop decision and statistics.
//
// Grounded on original_source/repeater/packet_router.py's _route_packet
// (parse-then-always-forward-to-engine shape) and the teacher's
// device/router/router.go HandlePacket gate chain, narrowed to dispatch —
// the forwarding decisions themselves live in internal/engine.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/internal/engine"
	"github.com/kabili207/meshcore-go/internal/helpers"
)

// AdvertProcessor is the subset of helpers.Advert the Router needs.
type AdvertProcessor interface {
	Process(ctx context.Context, pkt *codec.Packet, rssi int, snr float64, now time.Time)
}

// TraceProcessor is the subset of helpers.Trace the Router needs.
type TraceProcessor interface {
	Process(pkt *codec.Packet) helpers.Result
}

// DiscoveryProcessor is the subset of helpers.Discovery the Router needs.
type DiscoveryProcessor interface {
	Process(pkt *codec.Packet, inboundSNR float32) ([]byte, bool)
}

// Radio is the send primitive used for trace retransmission and discovery
// responses, both of which bypass the Engine's airtime/delay scheduling —
// trace hops and discovery replies are not subject to duty-cycle gating in
// the original implementation.
type Radio interface {
	Send(ctx context.Context, pkt *codec.Packet, waitForAck bool) error
}

// Config configures a Router.
type Config struct {
	Advert    AdvertProcessor
	Trace     TraceProcessor
	Discovery DiscoveryProcessor
	Engine    *engine.Engine
	Radio     Radio
	Logger    *slog.Logger
}

// Router is the Packet Router (C9).
type Router struct {
	cfg Config
	log *slog.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, log: logger.WithGroup("router")}
}

// HandlePacket dispatches one received packet by payload type, then always
// hands it to the Engine. Returns the Engine's Record for telemetry, or nil
// if the packet was disposed of entirely by a helper (currently: never —
// every packet reaches the Engine, matching packet_router.py's
// "always pass to the engine" comment).
func (r *Router) HandlePacket(ctx context.Context, rx *engine.Received) *engine.Record {
	pkt := rx.Packet

	switch pkt.PayloadType() {
	case codec.PayloadTypeAdvert:
		if r.cfg.Advert != nil {
			r.cfg.Advert.Process(ctx, pkt, rx.RSSI, rx.SNR, rx.Timestamp)
		}

	case codec.PayloadTypeTrace:
		if r.cfg.Trace != nil {
			r.handleTrace(ctx, pkt)
		}
		// Fall through to Engine below for statistics; the Engine's
		// generic direct-route matching naturally drops the packet since
		// the trace path bytes are per-hop SNR values rather than route
		// hashes, mirroring engine.py's behavior for TRACE packets.

	case codec.PayloadTypeControl:
		if r.cfg.Discovery != nil {
			if resp, matched := r.cfg.Discovery.Process(pkt, float32(rx.SNR)); matched {
				r.sendDiscoveryResponse(ctx, pkt, resp)
			}
		}
		// A processed control packet is never retransmitted verbatim.
		// Signaled on rx rather than by mutating pkt.Header, so the
		// Engine still builds the telemetry Record from the original
		// header instead of HeaderDoNotRetransmit.
		rx.NoRetransmit = true
	}

	return r.cfg.Engine.Process(ctx, rx)
}

func (r *Router) handleTrace(ctx context.Context, pkt *codec.Packet) {
	res := r.cfg.Trace.Process(pkt)
	if res.Forward == nil {
		return
	}
	if err := r.cfg.Radio.Send(ctx, res.Forward, false); err != nil {
		r.log.Warn("trace forward send failed", "error", err)
	}
}

func (r *Router) sendDiscoveryResponse(ctx context.Context, req *codec.Packet, respPayload []byte) {
	resp := &codec.Packet{
		Header:  makeDirectHeader(req),
		Payload: respPayload,
	}
	if err := r.cfg.Radio.Send(ctx, resp, false); err != nil {
		r.log.Warn("discovery response send failed", "error", err)
	}
}

// makeDirectHeader builds the header for a CONTROL response: direct route,
// same payload version as the request.
func makeDirectHeader(req *codec.Packet) uint8 {
	ver := req.PayloadVersion()
	return (ver << codec.PHVerShift) | ((codec.PayloadTypeControl & codec.PHTypeMask) << codec.PHTypeShift) | codec.RouteTypeDirect
}
