// Package engine implements the Repeater Engine (C7): per received packet,
// duplicate suppression, path rewrite, duty-cycle gated transmit-delay
// scheduling, and packet-record construction for telemetry.
//
// Grounded on original_source/repeater/engine.py (RepeaterHandler) for
// control flow, formulas, and drop-reason strings, and on the teacher's
// device/router/router.go HandlePacket gate chain / SendFlood / SendDirect
// for the Go dispatch idiom.
package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/internal/airtime"
)

// Drop reasons, matching original_source/repeater/engine.py's
// _get_drop_reason literally so dashboards and logs read the same.
const (
	DropMonitorMode     = "monitor mode"
	DropUnknownRoute    = "unknown route"
	DropDuplicate       = "Duplicate"
	DropPathTooLong     = "Path too long"
	DropFloodPolicy     = "Flood policy deny"
	DropEmptyPayload    = "Empty payload"
	DropNotForUs        = "Direct: not for us"
	DropDutyCycle       = "Duty cycle limit"
	DropDoNotRetransmit = "marked do-not-retransmit"
)

// RadioSender is the external radio driver's send primitive, consumed by
// the Engine to transmit forwarded and scheduled packets.
type RadioSender interface {
	Send(ctx context.Context, pkt *codec.Packet, waitForAck bool) error
}

// AirtimeGate is the subset of airtime.Accountant the Engine needs.
type AirtimeGate interface {
	CanTransmit(airtimeMS float64) (ok bool, wait time.Duration)
	RecordTx(airtimeMS float64)
}

// DuplicateCache is the subset of dedupe.Cache the Engine needs.
type DuplicateCache interface {
	IsDuplicate(hash string) bool
	MarkSeen(hash string)
}

// Mode selects forward vs. monitor-only operation.
type Mode int

const (
	ModeForward Mode = iota
	ModeMonitor
)

// Config configures an Engine.
type Config struct {
	SelfHash            uint8
	Mode                Mode
	GlobalFloodAllow    bool
	SpreadingFactor     int
	BandwidthKHz        float64
	TxDelayFactor       float64
	DirectTxDelayFactor float64
	UseScoreForTx       bool
	ScoreThreshold      float64
	RecentRingSize      int // default 50

	Airtime       AirtimeGate
	Dedupe        DuplicateCache
	TransportKeys *TransportKeyCache
	Radio         RadioSender
	Logger        *slog.Logger

	// Rand overrides the flood jitter source in TxDelay, for tests.
	Rand func() float64
}

// Record is the in-memory analogue of store.PacketRecord, immutable once
// built, handed to the Telemetry Aggregator.
type Record struct {
	Timestamp      time.Time
	Type           uint8
	Route          string
	Length         int
	RSSI           int
	SNR            float64
	Score          float64
	Transmitted    bool
	IsDuplicate    bool
	DropReason     string
	SrcHash        string
	DstHash        string
	PathHash       string
	Header         uint8
	TransportCodes string
	Payload        string
	PayloadLength  int
	TxDelayMS      float64
	PacketHash     string
	OriginalPath   []byte
	ForwardedPath  []byte
	RawPacket      string

	// Duplicates attached to the original record's entry rather than
	// appearing separately in the ring.
	Duplicates []*Record
}

// Engine is the Repeater Engine (C7).
type Engine struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	ring     []*Record
	byHash   map[string]*Record // most recent non-duplicate record per hash, for attaching dup observations
	onRecord func(*Record)

	Counters Counters
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.RecentRingSize <= 0 {
		cfg.RecentRingSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, log: logger.WithGroup("engine"), byHash: make(map[string]*Record)}
}

// SetRecordHandler is set by the Telemetry Aggregator (C6) to receive each
// built Record as it completes. Optional; may be nil in tests.
func (e *Engine) SetRecordHandler(fn func(*Record)) {
	e.mu.Lock()
	e.onRecord = fn
	e.mu.Unlock()
}

// SetMode switches between forward and monitor-only operation at runtime,
// for the HTTP Control Surface's set_mode endpoint.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	e.cfg.Mode = mode
	e.mu.Unlock()
}

// SetGlobalFloodAllow toggles the global flood-allow switch at runtime,
// for the HTTP Control Surface's global_flood_policy endpoint.
func (e *Engine) SetGlobalFloodAllow(allow bool) {
	e.mu.Lock()
	e.cfg.GlobalFloodAllow = allow
	e.mu.Unlock()
}

// Process runs one received packet through the Engine's full decision
// sequence and returns the resulting Record. It does not itself decide
// whether to call helpers — the Router (C9) calls helpers first and may
// have already marked the packet do-not-retransmit.
func (e *Engine) Process(ctx context.Context, rx *Received) *Record {
	pkt := rx.Packet
	hash := Hash(pkt)

	rec := &Record{
		Timestamp:      rx.Timestamp,
		Type:           pkt.PayloadType(),
		Route:          codec.RouteTypeName(pkt.RouteType()),
		Length:         len(pkt.Payload),
		RSSI:           rx.RSSI,
		SNR:            rx.SNR,
		Header:         pkt.Header,
		TransportCodes: hex.EncodeToString(transportCodeBytes(pkt)),
		Payload:        hex.EncodeToString(pkt.Payload),
		PayloadLength:  len(pkt.Payload),
		PacketHash:     hash,
		OriginalPath:   append([]byte(nil), pkt.Path...),
		RawPacket:      hex.EncodeToString(pkt.WriteTo()),
	}
	rec.Score = Score(rx.SNR, len(pkt.Payload), e.cfg.SpreadingFactor)

	if e.cfg.Mode == ModeMonitor {
		rec.DropReason = DropMonitorMode
		e.finish(rec)
		return rec
	}

	if rx.NoRetransmit || pkt.IsMarkedDoNotRetransmit() {
		rec.DropReason = DropDoNotRetransmit
		e.finish(rec)
		return rec
	}

	var fwd *codec.Packet
	switch {
	case pkt.IsFlood():
		fwd = e.floodForward(ctx, pkt, rec)
	case pkt.IsDirect():
		fwd = e.directForward(pkt, rec)
	default:
		rec.DropReason = DropUnknownRoute
	}

	if fwd == nil {
		e.finish(rec)
		return rec
	}

	if rec.DropReason != "" {
		e.finish(rec)
		return rec
	}

	rec.ForwardedPath = append([]byte(nil), fwd.Path...)

	airtimeMS := estimatedAirtime(len(fwd.Payload), e.cfg.SpreadingFactor, e.cfg.BandwidthKHz)
	ok, _ := e.cfg.Airtime.CanTransmit(airtimeMS)
	if !ok {
		rec.DropReason = DropDutyCycle
		e.finish(rec)
		return rec
	}

	delay := TxDelay(TxDelayParams{
		IsFlood:             pkt.IsFlood(),
		AirtimeMS:           airtimeMS,
		TxDelayFactor:       e.cfg.TxDelayFactor,
		DirectTxDelayFactor: e.cfg.DirectTxDelayFactor,
		Score:               rec.Score,
		UseScoreForTx:       e.cfg.UseScoreForTx,
		Rand:                e.cfg.Rand,
	})
	rec.TxDelayMS = float64(delay.Milliseconds())
	rec.Transmitted = true

	e.scheduleSend(ctx, fwd, delay, airtimeMS)

	e.finish(rec)
	return rec
}

// floodForward validates and mutates a flood-routed packet for rebroadcast.
// Returns the mutated packet on success, or nil with rec.DropReason set.
func (e *Engine) floodForward(ctx context.Context, pkt *codec.Packet, rec *Record) *codec.Packet {
	if len(pkt.Payload) == 0 {
		rec.DropReason = DropEmptyPayload
		return nil
	}
	if int(pkt.PathLen) >= codec.MaxPathSize {
		rec.DropReason = DropPathTooLong
		return nil
	}

	if !e.cfg.GlobalFloodAllow {
		if !pkt.HasTransportCodes() || e.cfg.TransportKeys == nil {
			rec.DropReason = DropFloodPolicy
			return nil
		}
		policy, matched := e.cfg.TransportKeys.Policy(ctx, pkt)
		if !matched || policy != "allow" {
			rec.DropReason = DropFloodPolicy
			return nil
		}
	}

	hash := Hash(pkt)
	if e.cfg.Dedupe.IsDuplicate(hash) {
		rec.DropReason = DropDuplicate
		rec.IsDuplicate = true
		e.attachDuplicate(hash, rec)
		return nil
	}

	fwd := pkt.Clone()
	if int(fwd.PathLen) >= len(fwd.Path) {
		fwd.Path = append(fwd.Path, e.cfg.SelfHash)
	} else {
		fwd.Path[fwd.PathLen] = e.cfg.SelfHash
	}
	fwd.PathLen++
	e.cfg.Dedupe.MarkSeen(hash)
	return fwd
}

// directForward validates and mutates a direct-routed packet: require path
// non-empty and path[0]==selfHash, pop the first path element.
func (e *Engine) directForward(pkt *codec.Packet, rec *Record) *codec.Packet {
	if pkt.PathLen == 0 || pkt.Path[0] != e.cfg.SelfHash {
		rec.DropReason = DropNotForUs
		return nil
	}

	fwd := pkt.Clone()
	fwd.PathLen--
	copy(fwd.Path, fwd.Path[1:1+fwd.PathLen])
	fwd.Path = fwd.Path[:fwd.PathLen]
	return fwd
}

// scheduleSend sleeps delay, then sends fwd and records its airtime — the
// Go analogue of engine.py's asyncio schedule_retransmit task.
func (e *Engine) scheduleSend(ctx context.Context, fwd *codec.Packet, delay time.Duration, airtimeMS float64) {
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := e.cfg.Radio.Send(ctx, fwd, false); err != nil {
			e.log.Warn("radio send failed", "error", err)
			return
		}
		e.cfg.Airtime.RecordTx(airtimeMS)
	}()
}

// finish appends rec to the bounded recent-records ring and invokes the
// record handler.
func (e *Engine) finish(rec *Record) {
	e.Counters.observe(rec)

	e.mu.Lock()
	if !rec.IsDuplicate {
		e.ring = append(e.ring, rec)
		if len(e.ring) > e.cfg.RecentRingSize {
			e.ring = e.ring[len(e.ring)-e.cfg.RecentRingSize:]
		}
		e.byHash[rec.PacketHash] = rec
	}
	handler := e.onRecordLocked()
	e.mu.Unlock()

	if handler != nil {
		handler(rec)
	}
}

func (e *Engine) attachDuplicate(hash string, dup *Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if orig, ok := e.byHash[hash]; ok {
		orig.Duplicates = append(orig.Duplicates, dup)
	}
}

func (e *Engine) onRecordLocked() func(*Record) { return e.onRecord }

// RecentRecords returns an atomic snapshot of the in-memory ring the
// dashboard reads.
func (e *Engine) RecentRecords() []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Record, len(e.ring))
	copy(out, e.ring)
	return out
}

func transportCodeBytes(pkt *codec.Packet) []byte {
	if !pkt.HasTransportCodes() {
		return nil
	}
	return []byte{byte(pkt.TransportCodes[0]), byte(pkt.TransportCodes[0] >> 8), byte(pkt.TransportCodes[1]), byte(pkt.TransportCodes[1] >> 8)}
}

func estimatedAirtime(payloadLen, sf int, bwKHz float64) float64 {
	return airtime.CalculateAirtime(payloadLen, sf, bwKHz)
}

// JSONPath renders a path byte slice as a JSON array of integers, matching
// original_source/repeater/data_acquisition/sqlite_handler.py's
// store_packet JSON-encoded path columns.
func JSONPath(path []byte) string {
	ints := make([]int, len(path))
	for i, b := range path {
		ints[i] = int(b)
	}
	b, _ := json.Marshal(ints)
	return string(b)
}
