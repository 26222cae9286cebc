package helpers

import (
	"log/slog"

	"github.com/kabili207/meshcore-go/core"
	"github.com/kabili207/meshcore-go/core/codec"
)

// Trace implements the TRACE packet forwarding variant.
// TRACE packets are direct-routed but carry per-hop SNR in Path[] and embed
// relay hashes in the payload, so the Engine's generic direct-forward path
// does not apply — this helper owns the full forward decision for TRACE,
// rather than merely observing a decision the Engine already made.
//
// Adapted from the teacher's device/router/trace.go handleTrace, generalized
// to return the mutated packet rather than enqueueing it on a shared
// priority send queue (this repeater has no other priority classes).
type Trace struct {
	selfID core.MeshCoreID
	log    *slog.Logger
}

// NewTrace creates a Trace helper bound to this repeater's identity hash.
func NewTrace(selfID core.MeshCoreID, log *slog.Logger) *Trace {
	if log == nil {
		log = slog.Default()
	}
	return &Trace{selfID: selfID, log: log.WithGroup("trace-helper")}
}

// Result describes the outcome of processing a TRACE packet.
type Result struct {
	Forward    *codec.Packet // non-nil if this hop should forward a mutated copy
	DeliverApp bool          // trace path exhausted; deliver to local app instead
	DropReason string
}

// Process walks the embedded relay-hash path one hop at a time: if the
// current hop hash doesn't match this repeater's identity the packet is
// dropped, if the path is exhausted the trace is delivered to the local
// app, otherwise a cloned packet with this hop's SNR appended is forwarded.
func (t *Trace) Process(pkt *codec.Packet) Result {
	if int(pkt.PathLen) >= codec.MaxPathSize {
		return Result{DropReason: "Path too long"}
	}

	trace, err := codec.ParseTracePayload(pkt.Payload)
	if err != nil {
		return Result{DropReason: "invalid trace payload"}
	}

	offset := int(pkt.PathLen) * trace.HashSize
	if offset >= len(trace.PathHashes) {
		return Result{DeliverApp: true}
	}

	hopHash := trace.PathHashes[offset : offset+trace.HashSize]
	if !t.selfID.IsHashMatch(hopHash) {
		return Result{DropReason: "not our trace hop"}
	}

	fwd := pkt.Clone()
	if int(fwd.PathLen) >= len(fwd.Path) {
		fwd.Path = append(fwd.Path, byte(pkt.SNR))
	} else {
		fwd.Path[fwd.PathLen] = byte(pkt.SNR)
	}
	fwd.PathLen++

	return Result{Forward: fwd}
}
