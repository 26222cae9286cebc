package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kabili207/meshcore-go/core/codec"
)

// Received wraps a codec.Packet with the transient receive-time metadata
// the radio attaches: RSSI in dBm, SNR in dB, and the time of arrival.
type Received struct {
	Packet    *codec.Packet
	RSSI      int
	SNR       float64
	Timestamp time.Time

	// NoRetransmit signals that a helper has already decided this packet
	// must not be forwarded, without mutating Packet.Header — the Record
	// built below is derived from the original header either way.
	NoRetransmit bool
}

// Hash returns the deterministic fingerprint over the packet's immutable
// fields (header + payload), truncated to the 16-hex-char form persisted in
// PacketRecord.PacketHash.
func Hash(pkt *codec.Packet) string {
	h := sha256.New()
	h.Write([]byte{pkt.Header})
	h.Write(pkt.Payload)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}
