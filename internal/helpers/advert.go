// Package helpers implements the Advert, Trace, and Discovery side-effect
// processors of C8: parsing control and advert payloads that
// pass through the repeater and recording what they reveal about the mesh,
// without altering the Engine's forward/drop decision for the carrying
// packet.
//
// Grounded on original_source/repeater/handler_helpers/{advert,trace,
// discovery}.py for control flow, and on the deleted teacher package
// core/contact's ProcessAdvert (absorbed here rather than kept, since a
// full ContactManager with slots is out of scope for a transparent
// forwarder) and device/router/trace.go's handleTrace for the Go wire-level
// idiom.
package helpers

import (
	"context"
	"log/slog"
	"time"

	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/core/crypto"
	"github.com/kabili207/meshcore-go/internal/store"
)

// AdvertObserver is the subset of telemetry.Aggregator the Advert helper
// needs: ObserveAdvert both persists the row and fans it out to local MQTT
// and the upstream broker, so the helper never writes to the Store
// directly.
type AdvertObserver interface {
	ObserveAdvert(ctx context.Context, rec *store.AdvertRecord) (isNew bool, err error)
}

// Advert processes ADVERT payloads for neighbor tracking.
type Advert struct {
	observer AdvertObserver
	selfPub  [32]byte
	log      *slog.Logger
}

// NewAdvert creates an Advert helper. selfPub is used to skip the
// repeater's own adverts.
func NewAdvert(o AdvertObserver, selfPub [32]byte, log *slog.Logger) *Advert {
	if log == nil {
		log = slog.Default()
	}
	return &Advert{observer: o, selfPub: selfPub, log: log.WithGroup("advert-helper")}
}

// Process parses and verifies an ADVERT payload, then upserts the neighbor
// record. It never mutates the carrying packet's forward/drop decision —
// an unverifiable advert is still forwarded, just not recorded.
func (a *Advert) Process(ctx context.Context, pkt *codec.Packet, rssi int, snr float64, now time.Time) {
	advert, err := codec.ParseAdvertPayload(pkt.Payload)
	if err != nil {
		a.log.Debug("advert parse failed", "error", err)
		return
	}
	if !crypto.VerifyAdvert(advert) {
		a.log.Warn("advert signature verification failed")
		return
	}
	if advert.PubKey == a.selfPub {
		return
	}
	if advert.AppData == nil {
		return
	}

	pubHex := hexString(advert.PubKey[:])

	rec := &store.AdvertRecord{
		Timestamp:   now,
		PubKey:      pubHex,
		NodeName:    advert.AppData.Name,
		IsRepeater:  advert.AppData.NodeType == codec.NodeTypeRepeater,
		RouteType:   codec.RouteTypeName(pkt.RouteType()),
		ContactType: codec.NodeTypeName(advert.AppData.NodeType),
		RSSI:        rssi,
		SNR:         snr,
	}
	if advert.AppData.HasLocation {
		rec.Latitude = advert.AppData.Lat
		rec.Longitude = advert.AppData.Lon
	}

	// IsNewNeighbor is set by the observer from the store's upsert
	// result, not decided here — a restart must not make every neighbor
	// look new again.
	if _, err := a.observer.ObserveAdvert(ctx, rec); err != nil {
		a.log.Error("failed to store advert record", "error", err)
	}
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0F]
	}
	return string(out)
}
