package helpers

import (
	"log/slog"

	"github.com/kabili207/meshcore-go/core/codec"
)

// NodeTypeRepeater is this repeater's node-type identifier for DISCOVER_REQ
// filter matching: filter_mask = 1 << node_type.
const NodeTypeRepeater = 2

// Discovery answers DISCOVER_REQ control packets with a DISCOVER_RESP
// advertising this repeater. Grounded on
// original_source/repeater/handler_helpers/discovery.py.
type Discovery struct {
	pubKey [32]byte
	log    *slog.Logger
}

// NewDiscovery creates a Discovery helper advertising pubKey.
func NewDiscovery(pubKey [32]byte, log *slog.Logger) *Discovery {
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{pubKey: pubKey, log: log.WithGroup("discovery-helper")}
}

// Process parses a CONTROL payload. If it is a DISCOVER_REQ whose filter
// matches this node type, it returns a DISCOVER_RESP payload to send back
// direct to the requester; otherwise it returns (nil, false).
func (d *Discovery) Process(pkt *codec.Packet, inboundSNR float32) ([]byte, bool) {
	ctrl, err := codec.ParseControlPayload(pkt.Payload)
	if err != nil {
		return nil, false
	}
	if ctrl.Subtype != codec.ControlSubtypeDiscoverReq {
		return nil, false
	}

	req, err := codec.ParseDiscoverReqFromControl(ctrl)
	if err != nil {
		d.log.Debug("discover request parse failed", "error", err)
		return nil, false
	}

	filterMask := uint8(1) << NodeTypeRepeater
	if req.TypeFilter&filterMask == 0 {
		return nil, false
	}

	pub := d.pubKey[:]
	if req.PrefixOnly {
		pub = pub[:8]
	}

	resp := codec.BuildDiscoverRespPayload(NodeTypeRepeater, int8(inboundSNR*4), req.Tag, pub)
	return resp, true
}
