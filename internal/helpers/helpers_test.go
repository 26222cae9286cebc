package helpers

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/kabili207/meshcore-go/core"
	"github.com/kabili207/meshcore-go/core/codec"
	"github.com/kabili207/meshcore-go/core/crypto"
	"github.com/kabili207/meshcore-go/internal/store"
)

type fakeAdvertObserver struct {
	stored []*store.AdvertRecord
	seen   map[string]bool
}

func (f *fakeAdvertObserver) ObserveAdvert(ctx context.Context, rec *store.AdvertRecord) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	isNew := !f.seen[rec.PubKey]
	f.seen[rec.PubKey] = true
	rec.IsNewNeighbor = isNew
	f.stored = append(f.stored, rec)
	return isNew, nil
}

func buildSignedAdvertPacket(t *testing.T, name string) (*codec.Packet, [32]byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)

	appData := &codec.AdvertAppData{
		Flags:    codec.NodeTypeRepeater | codec.FlagHasName,
		NodeType: codec.NodeTypeRepeater,
		Name:     name,
	}
	appDataBytes := codec.BuildAdvertAppData(appData)

	sig, err := crypto.SignAdvert(priv, pubArr, 1000, appDataBytes)
	if err != nil {
		t.Fatal(err)
	}

	payload := codec.BuildAdvertPayload(pubArr, 1000, sig, appData)

	pkt := &codec.Packet{
		Header:  makeHeader(codec.RouteTypeFlood, codec.PayloadTypeAdvert, codec.PayloadVer1),
		Payload: payload,
	}
	return pkt, pubArr
}

func makeHeader(route, payloadType, ver uint8) uint8 {
	return (ver << codec.PHVerShift) | ((payloadType & codec.PHTypeMask) << codec.PHTypeShift) | (route & codec.PHRouteMask)
}

func TestAdvertProcessStoresNewNeighbor(t *testing.T) {
	pkt, _ := buildSignedAdvertPacket(t, "relay-1")
	var selfPub [32]byte // not equal to the generated key

	s := &fakeAdvertObserver{}
	a := NewAdvert(s, selfPub, nil)
	a.Process(context.Background(), pkt, -70, 6.5, time.Unix(1000, 0))

	if len(s.stored) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(s.stored))
	}
	if !s.stored[0].IsNewNeighbor {
		t.Fatalf("expected first sighting to be flagged as new neighbor")
	}
	if s.stored[0].NodeName != "relay-1" {
		t.Fatalf("unexpected node name %q", s.stored[0].NodeName)
	}
}

func TestAdvertProcessIgnoresOwnAdvert(t *testing.T) {
	pkt, selfPub := buildSignedAdvertPacket(t, "me")

	s := &fakeAdvertObserver{}
	a := NewAdvert(s, selfPub, nil)
	a.Process(context.Background(), pkt, -70, 6.5, time.Unix(1000, 0))

	if len(s.stored) != 0 {
		t.Fatalf("expected own advert to be skipped, got %d stored", len(s.stored))
	}
}

func TestAdvertProcessRejectsBadSignature(t *testing.T) {
	pkt, _ := buildSignedAdvertPacket(t, "tampered")
	pkt.Payload[50] ^= 0xFF // corrupt signature bytes

	var selfPub [32]byte
	s := &fakeAdvertObserver{}
	a := NewAdvert(s, selfPub, nil)
	a.Process(context.Background(), pkt, -70, 6.5, time.Unix(1000, 0))

	if len(s.stored) != 0 {
		t.Fatalf("expected tampered advert to be rejected, got %d stored", len(s.stored))
	}
}

func TestTraceProcessForwardsOwnHop(t *testing.T) {
	var selfID core.MeshCoreID
	selfID[0] = 0xAB

	payload := codec.BuildTracePayload(1, 2, 0, []byte{0xAB})
	pkt := &codec.Packet{
		Header:  makeHeader(codec.RouteTypeDirect, codec.PayloadTypeTrace, codec.PayloadVer1),
		Payload: payload,
		PathLen: 0,
		SNR:     20,
	}

	tr := NewTrace(selfID, nil)
	res := tr.Process(pkt)

	if res.DropReason != "" {
		t.Fatalf("unexpected drop reason: %q", res.DropReason)
	}
	if res.Forward == nil {
		t.Fatalf("expected forwarded packet")
	}
	if res.Forward.PathLen != 1 || res.Forward.Path[0] != 20 {
		t.Fatalf("expected SNR appended to path, got %v", res.Forward.Path)
	}
}

func TestTraceProcessDeliversWhenExhausted(t *testing.T) {
	var selfID core.MeshCoreID
	payload := codec.BuildTracePayload(1, 2, 0, []byte{0xAB})
	pkt := &codec.Packet{
		Header:  makeHeader(codec.RouteTypeDirect, codec.PayloadTypeTrace, codec.PayloadVer1),
		Payload: payload,
		PathLen: 1, // already past the single embedded hash
	}

	tr := NewTrace(selfID, nil)
	res := tr.Process(pkt)
	if !res.DeliverApp {
		t.Fatalf("expected trace to be delivered locally once exhausted")
	}
}

func TestDiscoveryProcessRespondsWhenFilterMatches(t *testing.T) {
	var pub [32]byte
	pub[0] = 0x11

	reqPayload := codec.BuildDiscoverReqPayload(false, 1<<NodeTypeRepeater, 0xCAFEBABE, 0)
	pkt := &codec.Packet{
		Header:  makeHeader(codec.RouteTypeFlood, codec.PayloadTypeControl, codec.PayloadVer1),
		Payload: reqPayload,
	}

	d := NewDiscovery(pub, nil)
	resp, ok := d.Process(pkt, 6.0)
	if !ok {
		t.Fatalf("expected a response when filter matches")
	}

	parsed, err := codec.ParseControlPayload(resp)
	if err != nil {
		t.Fatal(err)
	}
	drp, err := codec.ParseDiscoverRespFromControl(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if drp.Tag != 0xCAFEBABE {
		t.Fatalf("expected tag reflected, got %#x", drp.Tag)
	}
}

func TestDiscoveryProcessIgnoresNonMatchingFilter(t *testing.T) {
	var pub [32]byte
	reqPayload := codec.BuildDiscoverReqPayload(false, 1<<0, 1, 0) // filter for node type 0 only
	pkt := &codec.Packet{
		Header:  makeHeader(codec.RouteTypeFlood, codec.PayloadTypeControl, codec.PayloadVer1),
		Payload: reqPayload,
	}

	d := NewDiscovery(pub, nil)
	_, ok := d.Process(pkt, 6.0)
	if ok {
		t.Fatalf("expected no response for non-matching filter")
	}
}
