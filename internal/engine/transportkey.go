package engine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kabili207/meshcore-go/core/codec"
)

// transportKeyTTL is how long a fetched key list is cached before the
// Store is consulted again.
const transportKeyTTL = 60 * time.Second

// storeKeyLister is the subset of store.Store the transport-key cache needs.
// Kept as an interface so the engine package does not import internal/store
// directly (avoids an import cycle with internal/telemetry).
type storeKeyLister interface {
	ListTransportKeys(ctx context.Context) ([]StoredTransportKey, error)
	TouchTransportKey(ctx context.Context, id uint64) error
}

// StoredTransportKey is the subset of store.TransportKey the engine needs.
type StoredTransportKey struct {
	ID          uint64
	FloodPolicy string // "allow" or "deny"
	KeyMaterial string // base64
}

// TransportKeyCache caches decoded keys from the Store for 60s, grounded on
// the teacher's device/router/transport.go CalcTransportCode (HMAC-SHA256
// truncated to a little-endian uint16, with the reserved 0x0000/0xFFFF
// codes bumped), generalized to look keys up from the Relational Store
// instead of a single fixed region key.
type TransportKeyCache struct {
	store storeKeyLister
	cache *gocache.Cache
}

// NewTransportKeyCache creates a cache backed by store.
func NewTransportKeyCache(store storeKeyLister) *TransportKeyCache {
	return &TransportKeyCache{store: store, cache: gocache.New(transportKeyTTL, transportKeyTTL)}
}

type decodedKey struct {
	id     uint64
	policy string
	key    [16]byte
}

func (c *TransportKeyCache) keys(ctx context.Context) ([]decodedKey, error) {
	if cached, found := c.cache.Get("keys"); found {
		return cached.([]decodedKey), nil
	}

	raw, err := c.store.ListTransportKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing transport keys: %w", err)
	}

	decoded := make([]decodedKey, 0, len(raw))
	for _, k := range raw {
		b, err := base64.StdEncoding.DecodeString(k.KeyMaterial)
		if err != nil || len(b) != 16 {
			continue
		}
		var key [16]byte
		copy(key[:], b)
		decoded = append(decoded, decodedKey{id: k.ID, policy: k.FloodPolicy, key: key})
	}
	c.cache.SetDefault("keys", decoded)
	return decoded, nil
}

// calcTransportCode computes the 2-byte transport code for a packet:
// HMAC-SHA256(key, payloadType||payload)[0:2] as uint16 LE, with the
// reserved values 0x0000/0xFFFF bumped to 0x0001/0xFFFE.
func calcTransportCode(key [16]byte, pkt *codec.Packet) uint16 {
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte{pkt.PayloadType()})
	mac.Write(pkt.Payload)
	sum := mac.Sum(nil)

	code := binary.LittleEndian.Uint16(sum[:2])
	switch code {
	case 0x0000:
		code = 0x0001
	case 0xFFFF:
		code = 0xFFFE
	}
	return code
}

// Policy looks up the flood policy for pkt's first transport code. Returns
// ("", false) on no match, meaning deny. On a match, the matching key's
// LastUsed is touched in the Store.
func (c *TransportKeyCache) Policy(ctx context.Context, pkt *codec.Packet) (policy string, matched bool) {
	keys, err := c.keys(ctx)
	if err != nil {
		return "", false
	}
	for _, k := range keys {
		if calcTransportCode(k.key, pkt) == pkt.TransportCodes[0] {
			_ = c.store.TouchTransportKey(ctx, k.id)
			return k.policy, true
		}
	}
	return "", false
}
