package store

import (
	"context"

	"github.com/kabili207/meshcore-go/internal/engine"
)

// EngineKeySource adapts a *Store to engine's storeKeyLister interface,
// translating the gorm TransportKey model into engine.StoredTransportKey.
// Lives in internal/store (not internal/engine) so the engine package never
// needs to import gorm or internal/store directly.
type EngineKeySource struct {
	*Store
}

// NewEngineKeySource wraps s for use as an engine.TransportKeyCache source.
func NewEngineKeySource(s *Store) *EngineKeySource {
	return &EngineKeySource{Store: s}
}

func (e *EngineKeySource) ListTransportKeys(ctx context.Context) ([]engine.StoredTransportKey, error) {
	keys, err := e.Store.ListTransportKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.StoredTransportKey, len(keys))
	for i, k := range keys {
		out[i] = engine.StoredTransportKey{
			ID:          k.ID,
			FloodPolicy: k.FloodPolicy,
			KeyMaterial: k.TransportKey,
		}
	}
	return out, nil
}

func (e *EngineKeySource) TouchTransportKey(ctx context.Context, id uint64) error {
	return e.Store.TouchTransportKey(ctx, id)
}
