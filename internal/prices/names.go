package prices

import (
	"context"

	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/cache/limited"
)

const nameKeyPrefix = "name:"

// NameResolver resolves display names for items. Names are cosmetic, so they
// live in a bounded best-effort store rather than the pricing cache.
type NameResolver struct {
	store  limited.Store
	source Source
	logger *zap.Logger
}

// NewNameResolver creates a NameResolver.
func NewNameResolver(store limited.Store, source Source, logger *zap.Logger) *NameResolver {
	return &NameResolver{store: store, source: source, logger: logger}
}

// Name returns the store title or "Steam <raw>" when it cannot be resolved.
func (n *NameResolver) Name(ctx context.Context, rawID string) string {
	id, err := ParseIdentifier(rawID)
	if err != nil {
		return "Steam " + rawID
	}

	key := nameKeyPrefix + id.String()
	if name, found := n.store.Get(key); found {
		return name
	}

	name, err := n.source.Name(ctx, id)
	if err != nil {
		n.logger.Debug("Failed to fetch item name", zap.String("item", id.String()), zap.Error(err))
		return "Steam " + id.String()
	}
	n.store.Set(key, name)
	return name
}
