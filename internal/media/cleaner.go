package media

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
)

// Cleaner removes stored media after the owning records are gone. Failures are logged
// and counted but never returned; the database stays authoritative.
type Cleaner struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCleaner builds a Cleaner. A nil logger discards output.
func NewCleaner(store Store, logger *zap.Logger, collectors *metrics.Metrics) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, logger: logger, metrics: collectors}
}

// Remove deletes every stored reference, skipping empty values and the placeholder.
// It returns the number of references that were deleted.
func (c *Cleaner) Remove(ctx context.Context, refs ...Reference) int {
	if c == nil || c.store == nil {
		return 0
	}
	removed := 0
	for _, ref := range refs {
		if !ref.IsStored() {
			continue
		}
		if err := c.store.Delete(ctx, ref); err != nil {
			c.logger.Warn("media cleanup failed",
				zap.String("reference", ref.String()),
				zap.Error(err),
			)
			c.metrics.ObserveMediaDeleteFailure()
			continue
		}
		removed++
	}
	return removed
}
