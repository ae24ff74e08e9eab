package phone

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
	"github.com/dgnsrekt/sunshine-watchsync/internal/sync"
)

// Handler answers sync requests from the watch by forgetting what was last
// sent and forcing a fresh sync.
type Handler struct {
	store   MarkerStore
	trigger Trigger
	logger  *zap.Logger
}

// NewHandler creates a Handler that clears store and fires trigger.
func NewHandler(store MarkerStore, trigger Trigger, logger *zap.Logger) *Handler {
	return &Handler{store: store, trigger: trigger, logger: logger}
}

// OnSyncRequest ignores messages on any other path.
func (h *Handler) OnSyncRequest(ctx context.Context, msg channel.MessageEvent) error {
	if msg.Path != sync.RequestDataSyncPath {
		return nil
	}

	h.logger.Debug("sync request received", zap.String("from", string(msg.From)))

	if err := h.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing last sent marker: %w", err)
	}
	h.trigger.SyncImmediately()
	return nil
}
