package relay

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/models"
)

// BuildDigest renders the scheduled pending-queue summary. Returns an
// empty string when nothing is waiting, which suppresses the send.
func BuildDigest(ctx context.Context, api API) (string, error) {
	items, err := api.ListTickets(ctx, models.StatusPending)
	if err != nil {
		return "", fmt.Errorf("relay: digest: list pending: %w", err)
	}
	if len(items) == 0 {
		return "", nil
	}
	return "Daily support digest.\n" + formatQueue(items), nil
}
