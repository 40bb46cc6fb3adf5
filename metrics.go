package main

import (
	"context"
	"log/slog"
	"time"

	"conchat/internal/chat"
)

// RunMetrics logs server activity every interval until ctx is canceled.
func RunMetrics(ctx context.Context, server *chat.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames, delivered, clients := server.Stats()
			if clients > 0 || frames > 0 {
				slog.Info("activity",
					"clients", clients,
					"frames_in", frames,
					"frames_delivered", delivered,
					"rooms", server.RoomCount())
			}
		}
	}
}
