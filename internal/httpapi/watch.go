package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/lakesync/lakesync/internal/lakeerr"
)

// handleWatch upgrades to a websocket and streams BROADCAST wire frames
// as the gateway accepts new deltas (SPEC_FULL §6 [EXPANSION]). Purely
// an optimization atop polling pull: a watcher that misses a frame (slow
// consumer, reconnect) is expected to fall back to PullFromBuffer.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gatewayId")

	b, err := s.registry.get(gatewayID)
	if err != nil {
		writeError(w, lakeerr.ErrUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, unsubscribe := b.bcast.subscribe()
	defer unsubscribe()

	// Drain client-initiated frames on a background goroutine purely to
	// notice disconnects and control frames; watch is otherwise one-way.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}

			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				s.logger.Debug("httpapi: watch write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
