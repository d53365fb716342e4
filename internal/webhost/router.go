package webhost

import (
	"context"

	"go.uber.org/zap"

	"appbridge/internal/document"
)

// routeResponses is the render-process watch loop. Each wakeup consumes at
// most one response; popping commits, which re-arms the watcher, so a
// backlog drains one entry per wakeup.
func (h *Host) routeResponses(ctx context.Context) {
	watch, cancelWatch := h.doc.Watch()
	defer cancelWatch()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watch:
		}

		resp, ok, shouldExit := h.responses.Take()

		if shouldExit {
			h.log.Info("exit flag observed, shutting down")
			h.cancel()
			h.repo.Stop()
			h.failPending()
			return
		}
		if !ok {
			continue
		}

		switch resp.Kind {
		case document.ResponseWebApp:
			// The webview entry arrived in the same commit; all that is
			// left is surfacing the app.
			h.log.Info("app launched",
				zap.String("app_id", resp.ID),
				zap.String("title", pageTitle(resp.Content)))

		case document.ResponseInference:
			h.deliverInference(resp.ID, resp.Content)

		case document.ResponseChat:
			// Legacy variant; chat resolves in-process on the control
			// side now. Not fatal, just noise.
			h.log.Warn("unexpected chat response in mailbox")

		default:
			h.log.Warn("unknown response kind in mailbox", zap.String("kind", string(resp.Kind)))
		}
	}
}

// deliverInference hands a reply to the oldest waiting responder for the
// app. Replies with no waiter are dropped; the app gave up or closed.
func (h *Host) deliverInference(appID, content string) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	queue := h.pending[appID]
	if len(queue) == 0 {
		h.log.Warn("inference reply with no waiting app", zap.String("app_id", appID))
		return
	}
	ch := queue[0]
	if len(queue) == 1 {
		delete(h.pending, appID)
	} else {
		h.pending[appID] = queue[1:]
	}
	ch <- content
}

// failPending closes every waiting responder so in-flight API calls
// unblock during teardown.
func (h *Host) failPending() {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for id, queue := range h.pending {
		for _, ch := range queue {
			close(ch)
		}
		delete(h.pending, id)
	}
}
