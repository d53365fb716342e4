package webhost

import (
	"context"
	"errors"

	"appbridge/internal/document"
)

// ErrClosed reports that the host shut down while an app call was in
// flight.
var ErrClosed = errors.New("webhost: shutting down")

// AppInferenceRequest pushes an inference request for a mini-app into the
// mailbox and waits for the matching reply. Replies for one app are
// delivered in request order.
func (h *Host) AppInferenceRequest(ctx context.Context, appID, content string) (string, error) {
	ch := make(chan string, 1)
	h.pendingMu.Lock()
	h.pending[appID] = append(h.pending[appID], ch)
	h.pendingMu.Unlock()

	h.requests.Push(document.AgentRequest{
		Kind:    document.RequestInference,
		Content: content,
		AppID:   appID,
	})

	select {
	case reply, ok := <-ch:
		if !ok {
			return "", ErrClosed
		}
		return reply, nil
	case <-ctx.Done():
		h.dropPending(appID, ch)
		return "", ctx.Err()
	}
}

// dropPending removes an abandoned responder so a late reply is not
// delivered to a caller that already gave up.
func (h *Host) dropPending(appID string, ch chan string) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	queue := h.pending[appID]
	for i, c := range queue {
		if c == ch {
			h.pending[appID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(h.pending[appID]) == 0 {
		delete(h.pending, appID)
	}
}

// ReadDocument returns the text of a mirrored editor buffer. Webview ids
// live in a separate namespace and never resolve here.
func (h *Host) ReadDocument(uri string) (string, bool) {
	var (
		text  string
		found bool
	)
	h.doc.View(func(r *document.Reader) {
		text, found = r.TextDocument(uri)
	})
	return text, found
}

// AppContent returns the HTML of a running mini-app.
func (h *Host) AppContent(id string) (string, bool) {
	var (
		content string
		found   bool
	)
	h.doc.View(func(r *document.Reader) {
		content, found = r.Webview(id)
	})
	return content, found
}

// CloseApp removes a mini-app and records the closure in the transcript,
// in one transaction, so the engine learns about it on the next turn.
func (h *Host) CloseApp(id string) {
	h.doc.Change(func(tx *document.Tx) {
		tx.RemoveWebview(id)
		tx.AppendFragment(document.ConversationFragment{
			Role:    document.RoleAssistant,
			Content: "App closed: " + id,
		})
	})
	h.pendingMu.Lock()
	for _, ch := range h.pending[id] {
		close(ch)
	}
	delete(h.pending, id)
	h.pendingMu.Unlock()
}

// StoreValue saves a named value with a description. The description is
// what the engine sees when it enumerates stored values; the value itself
// stays app-private.
func (h *Host) StoreValue(key, value, description string) {
	h.doc.Change(func(tx *document.Tx) {
		tx.PutStoredValue(key, document.StoredValue{
			Value:       value,
			Description: description,
		})
	})
}

// ReadValue fetches a previously stored value.
func (h *Host) ReadValue(key string) (string, bool) {
	var (
		value string
		found bool
	)
	h.doc.View(func(r *document.Reader) {
		value, found = r.StoredValue(key)
	})
	return value, found
}
