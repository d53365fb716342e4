package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Control surface payloads. Every endpoint takes a small JSON body and
// answers 204 except /control/chat, which returns the turn result.
type openDocRequest struct {
	URI  string `json:"uri"`
	Text string `json:"text"`
}

type closeDocRequest struct {
	URI string `json:"uri"`
}

type chatHTTPRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

type chatHTTPResponse struct {
	Message string `json:"message"`
	Ok      bool   `json:"ok"`
}

// controlHandler serves the editor-facing workspace surface on the
// bootstrap server.
func (a *Agent) controlHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/control/did_open", func(w http.ResponseWriter, r *http.Request) {
		var req openDocRequest
		if !decodeControl(w, r, &req) {
			return
		}
		a.DidOpen(req.URI, req.Text)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/control/did_change", func(w http.ResponseWriter, r *http.Request) {
		var req openDocRequest
		if !decodeControl(w, r, &req) {
			return
		}
		a.DidChange(req.URI, req.Text)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/control/did_close", func(w http.ResponseWriter, r *http.Request) {
		var req closeDocRequest
		if !decodeControl(w, r, &req) {
			return
		}
		a.DidClose(req.URI)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/control/active_document", func(w http.ResponseWriter, r *http.Request) {
		var req closeDocRequest
		if !decodeControl(w, r, &req) {
			return
		}
		a.SetActiveDocument(req.URI)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/control/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatHTTPRequest
		if !decodeControl(w, r, &req) {
			return
		}
		msg, ok := a.ChatRequest(r.Context(), req.Content, req.Model)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(chatHTTPResponse{Message: msg, Ok: ok}); err != nil {
			a.log.Debug("failed to write chat response", zap.Error(err))
		}
	})

	mux.HandleFunc("/control/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		// Detach from the request: shutting down tears the server out
		// from under this handler.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.Shutdown(ctx)
		}()
	})

	return mux
}

func decodeControl(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
