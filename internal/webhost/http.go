package webhost

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type inferenceAPIRequest struct {
	AppID   string `json:"app_id"`
	Content string `json:"content"`
}

type inferenceAPIResponse struct {
	Content string `json:"content"`
}

type readDocumentAPIRequest struct {
	URI string `json:"uri"`
}

type readDocumentAPIResponse struct {
	Text  string `json:"text"`
	Found bool   `json:"found"`
}

type storeValueAPIRequest struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

type readValueAPIRequest struct {
	Key string `json:"key"`
}

type readValueAPIResponse struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type closeAppAPIRequest struct {
	AppID string `json:"app_id"`
}

// appHandler serves the in-page API mini-apps call plus the app pages
// themselves.
func (h *Host) appHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/inference", func(w http.ResponseWriter, r *http.Request) {
		var req inferenceAPIRequest
		if !h.decode(w, r, &req) {
			return
		}
		reply, err := h.AppInferenceRequest(r.Context(), req.AppID, req.Content)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		h.writeJSON(w, inferenceAPIResponse{Content: reply})
	})

	mux.HandleFunc("/api/read_document", func(w http.ResponseWriter, r *http.Request) {
		var req readDocumentAPIRequest
		if !h.decode(w, r, &req) {
			return
		}
		text, found := h.ReadDocument(req.URI)
		h.writeJSON(w, readDocumentAPIResponse{Text: text, Found: found})
	})

	mux.HandleFunc("/api/store_value", func(w http.ResponseWriter, r *http.Request) {
		var req storeValueAPIRequest
		if !h.decode(w, r, &req) {
			return
		}
		if req.Key == "" {
			http.Error(w, "key is required", http.StatusBadRequest)
			return
		}
		h.StoreValue(req.Key, req.Value, req.Description)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/read_value", func(w http.ResponseWriter, r *http.Request) {
		var req readValueAPIRequest
		if !h.decode(w, r, &req) {
			return
		}
		value, found := h.ReadValue(req.Key)
		h.writeJSON(w, readValueAPIResponse{Value: value, Found: found})
	})

	mux.HandleFunc("/api/close_app", func(w http.ResponseWriter, r *http.Request) {
		var req closeAppAPIRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.CloseApp(req.AppID)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/apps/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/apps/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		content, found := h.AppContent(id)
		if !found {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, content)
	})

	return mux
}

func (h *Host) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
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

func (h *Host) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("failed to write response", zap.Error(err))
	}
}
