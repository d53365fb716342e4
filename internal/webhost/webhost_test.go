package webhost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"appbridge/internal/document"
	"appbridge/internal/replica"
)

// newTestHost wires a Host around an in-process document, skipping peer
// discovery. The returned cancel stops the router loop.
func newTestHost(t *testing.T) (*Host, context.CancelFunc) {
	t.Helper()
	log := zaptest.NewLogger(t)
	_, cancel := context.WithCancel(context.Background())
	doc := document.New("render")
	h := &Host{
		log:       log,
		repo:      replica.NewRepo("render", log),
		doc:       doc,
		requests:  doc.RequestProducer(),
		responses: doc.ResponseConsumer(),
		pending:   make(map[string][]chan string),
		cancel:    cancel,
	}
	t.Cleanup(cancel)
	return h, cancel
}

func TestInferenceRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, cancel := newTestHost(t)
	defer cancel()

	routerDone := make(chan struct{})
	ctx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	go func() {
		defer close(routerDone)
		h.routeResponses(ctx)
	}()

	// Stand-in for the control process: answer each request in order.
	controlDone := make(chan struct{})
	controlCtx, stopControl := context.WithCancel(context.Background())
	defer stopControl()
	go func() {
		defer close(controlDone)
		watch, cancelWatch := h.doc.Watch()
		defer cancelWatch()
		for {
			select {
			case <-controlCtx.Done():
				return
			case <-watch:
			}
			h.doc.Change(func(tx *document.Tx) {
				if req, ok := tx.PopRequest(); ok {
					tx.PushResponse(document.AgentResponse{
						Kind:    document.ResponseInference,
						ID:      req.AppID,
						Content: "reply to " + req.Content,
					})
				}
			})
		}
	}()

	callCtx, cancelCall := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCall()
	reply, err := h.AppInferenceRequest(callCtx, "app-1", "question")
	require.NoError(t, err)
	assert.Equal(t, "reply to question", reply)

	stopControl()
	<-controlDone
	stopRouter()
	<-routerDone
}

func TestShouldExitStopsRouterAndFailsPending(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.routeResponses(context.Background())
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.AppInferenceRequest(context.Background(), "app-1", "hello")
		errCh <- err
	}()

	// Let the request register before flipping the flag.
	require.Eventually(t, func() bool {
		h.pendingMu.Lock()
		defer h.pendingMu.Unlock()
		return len(h.pending["app-1"]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.doc.Change(func(tx *document.Tx) { tx.SetShouldExit() })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop on should_exit")
	}
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call did not unblock")
	}
}

func TestInferenceRepliesDeliverInRequestOrder(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	first := make(chan string, 1)
	second := make(chan string, 1)
	h.pendingMu.Lock()
	h.pending["app-1"] = []chan string{first, second}
	h.pendingMu.Unlock()

	h.deliverInference("app-1", "one")
	h.deliverInference("app-1", "two")

	assert.Equal(t, "one", <-first)
	assert.Equal(t, "two", <-second)
}

func TestReadDocumentMissesWebviewIDs(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	h.doc.Change(func(tx *document.Tx) {
		tx.PutTextDocument("file:///notes.md", "hello")
		tx.PutWebview("app-1", "<html></html>")
	})

	text, found := h.ReadDocument("file:///notes.md")
	require.True(t, found)
	assert.Equal(t, "hello", text)

	_, found = h.ReadDocument("app-1")
	assert.False(t, found)
}

func TestCloseAppRecordsClosure(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	h.doc.Change(func(tx *document.Tx) { tx.PutWebview("app-1", "<html></html>") })
	h.CloseApp("app-1")

	h.doc.View(func(r *document.Reader) {
		_, found := r.Webview("app-1")
		assert.False(t, found)

		history := r.History()
		require.Len(t, history, 1)
		assert.Equal(t, document.RoleAssistant, history[0].Role)
		assert.Equal(t, "App closed: app-1", history[0].Content)
	})
}

func TestStoredValueRoundTrip(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	h.StoreValue("score", "42", "current game score")

	value, found := h.ReadValue("score")
	require.True(t, found)
	assert.Equal(t, "42", value)

	_, found = h.ReadValue("missing")
	assert.False(t, found)
}

func TestAppAPIEndpoints(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	h.doc.Change(func(tx *document.Tx) {
		tx.PutTextDocument("file:///notes.md", "document body")
		tx.PutWebview("app-1", "<html><title>Game</title></html>")
	})

	srv := httptest.NewServer(h.appHandler())
	defer srv.Close()

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := post("/api/read_document", `{"uri":"file:///notes.md"}`)
	var docResp readDocumentAPIResponse
	decodeBody(t, resp, &docResp)
	assert.True(t, docResp.Found)
	assert.Equal(t, "document body", docResp.Text)

	resp = post("/api/store_value", `{"key":"score","value":"42","description":"score"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = post("/api/read_value", `{"key":"score"}`)
	var valResp readValueAPIResponse
	decodeBody(t, resp, &valResp)
	assert.True(t, valResp.Found)
	assert.Equal(t, "42", valResp.Value)

	resp = post("/api/store_value", `{"value":"no key"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	appResp, err := http.Get(srv.URL + "/apps/app-1")
	require.NoError(t, err)
	body := readBody(t, appResp)
	assert.Contains(t, body, "Game")
	assert.Contains(t, appResp.Header.Get("Content-Type"), "text/html")

	missing, err := http.Get(srv.URL + "/apps/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	get, err := http.Get(srv.URL + "/api/read_value")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)

	resp = post("/api/close_app", `{"app_id":"app-1"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, found := h.AppContent("app-1")
	assert.False(t, found)
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestPageTitle(t *testing.T) {
	assert.Equal(t, "Hello", pageTitle("<html><head><title>Hello</title></head></html>"))
	assert.Equal(t, "Trim", pageTitle("<title>  Trim \n</title>"))
	assert.Equal(t, "untitled", pageTitle("<html><body>no title</body></html>"))
	assert.Equal(t, "untitled", pageTitle(""))
}

func TestChatResponseHeadIsDrainedNotWedged(t *testing.T) {
	h, cancel := newTestHost(t)
	defer cancel()

	ctx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.routeResponses(ctx)
	}()

	ch := make(chan string, 1)
	h.pendingMu.Lock()
	h.pending["app-1"] = []chan string{ch}
	h.pendingMu.Unlock()

	// A stray chat head must not block the inference reply behind it.
	h.doc.Change(func(tx *document.Tx) {
		tx.PushResponse(document.AgentResponse{Kind: document.ResponseChat, Content: "stray"})
		tx.PushResponse(document.AgentResponse{Kind: document.ResponseInference, ID: "app-1", Content: "after"})
	})

	select {
	case got := <-ch:
		assert.Equal(t, "after", got)
	case <-time.After(5 * time.Second):
		t.Fatal("inference reply stuck behind chat response")
	}

	h.doc.View(func(r *document.Reader) {
		_, has := r.PeekResponse()
		assert.False(t, has)
	})

	stopRouter()
	<-done
}
