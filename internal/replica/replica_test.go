package replica

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"appbridge/internal/document"
)

// startControl brings up a control-side repo with one document and a sync
// listener, returning the render-side dial port.
func startControl(t *testing.T) (*Repo, *document.Doc, int) {
	t.Helper()
	repo := NewRepo("control", zaptest.NewLogger(t))
	doc := repo.NewDoc()

	srv := httptest.NewServer(repo.SyncHandler())
	t.Cleanup(srv.Close)
	t.Cleanup(repo.Stop)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return repo, doc, port
}

func startRender(t *testing.T, controlPort int) *Repo {
	t.Helper()
	repo := NewRepo("render", zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(repo.Stop)
	go repo.Dial(ctx, "control", controlPort, 20*time.Millisecond)
	return repo
}

func TestRequestDocDeliversSnapshot(t *testing.T) {
	_, controlDoc, port := startControl(t)
	controlDoc.Change(func(tx *document.Tx) {
		tx.PutTextDocument("file:///seed.go", "package seed")
	})

	render := startRender(t, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	renderDoc, err := render.RequestDoc(ctx, controlDoc.ID())
	require.NoError(t, err)
	require.Equal(t, controlDoc.ID(), renderDoc.ID())

	renderDoc.View(func(r *document.Reader) {
		text, ok := r.TextDocument("file:///seed.go")
		require.True(t, ok)
		assert.Equal(t, "package seed", text)
	})
}

func TestCommitsReplicateBothWays(t *testing.T) {
	_, controlDoc, port := startControl(t)
	render := startRender(t, port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	renderDoc, err := render.RequestDoc(ctx, controlDoc.ID())
	require.NoError(t, err)

	controlDoc.Change(func(tx *document.Tx) { tx.SetActiveModel("fast-model") })
	require.Eventually(t, func() bool {
		var model string
		renderDoc.View(func(r *document.Reader) { model, _ = r.ActiveModel() })
		return model == "fast-model"
	}, 5*time.Second, 10*time.Millisecond, "control commit never reached render")

	renderDoc.RequestProducer().Push(document.AgentRequest{
		Kind:    document.RequestInference,
		Content: "What time is it?",
		AppID:   "app-1",
	})
	require.Eventually(t, func() bool {
		var ok bool
		controlDoc.View(func(r *document.Reader) { _, ok = r.PeekRequest() })
		return ok
	}, 5*time.Second, 10*time.Millisecond, "render request never reached control")
}

func TestRequestDocTimesOutWithoutPeer(t *testing.T) {
	repo := NewRepo("render", zaptest.NewLogger(t))
	defer repo.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := repo.RequestDoc(ctx, document.ID("1b671a64-40d5-491e-99b0-da01ff1f3341"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDocIDHandlerAndPoller(t *testing.T) {
	doc := document.New("control")
	srv := httptest.NewServer(DocIDHandler(doc.ID()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := PollDocID(ctx, srv.URL, 20*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, doc.ID(), id)
}

func TestPollDocIDKeepsPollingThroughGarbage(t *testing.T) {
	doc := document.New("control")
	calls := 0
	srv := httptest.NewServer(responderSequence(&calls, []string{
		"",              // endpoint up, no id yet
		"not an id",     // malformed
		doc.ID().String() + "\n", // trailing whitespace is tolerated
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := PollDocID(ctx, srv.URL, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, doc.ID(), id)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestPollDocIDHonorsContext(t *testing.T) {
	// Nothing listens on this port; the poller must give up only when the
	// context does.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := PollDocID(ctx, "http://127.0.0.1:1/doc_id", 10*time.Millisecond, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "polling for document id"))
}

// responderSequence serves each body once in order, repeating the last.
func responderSequence(calls *int, bodies []string) http.Handler {
	var mu sync.Mutex
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		i := *calls
		*calls++
		mu.Unlock()
		if i >= len(bodies) {
			i = len(bodies) - 1
		}
		fmt.Fprint(w, bodies[i])
	})
}
