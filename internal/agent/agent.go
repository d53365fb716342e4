package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"appbridge/internal/config"
	"appbridge/internal/document"
	"appbridge/internal/engine"
	"appbridge/internal/replica"
)

// chatResult is the terminal outcome of a locally-dispatched chat turn.
type chatResult struct {
	message string
	ok      bool
}

// chatRequest travels the local dispatch channel from ChatRequest to the
// run loop. The loop sends exactly one chatResult on reply; if the loop
// exits first, runDone unblocks the caller instead.
type chatRequest struct {
	content string
	model   string
	reply   chan chatResult
}

// Agent is the control-process coordinator. It owns the document, the
// replication runtime, the engine client, and the background run loop, and
// exposes the workspace surface the editor protocol server calls.
type Agent struct {
	log      *zap.Logger
	cfg      config.Config
	repo     *replica.Repo
	doc      *document.Doc
	requests document.RequestConsumer
	client   engine.Client
	orch     *Orchestrator
	sink     Renderer

	chatCh  chan chatRequest
	runDone chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc

	childMu sync.Mutex
	child   *renderChild

	shutdownOnce sync.Once
}

// Start brings up the control-process infrastructure: creates the shared
// document, serves the bootstrap endpoint and the peer port, dials the
// render peer, optionally spawns the render child process, and starts the
// run loop.
func Start(ctx context.Context, cfg config.Config, client engine.Client, log *zap.Logger) (*Agent, error) {
	log = log.Named("agent")
	repo := replica.NewRepo("control", log)
	doc := repo.NewDoc()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, runCtx := errgroup.WithContext(runCtx)

	a := &Agent{
		log:      log,
		cfg:      cfg,
		repo:     repo,
		doc:      doc,
		requests: doc.RequestConsumer(),
		client:   client,
		sink:     &docSink{responses: doc.ResponseProducer()},
		chatCh:   make(chan chatRequest, 32),
		runDone:  make(chan struct{}),
		group:    group,
		cancel:   cancel,
	}
	a.orch = NewOrchestrator(doc, client, a.sink, cfg.Agent.MaxToolIterations, log)

	// Bootstrap server: document id for the render process plus the
	// workspace control surface.
	bootstrapLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Ports.Bootstrap))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bind bootstrap port %d: %w", cfg.Ports.Bootstrap, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/doc_id", replica.DocIDHandler(doc.ID()))
	mux.Handle("/control/", a.controlHandler())
	bootstrapSrv := &http.Server{Handler: mux}

	group.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		_ = bootstrapSrv.Shutdown(shutdownCtx)
		return nil
	})
	group.Go(func() error {
		if err := bootstrapSrv.Serve(bootstrapLn); err != nil && err != http.ErrServerClosed {
			log.Error("bootstrap server failed", zap.Error(err))
		}
		return nil
	})

	// Peer link: accept on our fixed port, keep dialing the render port.
	// A bind failure kills that listener task only.
	group.Go(func() error {
		if err := repo.Listen(runCtx, cfg.Ports.Control); err != nil {
			log.Error("peer listener failed", zap.Error(err))
		}
		return nil
	})
	group.Go(func() error {
		repo.Dial(runCtx, "render", cfg.Ports.Render, cfg.GetDialRetry())
		return nil
	})

	group.Go(func() error {
		a.run(runCtx)
		return nil
	})

	if cfg.Agent.SpawnRender {
		child, err := spawnRenderChild(log)
		if err != nil {
			log.Error("failed to spawn render process", zap.Error(err))
		} else {
			a.childMu.Lock()
			a.child = child
			a.childMu.Unlock()
		}
	}

	log.Info("control process started",
		zap.String("doc_id", doc.ID().String()),
		zap.Int("bootstrap_port", cfg.Ports.Bootstrap),
		zap.Int("peer_port", cfg.Ports.Control))
	return a, nil
}

// Doc exposes the shared document handle, mainly for tests and the render
// child when both run in-process.
func (a *Agent) Doc() *document.Doc { return a.doc }

// run is the control-process main loop: one select racing the local chat
// channel against the document watcher.
func (a *Agent) run(ctx context.Context) {
	defer close(a.runDone)
	watch, cancelWatch := a.doc.Watch()
	defer cancelWatch()

	for {
		select {
		case <-ctx.Done():
			return

		case <-watch:
			shouldExit, req, model := a.takeWork()
			if shouldExit {
				a.client.NotifyShutdown(ctx)
				a.repo.Stop()
				a.cancel()
				return
			}
			if req != nil {
				a.handleAppInference(ctx, *req, model)
			}

		case creq := <-a.chatCh:
			msg, ok := a.orch.RunTurn(ctx, creq.content, creq.model)
			creq.reply <- chatResult{message: msg, ok: ok}
		}
	}
}

// takeWork checks the exit flag and consumes at most one request through
// the consumer capability. Popping commits, which re-arms the watcher, so
// a backlog drains one entry per wakeup.
func (a *Agent) takeWork() (bool, *document.AgentRequest, string) {
	r, ok, exit := a.requests.Take()
	if exit {
		return true, nil, ""
	}
	if !ok {
		return false, nil, ""
	}
	var model string
	a.doc.View(func(rd *document.Reader) { model, _ = rd.ActiveModel() })
	return false, &r, model
}

func (a *Agent) handleAppInference(ctx context.Context, req document.AgentRequest, model string) {
	if req.Kind != document.RequestInference {
		a.log.Warn("unknown request kind in mailbox", zap.String("kind", string(req.Kind)))
		return
	}
	a.log.Debug("handling mini-app inference", zap.String("app_id", req.AppID))
	reply := engine.Infer(ctx, a.client, req.Content, model)
	a.sink.HandleInferenceResponse(req.AppID, reply)
}

// DidOpen mirrors an opened editor buffer into the document.
func (a *Agent) DidOpen(uri, text string) {
	a.doc.Change(func(tx *document.Tx) { tx.PutTextDocument(uri, text) })
}

// DidChange mirrors an edited editor buffer into the document.
func (a *Agent) DidChange(uri, text string) {
	a.doc.Change(func(tx *document.Tx) { tx.PutTextDocument(uri, text) })
}

// DidClose removes a closed editor buffer from the document.
func (a *Agent) DidClose(uri string) {
	a.doc.Change(func(tx *document.Tx) { tx.RemoveTextDocument(uri) })
}

// SetActiveDocument records which buffer the editor considers active.
func (a *Agent) SetActiveDocument(uri string) {
	a.doc.Change(func(tx *document.Tx) { tx.SetActiveDocument(uri) })
}

// ChatRequest dispatches one chat turn over the local channel and waits
// for its terminal outcome. The second return is false when the turn
// produced no message (a deliberate no-op or a pure app launch) or the
// run loop exited before answering.
func (a *Agent) ChatRequest(ctx context.Context, content, model string) (string, bool) {
	req := chatRequest{content: content, model: model, reply: make(chan chatResult, 1)}
	select {
	case a.chatCh <- req:
	case <-a.runDone:
		return "", false
	case <-ctx.Done():
		return "", false
	}
	select {
	case res := <-req.reply:
		return res.message, res.ok
	case <-a.runDone:
		// The loop may have answered and exited in the same instant.
		select {
		case res := <-req.reply:
			return res.message, res.ok
		default:
			return "", false
		}
	case <-ctx.Done():
		return "", false
	}
}

// Shutdown raises should_exit, joins the run loop and all background
// tasks, and reaps the render child. Safe to call more than once.
func (a *Agent) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		a.log.Info("shutting down")
		a.doc.Change(func(tx *document.Tx) { tx.SetShouldExit() })

		done := make(chan struct{})
		go func() {
			_ = a.group.Wait()
			close(done)
		}()

		// The run loop exits on its own once it observes should_exit;
		// cancel unblocks the listeners and dialer.
		a.cancel()
		select {
		case <-done:
		case <-ctx.Done():
			a.log.Warn("shutdown timed out waiting for background tasks")
		}

		a.childMu.Lock()
		child := a.child
		a.child = nil
		a.childMu.Unlock()
		if child != nil {
			child.stop(a.log)
		}
	})
}
