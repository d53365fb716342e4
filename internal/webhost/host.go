// Package webhost is the render-process runtime: it discovers the shared
// document, routes mailbox responses to mini-apps, and serves the HTTP API
// the generated apps call.
package webhost

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
	"appbridge/internal/replica"
)

// Host runs the render process. It owns no state of its own beyond the
// pending inference responders; everything else lives in the document.
type Host struct {
	log  *zap.Logger
	cfg  config.Config
	repo *replica.Repo
	doc  *document.Doc

	requests  document.RequestProducer
	responses document.ResponseConsumer

	pendingMu sync.Mutex
	pending   map[string][]chan string

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Start discovers the document via the bootstrap endpoint, joins the peer
// mesh, and brings up the response router and the app HTTP server. It
// blocks until the document is obtained.
func Start(ctx context.Context, cfg config.Config, log *zap.Logger) (*Host, error) {
	log = log.Named("webhost")
	repo := replica.NewRepo("render", log)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, runCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		if err := repo.Listen(runCtx, cfg.Ports.Render); err != nil {
			log.Error("peer listener failed", zap.Error(err))
		}
		return nil
	})
	group.Go(func() error {
		repo.Dial(runCtx, "control", cfg.Ports.Control, cfg.GetDialRetry())
		return nil
	})

	// The control process may not be up yet; keep polling until it
	// publishes the document id, bounded only by the caller's context.
	id, err := replica.PollDocID(ctx, cfg.BootstrapURL(), cfg.GetPollInterval(), log)
	if err != nil {
		cancel()
		repo.Stop()
		return nil, fmt.Errorf("discover document id: %w", err)
	}
	doc, err := repo.RequestDoc(ctx, id)
	if err != nil {
		cancel()
		repo.Stop()
		return nil, fmt.Errorf("fetch document %s: %w", id, err)
	}

	h := &Host{
		log:       log,
		cfg:       cfg,
		repo:      repo,
		doc:       doc,
		requests:  doc.RequestProducer(),
		responses: doc.ResponseConsumer(),
		pending:   make(map[string][]chan string),
		group:     group,
		cancel:    cancel,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Webhost.Port))
	if err != nil {
		cancel()
		repo.Stop()
		return nil, fmt.Errorf("bind app port %d: %w", cfg.Webhost.Port, err)
	}
	appSrv := &http.Server{Handler: h.appHandler()}
	group.Go(func() error {
		<-runCtx.Done()
		shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		_ = appSrv.Shutdown(shutdownCtx)
		return nil
	})
	group.Go(func() error {
		if err := appSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("app server failed", zap.Error(err))
		}
		return nil
	})

	group.Go(func() error {
		h.routeResponses(runCtx)
		return nil
	})

	log.Info("render process started",
		zap.String("doc_id", doc.ID().String()),
		zap.Int("app_port", cfg.Webhost.Port))
	return h, nil
}

// Doc exposes the shared document handle for tests.
func (h *Host) Doc() *document.Doc { return h.doc }

// Wait blocks until the host shuts down, either because should_exit was
// raised or the context that started it was cancelled.
func (h *Host) Wait() {
	_ = h.group.Wait()
}

// Stop tears the host down without waiting for should_exit.
func (h *Host) Stop() {
	h.cancel()
	h.repo.Stop()
	h.failPending()
	_ = h.group.Wait()
}
