package replica

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	// Peers are loopback processes, not browsers.
	CheckOrigin: func(*http.Request) bool { return true },
}

// SyncHandler upgrades an inbound peer connection and services it until it
// closes. Mounted at /sync on the process's fixed peer port.
func (r *Repo) SyncHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.log.Warn("inbound peer upgrade failed", zap.Error(err))
			return
		}
		r.runLink(ws, Incoming)
	})
}

// Listen serves the peer sync endpoint on the fixed port until ctx ends.
// A bind failure is fatal to this listener only; the caller decides what
// that means for the process.
func (r *Repo) Listen(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/sync", r.SyncHandler())

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind peer port %s: %w", addr, err)
	}
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	r.log.Info("listening for peer", zap.String("addr", addr))
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve peer port %s: %w", addr, err)
	}
	return nil
}

// Dial keeps an outbound link to the named remote peer alive until ctx
// ends. While a link to that peer exists (in either direction) the dialer
// idles; when it drops, dialing resumes at the fixed retry interval.
func (r *Repo) Dial(ctx context.Context, remote string, port int, retry time.Duration) {
	url := fmt.Sprintf("ws://127.0.0.1:%d/sync", port)
	log := r.log.With(zap.String("remote", remote), zap.String("url", url))

	for ctx.Err() == nil {
		if r.Connected(remote) {
			if sleepCtx(ctx, retry) != nil {
				return
			}
			continue
		}
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Debug("peer dial failed, will retry", zap.Error(err))
			if sleepCtx(ctx, retry) != nil {
				return
			}
			continue
		}
		log.Info("outbound peer link established")
		r.runLink(ws, Outgoing)
		log.Info("outbound peer link ended")
	}
}

// runLink performs the hello handshake and, if the link survives dedup,
// services it until it closes.
func (r *Repo) runLink(ws *websocket.Conn, direction Direction) {
	if err := ws.WriteJSON(frame{Type: frameHello, Peer: r.peer}); err != nil {
		r.log.Warn("peer handshake write failed", zap.Error(err))
		_ = ws.Close()
		return
	}
	var hello frame
	if err := ws.ReadJSON(&hello); err != nil || hello.Type != frameHello || hello.Peer == "" {
		r.log.Warn("peer handshake read failed", zap.Error(err))
		_ = ws.Close()
		return
	}

	c := newPeerConn(ws, hello.Peer, direction, r, r.log)
	if !r.adopt(c) {
		return
	}
	c.run()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
