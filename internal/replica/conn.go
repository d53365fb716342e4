package replica

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Direction tags how a peer link was established so the runtime can pick a
// winner when both sides dial each other.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// peerConn is one live link to the other process.
type peerConn struct {
	ws        *websocket.Conn
	remote    string
	direction Direction
	repo      *Repo
	log       *zap.Logger

	// out is drained by a dedicated writer goroutine; gorilla connections
	// allow a single concurrent writer. State frames are cumulative, so
	// dropping one under backpressure loses nothing the next one does not
	// carry.
	out chan frame

	closeOnce sync.Once
	done      chan struct{}
}

func newPeerConn(ws *websocket.Conn, remote string, direction Direction, repo *Repo, log *zap.Logger) *peerConn {
	return &peerConn{
		ws:        ws,
		remote:    remote,
		direction: direction,
		repo:      repo,
		log:       log.With(zap.String("remote", remote), zap.String("direction", string(direction))),
		out:       make(chan frame, 64),
		done:      make(chan struct{}),
	}
}

// send queues a frame without blocking the caller.
func (c *peerConn) send(f frame) {
	select {
	case c.out <- f:
	case <-c.done:
	default:
		c.log.Warn("peer link backlogged, dropping frame", zap.String("type", f.Type))
	}
}

func (c *peerConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// run services the link until either side closes it. The read loop owns the
// calling goroutine; the write loop runs alongside.
func (c *peerConn) run() {
	go c.writeLoop()
	defer c.close()
	defer c.repo.dropConn(c)

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Info("peer link closed", zap.Error(err))
			}
			return
		}
		c.repo.handleFrame(c, f)
	}
}

func (c *peerConn) writeLoop() {
	for {
		select {
		case f := <-c.out:
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.Info("peer link write failed", zap.Error(err))
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
