package replica

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"appbridge/internal/document"
)

// Repo owns this process's document replicas and peer links. One Repo runs
// per process; both documents and connections are registered with it and it
// routes snapshots between the two.
type Repo struct {
	peer string
	log  *zap.Logger

	mu      sync.Mutex
	docs    map[document.ID]*document.Doc
	conns   map[string]*peerConn
	waiters map[document.ID][]chan *document.Doc
	stopped bool
}

// NewRepo creates the runtime for the named peer ("control" or "render").
func NewRepo(peer string, log *zap.Logger) *Repo {
	return &Repo{
		peer:    peer,
		log:     log.Named("replica").With(zap.String("peer", peer)),
		docs:    map[document.ID]*document.Doc{},
		conns:   map[string]*peerConn{},
		waiters: map[document.ID][]chan *document.Doc{},
	}
}

// Peer returns the local peer name.
func (r *Repo) Peer() string { return r.peer }

// NewDoc creates a fresh document owned by this process and registers it
// for replication.
func (r *Repo) NewDoc() *document.Doc {
	doc := document.New(r.peer)
	r.register(doc)
	return doc
}

func (r *Repo) register(doc *document.Doc) {
	id := doc.ID()
	doc.SetBroadcast(func(snapshot []byte) { r.broadcastState(id, snapshot) })
	r.mu.Lock()
	r.docs[id] = doc
	r.mu.Unlock()
}

// RequestDoc asks connected peers for the document and blocks until a
// snapshot arrives or ctx ends.
func (r *Repo) RequestDoc(ctx context.Context, id document.ID) (*document.Doc, error) {
	r.mu.Lock()
	if doc, ok := r.docs[id]; ok {
		r.mu.Unlock()
		return doc, nil
	}
	ch := make(chan *document.Doc, 1)
	r.waiters[id] = append(r.waiters[id], ch)
	conns := r.liveConns()
	r.mu.Unlock()

	for _, c := range conns {
		c.send(frame{Type: frameRequest, Peer: r.peer, DocID: id.String()})
	}

	select {
	case doc := <-ch:
		return doc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for document %s: %w", id, ctx.Err())
	}
}

// Connected reports whether a live link to the named peer exists. The
// dialer uses it to idle while the preferred link is up.
func (r *Repo) Connected(remote string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[remote]
	return ok
}

// Stop tears down every peer link. Documents stay readable; they just stop
// replicating.
func (r *Repo) Stop() {
	r.mu.Lock()
	r.stopped = true
	conns := r.liveConns()
	r.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (r *Repo) liveConns() []*peerConn {
	out := make([]*peerConn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// preferred reports which direction wins when both sides hold a link to
// each other. The rule is symmetric: both peers keep the link dialed by
// the lexically smaller peer name, so dedup never closes both.
func (r *Repo) preferred(remote string, d Direction) bool {
	if r.peer < remote {
		return d == Outgoing
	}
	return d == Incoming
}

// adopt registers a freshly handshaken link, resolving duplicate links to
// the same peer by direction preference. Returns false if the new link
// lost and was closed.
func (r *Repo) adopt(c *peerConn) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		c.close()
		return false
	}
	old, exists := r.conns[c.remote]
	if exists && old.direction != c.direction && !r.preferred(c.remote, c.direction) {
		r.mu.Unlock()
		r.log.Debug("dropping duplicate peer link", zap.String("remote", c.remote), zap.String("direction", string(c.direction)))
		c.close()
		return false
	}
	r.conns[c.remote] = c
	wanted := make([]document.ID, 0, len(r.waiters))
	for id := range r.waiters {
		wanted = append(wanted, id)
	}
	docs := make(map[document.ID][]byte, len(r.docs))
	for id, doc := range r.docs {
		docs[id] = doc.Snapshot()
	}
	r.mu.Unlock()

	if exists && old != c {
		old.close()
	}

	// Re-sync on every (re)connect: offer what we have, ask for what we
	// are still waiting on.
	for id, snapshot := range docs {
		c.send(frame{Type: frameState, Peer: r.peer, DocID: id.String(), State: snapshot})
	}
	for _, id := range wanted {
		c.send(frame{Type: frameRequest, Peer: r.peer, DocID: id.String()})
	}
	return true
}

func (r *Repo) dropConn(c *peerConn) {
	r.mu.Lock()
	if r.conns[c.remote] == c {
		delete(r.conns, c.remote)
	}
	r.mu.Unlock()
}

func (r *Repo) broadcastState(id document.ID, snapshot []byte) {
	r.mu.Lock()
	conns := r.liveConns()
	r.mu.Unlock()
	for _, c := range conns {
		c.send(frame{Type: frameState, Peer: r.peer, DocID: id.String(), State: snapshot})
	}
}

func (r *Repo) handleFrame(c *peerConn, f frame) {
	switch f.Type {
	case frameRequest:
		id, err := document.ParseID(f.DocID)
		if err != nil {
			c.log.Warn("peer requested malformed document id", zap.Error(err))
			return
		}
		r.mu.Lock()
		doc, ok := r.docs[id]
		r.mu.Unlock()
		if !ok {
			c.log.Debug("peer requested unknown document", zap.String("doc_id", f.DocID))
			return
		}
		c.send(frame{Type: frameState, Peer: r.peer, DocID: f.DocID, State: doc.Snapshot()})

	case frameState:
		id, err := document.ParseID(f.DocID)
		if err != nil {
			c.log.Warn("peer sent malformed document id", zap.Error(err))
			return
		}
		r.mu.Lock()
		doc, known := r.docs[id]
		waiters := r.waiters[id]
		delete(r.waiters, id)
		r.mu.Unlock()

		if known {
			if err := doc.ApplyRemote(f.State); err != nil {
				c.log.Warn("failed to merge peer snapshot", zap.Error(err))
			}
			return
		}
		if len(waiters) == 0 {
			// Unsolicited doc we never asked for; a two-peer topology has
			// exactly one shared document, so ignore it.
			c.log.Debug("ignoring unsolicited document", zap.String("doc_id", f.DocID))
			return
		}
		doc, err = document.FromSnapshot(id, r.peer, f.State)
		if err != nil {
			c.log.Warn("failed to hydrate requested document", zap.Error(err))
			return
		}
		r.register(doc)
		for _, ch := range waiters {
			ch <- doc
		}

	case frameHello:
		// Handled during the handshake; ignore late ones.

	default:
		c.log.Warn("unknown frame type from peer", zap.String("type", f.Type))
	}
}
