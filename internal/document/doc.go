package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ID identifies one replicated document.
type ID string

// ParseID validates a document identifier received over the wire.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid document id %q: %w", s, err)
	}
	return ID(u.String()), nil
}

func (id ID) String() string { return string(id) }

// Doc is a handle to the replicated document. Transactions are synchronous
// and never block on the network; replication happens after commit via the
// broadcast hook installed by the runtime.
type Doc struct {
	id   ID
	peer string

	mu    sync.Mutex
	st    *state
	clock uint64

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	// broadcast ships the post-commit snapshot to connected peers. Nil
	// until the replication runtime attaches.
	broadcast func(snapshot []byte)
}

// New creates an empty document owned by peer.
func New(peer string) *Doc {
	return &Doc{
		id:   ID(uuid.NewString()),
		peer: peer,
		st:   newState(),
		subs: map[int]chan struct{}{},
	}
}

// FromSnapshot builds a document handle from a wire snapshot, used when the
// render process first receives the document from its peer.
func FromSnapshot(id ID, peer string, snapshot []byte) (*Doc, error) {
	st := newState()
	if err := json.Unmarshal(snapshot, st); err != nil {
		return nil, fmt.Errorf("decode document snapshot: %w", err)
	}
	return &Doc{
		id:    id,
		peer:  peer,
		st:    st,
		clock: st.maxClock(),
		subs:  map[int]chan struct{}{},
	}, nil
}

// ID returns the document identifier.
func (d *Doc) ID() ID { return d.id }

// SetBroadcast installs the replication hook. Called once by the runtime
// before the document is shared.
func (d *Doc) SetBroadcast(fn func(snapshot []byte)) {
	d.mu.Lock()
	d.broadcast = fn
	d.mu.Unlock()
}

// Watch registers a change subscriber. The channel receives a token after
// every commit, local or merged; tokens coalesce, so a receiver sees at
// least one wakeup after the last change, not one per change. The returned
// cancel func releases the subscription.
func (d *Doc) Watch() (<-chan struct{}, func()) {
	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan struct{}, 1)
	d.subs[id] = ch
	d.subMu.Unlock()

	cancel := func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
	return ch, cancel
}

func (d *Doc) notify() {
	d.subMu.Lock()
	for _, ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	d.subMu.Unlock()
}

// View runs fn against a read-only snapshot of the document.
func (d *Doc) View(fn func(r *Reader)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&Reader{st: d.st})
}

// Change runs fn as one read-compute-commit transaction. All mutations fn
// makes are stamped with a single Lamport tick and become visible to the
// peer together. Watchers on both sides wake after the commit.
func (d *Doc) Change(fn func(tx *Tx)) {
	d.mu.Lock()
	tx := &Tx{
		Reader: Reader{st: d.st},
		doc:    d,
		stamp:  Stamp{Clock: d.clock + 1, Peer: d.peer},
	}
	fn(tx)

	var snapshot []byte
	dirty := tx.dirty
	if dirty {
		d.clock++
		snapshot, _ = json.Marshal(d.st)
	}
	broadcast := d.broadcast
	d.mu.Unlock()

	if dirty {
		d.notify()
		if broadcast != nil {
			broadcast(snapshot)
		}
	}
}

// Snapshot serializes the full document for the wire.
func (d *Doc) Snapshot() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, _ := json.Marshal(d.st)
	return b
}

// ApplyRemote merges a peer snapshot into the document. Watchers wake only
// if the merge changed anything, so echoes of our own commits are silent.
func (d *Doc) ApplyRemote(snapshot []byte) error {
	remote := newState()
	if err := json.Unmarshal(snapshot, remote); err != nil {
		return fmt.Errorf("decode remote snapshot: %w", err)
	}

	d.mu.Lock()
	changed := d.st.merge(remote)
	if rc := remote.maxClock(); rc > d.clock {
		d.clock = rc
	}
	d.mu.Unlock()

	if changed {
		d.notify()
	}
	return nil
}

// Reader exposes read access to the document state. Valid only inside the
// View or Change callback that produced it.
type Reader struct {
	st *state
}

// ShouldExit reports the shutdown flag.
func (r *Reader) ShouldExit() bool { return r.st.ShouldExit }

// ActiveModel returns the current model hint, if any.
func (r *Reader) ActiveModel() (string, bool) {
	return r.st.ActiveModel.Value, r.st.ActiveModel.Present
}

// TextDocument looks up an open editor buffer by uri.
func (r *Reader) TextDocument(uri string) (string, bool) {
	c, ok := r.st.TextDocuments[uri]
	if !ok || c.Deleted {
		return "", false
	}
	return c.Value.Text, true
}

// Webview looks up a rendered mini-app by id.
func (r *Reader) Webview(id string) (string, bool) {
	c, ok := r.st.Webviews[id]
	if !ok || c.Deleted {
		return "", false
	}
	return c.Value.Text, true
}

// RunningApps returns the content of every rendered mini-app, ordered by id.
func (r *Reader) RunningApps() []string {
	docs := orderedValues(r.st.Webviews)
	apps := make([]string, 0, len(docs))
	for _, dc := range docs {
		apps = append(apps, dc.Text)
	}
	return apps
}

// Docs returns the engine-visible projection of open editor documents. The
// active document is appended to the open list when it is not already there.
func (r *Reader) Docs() DocsInfo {
	info := DocsInfo{OpenDocuments: liveKeys(r.st.TextDocuments)}
	if r.st.ActiveDoc.Present {
		info.ActiveDocument = r.st.ActiveDoc.Value
		found := false
		for _, uri := range info.OpenDocuments {
			if uri == info.ActiveDocument {
				found = true
				break
			}
		}
		if !found {
			info.OpenDocuments = append(info.OpenDocuments, info.ActiveDocument)
		}
	}
	return info
}

// StoredValue reads a scratchpad value by key.
func (r *Reader) StoredValue(key string) (string, bool) {
	c, ok := r.st.StoredValues[key]
	if !ok || c.Deleted {
		return "", false
	}
	return c.Value.Value, true
}

// StoredValueInfos returns keys and descriptions only, sorted by key.
// Values are deliberately excluded; the engine never sees them.
func (r *Reader) StoredValueInfos() []StoredValueInfo {
	keys := liveKeys(r.st.StoredValues)
	infos := make([]StoredValueInfo, 0, len(keys))
	for _, k := range keys {
		infos = append(infos, StoredValueInfo{Key: k, Description: r.st.StoredValues[k].Value.Description})
	}
	return infos
}

// History returns the transcript in replication order.
func (r *Reader) History() []ConversationFragment {
	return orderedValues(r.st.History)
}

// PeekRequest returns the head of the request queue without consuming it.
func (r *Reader) PeekRequest() (AgentRequest, bool) {
	_, req, ok := queueHead(r.st.Requests, r.st.RequestAck)
	return req, ok
}

// PeekResponse returns the head of the response queue without consuming it.
func (r *Reader) PeekResponse() (AgentResponse, bool) {
	_, resp, ok := queueHead(r.st.Responses, r.st.ResponseAck)
	return resp, ok
}

// Tx extends Reader with stamped mutations. All writes in one Tx share a
// stamp and commit together.
type Tx struct {
	Reader
	doc     *Doc
	stamp   Stamp
	dirty   bool
	history int // fragments appended in this tx, keeps their keys unique
}

func (tx *Tx) touch() { tx.dirty = true }

// SetShouldExit raises the shutdown flag. It is set-once; clearing is not
// supported.
func (tx *Tx) SetShouldExit() {
	if !tx.st.ShouldExit {
		tx.st.ShouldExit = true
		tx.touch()
	}
}

// SetActiveModel records the last model hint supplied by a chat call.
func (tx *Tx) SetActiveModel(model string) {
	tx.st.ActiveModel = scalar[string]{Stamp: tx.stamp, Present: true, Value: model}
	tx.touch()
}

// PutTextDocument mirrors an open or changed editor buffer.
func (tx *Tx) PutTextDocument(uri, text string) {
	tx.st.TextDocuments[uri] = cell[DocumentContent]{Stamp: tx.stamp, Value: DocumentContent{Text: text}}
	tx.touch()
}

// RemoveTextDocument drops a closed editor buffer.
func (tx *Tx) RemoveTextDocument(uri string) {
	tx.st.TextDocuments[uri] = cell[DocumentContent]{Stamp: tx.stamp, Deleted: true}
	tx.touch()
}

// SetActiveDocument records which buffer the editor considers active.
func (tx *Tx) SetActiveDocument(uri string) {
	tx.st.ActiveDoc = scalar[string]{Stamp: tx.stamp, Present: true, Value: uri}
	tx.touch()
}

// PutWebview registers a rendered mini-app surface.
func (tx *Tx) PutWebview(id, content string) {
	tx.st.Webviews[id] = cell[DocumentContent]{Stamp: tx.stamp, Value: DocumentContent{Text: content}}
	tx.touch()
}

// RemoveWebview drops a closed mini-app surface.
func (tx *Tx) RemoveWebview(id string) {
	tx.st.Webviews[id] = cell[DocumentContent]{Stamp: tx.stamp, Deleted: true}
	tx.touch()
}

// PutStoredValue writes a scratchpad entry.
func (tx *Tx) PutStoredValue(key string, v StoredValue) {
	tx.st.StoredValues[key] = cell[StoredValue]{Stamp: tx.stamp, Value: v}
	tx.touch()
}

// AppendFragment appends one transcript entry.
func (tx *Tx) AppendFragment(f ConversationFragment) {
	key := historyKey(tx.stamp.Clock, tx.stamp.Peer, tx.history)
	tx.history++
	tx.st.History[key] = cell[ConversationFragment]{Stamp: tx.stamp, Value: f}
	tx.touch()
}

// PushRequest appends to the request queue. Render-side only.
func (tx *Tx) PushRequest(req AgentRequest) {
	seq := tx.st.RequestNext.Value
	tx.st.Requests[seqKey(seq)] = cell[AgentRequest]{Stamp: tx.stamp, Value: req}
	tx.st.RequestNext.Value = seq + 1
	tx.touch()
}

// PopRequest consumes the head of the request queue. Control-side only.
// Consumption advances the ack watermark rather than deleting the producer
// cell, so a request can never be taken twice even if notifications repeat.
func (tx *Tx) PopRequest() (AgentRequest, bool) {
	key, req, ok := queueHead(tx.st.Requests, tx.st.RequestAck)
	if !ok {
		return AgentRequest{}, false
	}
	var seq uint64
	fmt.Sscanf(key, "%d", &seq)
	tx.st.RequestAck.Value = seq + 1
	tx.touch()
	return req, true
}

// PushResponse appends to the response queue. Control-side only.
func (tx *Tx) PushResponse(resp AgentResponse) {
	seq := tx.st.ResponseNext.Value
	tx.st.Responses[seqKey(seq)] = cell[AgentResponse]{Stamp: tx.stamp, Value: resp}
	tx.st.ResponseNext.Value = seq + 1
	tx.touch()
}

// PopResponse consumes the head of the response queue. Render-side only.
func (tx *Tx) PopResponse() (AgentResponse, bool) {
	key, resp, ok := queueHead(tx.st.Responses, tx.st.ResponseAck)
	if !ok {
		return AgentResponse{}, false
	}
	var seq uint64
	fmt.Sscanf(key, "%d", &seq)
	tx.st.ResponseAck.Value = seq + 1
	tx.touch()
	return resp, true
}

// sortedHistoryKeys is used by tests to assert replication order.
func (d *Doc) sortedHistoryKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.st.History))
	for k := range d.st.History {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
