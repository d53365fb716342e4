package document

import (
	"fmt"
	"sort"
)

// Stamp orders concurrent writes. Clock is a Lamport counter advanced by
// every commit and every merge; Peer breaks ties deterministically.
type Stamp struct {
	Clock uint64 `json:"clock"`
	Peer  string `json:"peer"`
}

// Newer reports whether s wins against o under last-writer-wins.
func (s Stamp) Newer(o Stamp) bool {
	if s.Clock != o.Clock {
		return s.Clock > o.Clock
	}
	return s.Peer > o.Peer
}

// cell is one stamped value in a replicated map. Deleted cells are
// tombstones: they keep their stamp so a removal survives merging against
// an older insert.
type cell[T any] struct {
	Stamp   Stamp `json:"stamp"`
	Deleted bool  `json:"deleted,omitempty"`
	Value   T     `json:"value"`
}

// repMap is a replicated map merged per key by stamp.
type repMap[T any] map[string]cell[T]

// merge folds remote cells into m, returning whether anything changed.
func (m repMap[T]) merge(remote repMap[T]) bool {
	changed := false
	for k, rc := range remote {
		lc, ok := m[k]
		if !ok || rc.Stamp.Newer(lc.Stamp) {
			m[k] = rc
			changed = true
		}
	}
	return changed
}

func (m repMap[T]) maxClock() uint64 {
	var max uint64
	for _, c := range m {
		if c.Stamp.Clock > max {
			max = c.Stamp.Clock
		}
	}
	return max
}

// counter is a monotonic sequence owned by exactly one peer. Merge by
// maximum is equivalent to last-writer-wins because only the owner
// advances it.
type counter struct {
	Value uint64 `json:"value"`
}

func (c *counter) merge(remote counter) bool {
	if remote.Value > c.Value {
		c.Value = remote.Value
		return true
	}
	return false
}

// scalar is a single stamped optional value with one writer.
type scalar[T any] struct {
	Stamp   Stamp `json:"stamp"`
	Present bool  `json:"present"`
	Value   T     `json:"value"`
}

func (s *scalar[T]) merge(remote scalar[T]) bool {
	if remote.Stamp.Newer(s.Stamp) {
		*s = remote
		return true
	}
	return false
}

// state is the full replicated document. Every field has a single writing
// peer, except should_exit (set-once, merged by OR) and the queue entry
// maps, where the producer writes entries and the consumer only advances
// the ack watermark:
//
//	requests, request_next        render
//	request_ack                   control
//	responses, response_next      control
//	response_ack                  render
//	text_documents, active_doc    control
//	webviews                      control inserts, render removes
//	stored_values                 render
//	history                       both (per-key writers, see historyKey)
//	active_model                  control
//
// The webviews map is the one shared-writer map; inserts and removals
// target different keys in practice (an app is launched once by control
// and closed once by render), so per-key stamping suffices.
type state struct {
	Requests    repMap[AgentRequest] `json:"requests"`
	RequestNext counter              `json:"request_next"`
	RequestAck  counter              `json:"request_ack"`

	Responses    repMap[AgentResponse] `json:"responses"`
	ResponseNext counter               `json:"response_next"`
	ResponseAck  counter               `json:"response_ack"`

	TextDocuments repMap[DocumentContent] `json:"text_documents"`
	ActiveDoc     scalar[string]          `json:"active_document"`

	Webviews     repMap[DocumentContent]      `json:"webviews"`
	StoredValues repMap[StoredValue]          `json:"stored_values"`
	History      repMap[ConversationFragment] `json:"history"`

	ShouldExit  bool           `json:"should_exit"`
	ActiveModel scalar[string] `json:"active_model"`
}

func newState() *state {
	return &state{
		Requests:      repMap[AgentRequest]{},
		Responses:     repMap[AgentResponse]{},
		TextDocuments: repMap[DocumentContent]{},
		Webviews:      repMap[DocumentContent]{},
		StoredValues:  repMap[StoredValue]{},
		History:       repMap[ConversationFragment]{},
	}
}

// merge folds remote into s and reports whether s changed.
func (s *state) merge(remote *state) bool {
	changed := s.Requests.merge(remote.Requests)
	changed = s.RequestNext.merge(remote.RequestNext) || changed
	changed = s.RequestAck.merge(remote.RequestAck) || changed
	changed = s.Responses.merge(remote.Responses) || changed
	changed = s.ResponseNext.merge(remote.ResponseNext) || changed
	changed = s.ResponseAck.merge(remote.ResponseAck) || changed
	changed = s.TextDocuments.merge(remote.TextDocuments) || changed
	changed = s.ActiveDoc.merge(remote.ActiveDoc) || changed
	changed = s.Webviews.merge(remote.Webviews) || changed
	changed = s.StoredValues.merge(remote.StoredValues) || changed
	changed = s.History.merge(remote.History) || changed
	if remote.ShouldExit && !s.ShouldExit {
		s.ShouldExit = true
		changed = true
	}
	changed = s.ActiveModel.merge(remote.ActiveModel) || changed
	return changed
}

// maxClock is the highest stamp clock anywhere in the state, used to
// advance the local Lamport clock past remote writes on merge.
func (s *state) maxClock() uint64 {
	max := s.Requests.maxClock()
	for _, c := range []uint64{
		s.Responses.maxClock(),
		s.TextDocuments.maxClock(),
		s.Webviews.maxClock(),
		s.StoredValues.maxClock(),
		s.History.maxClock(),
		s.ActiveDoc.Stamp.Clock,
		s.ActiveModel.Stamp.Clock,
	} {
		if c > max {
			max = c
		}
	}
	return max
}

// seqKey formats a queue sequence number so lexical order matches numeric
// order.
func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// historyKey orders transcript entries by (clock, peer, seq). Each peer
// only ever writes keys carrying its own name, so concurrent appends from
// both sides merge as a union with a deterministic total order.
func historyKey(clock uint64, peer string, seq int) string {
	return fmt.Sprintf("%020d:%s:%06d", clock, peer, seq)
}

// queueHead returns the first live entry at or past the ack watermark.
func queueHead[T any](entries repMap[T], ack counter) (string, T, bool) {
	var (
		bestKey string
		best    T
		found   bool
	)
	for k, c := range entries {
		if c.Deleted || k < seqKey(ack.Value) {
			continue
		}
		if !found || k < bestKey {
			bestKey, best, found = k, c.Value, true
		}
	}
	return bestKey, best, found
}

// orderedValues returns live map values sorted by key.
func orderedValues[T any](m repMap[T]) []T {
	keys := make([]string, 0, len(m))
	for k, c := range m {
		if !c.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k].Value)
	}
	return out
}

// liveKeys returns non-tombstoned keys, sorted.
func liveKeys[T any](m repMap[T]) []string {
	keys := make([]string, 0, len(m))
	for k, c := range m {
		if !c.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
