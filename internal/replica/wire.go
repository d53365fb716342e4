// Package replica is the two-peer replication runtime for the shared state
// document. It gives each process a Repo that can create a document or
// request one by id from the peer, keeps replicas converged by shipping
// full snapshots after every commit (snapshot merges are idempotent and
// cumulative, so frames may be coalesced or dropped under backpressure),
// and handles the fixed-port bootstrap handshake between the control and
// render processes.
package replica

import "encoding/json"

// Frame types exchanged on a peer link.
const (
	frameHello   = "hello"   // first frame in each direction, carries the peer name
	frameRequest = "request" // asks the peer for a document by id
	frameState   = "state"   // full document snapshot
)

// frame is one JSON message on a peer link.
type frame struct {
	Type  string          `json:"type"`
	Peer  string          `json:"peer,omitempty"`
	DocID string          `json:"doc_id,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}
