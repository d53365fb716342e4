// Package document holds the shared state document replicated between the
// control process and the render process. The document is the only channel
// the two processes communicate over: request/response mailboxes, the chat
// transcript, mirrored editor buffers, rendered mini-apps, a scratchpad of
// stored values, and the shutdown flag all live inside it.
//
// Mutations go through Change, which runs a read-compute-commit transaction
// and wakes watchers on both sides. Merge semantics are field-scoped
// last-writer-wins with Lamport stamps; see state.go for the single-writer
// conventions that make this safe.
package document

// RequestKind identifies a mailbox request variant.
type RequestKind string

const (
	// RequestInference asks the control process to run inference on behalf
	// of a mini-app.
	RequestInference RequestKind = "inference"
)

// AgentRequest is an entry in the request queue. Produced by the render
// process, consumed by the control process.
type AgentRequest struct {
	Kind    RequestKind `json:"kind"`
	Content string      `json:"content"`
	AppID   string      `json:"app_id"`
}

// ResponseKind identifies a mailbox response variant.
type ResponseKind string

const (
	// ResponseChat is a legacy variant. Chat now resolves over the local
	// dispatch channel; the variant is kept so an old peer pushing one is
	// recognized and flagged instead of misrouted.
	ResponseChat ResponseKind = "chat"

	// ResponseInference answers a mini-app inference request.
	ResponseInference ResponseKind = "inference"

	// ResponseWebApp carries generated mini-app content to render.
	ResponseWebApp ResponseKind = "web_app"
)

// AgentResponse is an entry in the response queue. Produced by the control
// process, consumed by the render process. ID is the app id for Inference
// and the new surface id for WebApp; it is empty for Chat.
type AgentResponse struct {
	Kind    ResponseKind `json:"kind"`
	ID      string       `json:"id,omitempty"`
	Content string       `json:"content"`
}

// Role labels a conversation fragment.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationFragment is one transcript entry.
type ConversationFragment struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// DocumentContent is the value side of a document manager entry.
type DocumentContent struct {
	Text string `json:"text"`
}

// StoredValue is a scratchpad entry written by a mini-app. Description is
// what the engine sees when enumerating stored values; Value never leaves
// the document except through a direct ReadValue call.
type StoredValue struct {
	Value       string `json:"value"`
	Description string `json:"description"`
}

// StoredValueInfo is the engine-visible projection of a stored value.
type StoredValueInfo struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// DocsInfo is the engine-visible projection of the text document manager.
type DocsInfo struct {
	OpenDocuments  []string `json:"open_documents"`
	ActiveDocument string   `json:"active_document,omitempty"`
}
