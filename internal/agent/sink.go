// Package agent runs the control-process side of the bridge: the tool-use
// orchestrator that drives one chat turn to a terminal outcome, the local
// dispatch channel for same-process chat, the watch loop consuming
// cross-process mini-app requests, and the workspace surface the editor
// protocol server calls into.
package agent

import (
	"appbridge/internal/document"
)

// Renderer receives agent output destined for the render process's UI
// surface. The render process implements it against real surfaces; the
// control process uses docSink, which only records responses in the shared
// document for the render side to observe.
type Renderer interface {
	LaunchApp(id, content string)
	HandleInferenceResponse(appID, content string)
}

// docSink is the control-side Renderer. It never touches a UI; it holds
// the response-producer capability and writes AgentResponse entries the
// render process drains.
type docSink struct {
	responses document.ResponseProducer
}

// LaunchApp registers the webview and enqueues the WebApp response in one
// transaction, so the render side can never observe one without the other.
func (s *docSink) LaunchApp(id, content string) {
	s.responses.LaunchApp(id, content)
}

// HandleInferenceResponse enqueues a mini-app inference answer.
func (s *docSink) HandleInferenceResponse(appID, content string) {
	s.responses.Push(document.AgentResponse{
		Kind:    document.ResponseInference,
		ID:      appID,
		Content: content,
	})
}
