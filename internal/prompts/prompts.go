// Package prompts builds the JSON request sent to the inference engine for
// each tool-use iteration. The request carries the system instructions, the
// transcript so far, the latest user message, and whichever context blocks
// the engine has asked for this turn, each with a note saying why it is
// there.
package prompts

import (
	_ "embed"
	"encoding/json"
	"strings"

	"appbridge/internal/document"
)

//go:embed web-environment.md
var webEnvironmentSystemPrompt string

// Fixed transcript markers appended when the engine requests a context
// block. They keep later iterations (and later turns) aware that the
// information was already supplied.
const (
	AppsMarker   = "Assistant requested info on running apps."
	DocsMarker   = "Assistant requested info on open documents."
	ValuesMarker = "Assistant requested info on stored values."
)

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webRequest struct {
	System     string        `json:"system"`
	History    []historyItem `json:"history"`
	LatestUser string        `json:"latest_user"`

	// Context block fields are pointers so an empty-but-requested block
	// still serializes as [] instead of disappearing.
	Apps     *[]string `json:"apps,omitempty"`
	AppsNote string    `json:"apps_note,omitempty"`

	OpenDocuments  *[]string `json:"open_documents,omitempty"`
	ActiveDocument string    `json:"active_document,omitempty"`
	DocsNote       string    `json:"docs_note,omitempty"`

	StoredValues     *[]document.StoredValueInfo `json:"stored_values,omitempty"`
	StoredValuesNote string                      `json:"stored_values_note,omitempty"`
}

// BuildRequest renders one engine request. Context block slices are nil
// when the block has not been requested this turn; an empty non-nil slice
// means "requested, nothing there" and is still attached with its note.
func BuildRequest(
	history []document.ConversationFragment,
	latestUser string,
	apps []string,
	docs *document.DocsInfo,
	values []document.StoredValueInfo,
) string {
	req := webRequest{
		System:     strings.TrimRight(webEnvironmentSystemPrompt, "\n"),
		History:    renderHistory(history),
		LatestUser: latestUser,
	}
	if apps != nil {
		req.Apps = &apps
		req.AppsNote = "The app list below is provided because you requested running apps."
	}
	if docs != nil {
		open := docs.OpenDocuments
		if open == nil {
			open = []string{}
		}
		req.OpenDocuments = &open
		req.ActiveDocument = docs.ActiveDocument
		req.DocsNote = "The document list below is provided because you requested open documents."
	}
	if values != nil {
		req.StoredValues = &values
		req.StoredValuesNote = "The stored values below are provided because you requested them. Values are hidden; only keys and descriptions are listed."
	}

	b, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func renderHistory(history []document.ConversationFragment) []historyItem {
	items := make([]historyItem, 0, len(history))
	for _, f := range history {
		items = append(items, historyItem{Role: string(f.Role), Content: f.Content})
	}
	return items
}
