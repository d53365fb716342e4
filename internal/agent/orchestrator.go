package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"appbridge/internal/document"
	"appbridge/internal/engine"
	"appbridge/internal/prompts"
)

// DefaultMaxToolIterations bounds a chat turn when no override is set.
const DefaultMaxToolIterations = 3

// MaxIterationsEnv overrides the iteration budget at runtime.
const MaxIterationsEnv = "APPBRIDGE_TOOL_MAX_ITERATIONS"

// fallbackMessage ends a turn that exhausted its budget without reaching a
// terminal action.
const fallbackMessage = "No actionable response was produced. Please retry or rephrase."

// Engine actions. Everything not listed terminates the turn as an answer
// carrying the raw reply.
const (
	actionAnswer     = "answer"
	actionNothing    = "nothing"
	actionLaunchApp  = "launch_app"
	actionListApps   = "list_apps"
	actionListDocs   = "list_docs"
	actionListValues = "list_app_values"
)

// toolReply is the structured form of an engine reply.
type toolReply struct {
	Action  string  `json:"action"`
	Message *string `json:"message"`
	App     *string `json:"app"`
}

// parseToolReply opportunistically parses free-form engine text as a tool
// call. The bool distinguishes Structured from Freeform; Freeform always
// becomes a terminal answer carrying the raw text. A structured answer
// with no message also falls back to the raw text.
func parseToolReply(raw string) (toolReply, bool) {
	var r toolReply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return toolReply{}, false
	}
	if r.Action == actionAnswer && r.Message == nil {
		msg := raw
		r.Message = &msg
	}
	return r, true
}

// Orchestrator drives one chat turn to a terminal outcome: an answer, a
// deliberate no-op, or a launched mini-app.
type Orchestrator struct {
	doc           *document.Doc
	client        engine.Client
	sink          Renderer
	maxIterations int
	log           *zap.Logger
}

// NewOrchestrator wires the turn loop. maxIterations <= 0 selects the
// default, after applying the environment override.
func NewOrchestrator(doc *document.Doc, client engine.Client, sink Renderer, maxIterations int, log *zap.Logger) *Orchestrator {
	if v := os.Getenv(MaxIterationsEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxIterations = n
		}
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}
	return &Orchestrator{
		doc:           doc,
		client:        client,
		sink:          sink,
		maxIterations: maxIterations,
		log:           log.Named("orchestrator"),
	}
}

// RunTurn processes one user chat message. It returns the final message
// and whether there is one; a turn that ends in `nothing` or a pure app
// launch has no message. The transcript and (if hinted) the active model
// are committed to the shared document before RunTurn returns.
func (o *Orchestrator) RunTurn(ctx context.Context, latestUser, modelHint string) (string, bool) {
	var (
		history     []document.ConversationFragment
		runningApps []string
		docsInfo    document.DocsInfo
		valuesInfo  []document.StoredValueInfo
	)
	o.doc.View(func(r *document.Reader) {
		history = r.History()
		runningApps = r.RunningApps()
		docsInfo = r.Docs()
		valuesInfo = r.StoredValueInfos()
	})
	initialHistoryLen := len(history)

	var (
		appsPayload   []string
		docsPayload   *document.DocsInfo
		valuesPayload []document.StoredValueInfo

		responseMessage *string
		launchedApp     *string
		didNothing      bool

		currentPromptUser = latestUser
		pushedUser        bool
	)

	for i := 0; i < o.maxIterations; i++ {
		requestText := prompts.BuildRequest(history, currentPromptUser, appsPayload, docsPayload, valuesPayload)
		raw := engine.Infer(ctx, o.client, requestText, modelHint)

		reply, structured := parseToolReply(raw)
		if !structured {
			responseMessage = &raw
			break
		}

		var marker string
		terminal := true

		switch reply.Action {
		case actionAnswer:
			responseMessage = reply.Message
		case actionNothing:
			didNothing = true
		case actionLaunchApp:
			launchedApp = reply.App
		case actionListApps:
			if appsPayload != nil {
				msg := "App list was already provided, but the assistant requested it again without concluding."
				responseMessage = &msg
				break
			}
			appsPayload = nonNil(runningApps)
			marker = prompts.AppsMarker
			terminal = false
		case actionListDocs:
			if docsPayload != nil {
				msg := "Document list was already provided, but the assistant requested it again without concluding."
				responseMessage = &msg
				break
			}
			docsPayload = &docsInfo
			marker = prompts.DocsMarker
			terminal = false
		case actionListValues:
			if valuesPayload != nil {
				msg := "Stored values list was already provided, but the assistant requested it again without concluding."
				responseMessage = &msg
				break
			}
			valuesPayload = nonNilValues(valuesInfo)
			marker = prompts.ValuesMarker
			terminal = false
		default:
			responseMessage = &raw
		}

		if terminal {
			break
		}

		// The user's message enters the transcript the first time a
		// context block is fetched, not before.
		if !pushedUser && currentPromptUser != "" {
			history = append(history, document.ConversationFragment{Role: document.RoleUser, Content: currentPromptUser})
			currentPromptUser = ""
			pushedUser = true
		}
		history = append(history, document.ConversationFragment{Role: document.RoleAssistant, Content: marker})
	}

	if !didNothing && launchedApp == nil && responseMessage == nil {
		msg := fallbackMessage
		responseMessage = &msg
	}

	didLaunch := launchedApp != nil

	o.doc.Change(func(tx *document.Tx) {
		if modelHint != "" {
			tx.SetActiveModel(modelHint)
		}
		// Context markers (and the user fragment, if already pushed)
		// accumulated during tool use.
		for _, f := range history[initialHistoryLen:] {
			tx.AppendFragment(f)
		}
		if !pushedUser && latestUser != "" && (didLaunch || responseMessage != nil) {
			tx.AppendFragment(document.ConversationFragment{Role: document.RoleUser, Content: latestUser})
		}
		if responseMessage != nil {
			tx.AppendFragment(document.ConversationFragment{Role: document.RoleAssistant, Content: *responseMessage})
		}
	})

	if didLaunch {
		appID := fmt.Sprintf("app-%s", uuid.NewString())
		o.log.Info("launching generated app", zap.String("app_id", appID), zap.Int("content_len", len(*launchedApp)))
		o.sink.LaunchApp(appID, *launchedApp)
	}

	if responseMessage != nil {
		return *responseMessage, true
	}
	return "", false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilValues(s []document.StoredValueInfo) []document.StoredValueInfo {
	if s == nil {
		return []document.StoredValueInfo{}
	}
	return s
}
