package agent

import (
	"context"

	"github.com/harun/stockpilot/pkg/confirmation"
	"github.com/harun/stockpilot/pkg/runtime"
	"github.com/harun/stockpilot/pkg/toolclient"
)

// State is the orchestrator lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateToolsDiscovered
	StateReady
)

func (s State) String() string {
	switch s {
	case StateToolsDiscovered:
		return "tools_discovered"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Status is the outcome reported to the caller.
type Status string

const (
	StatusSuccess             Status = "Success"
	StatusPendingConfirmation Status = "PendingConfirmation"
	StatusError               Status = "Error"
)

// Error kinds produced by the orchestrator itself. Model failures use runtime.ErrorKind values.
const (
	KindValidation = "validation"
	KindNotReady   = "not_ready"
	KindSession    = "session"
)

// Response is the result of processing one user message. It is always a value;
// failures are reported through Status and ErrorKind.
type Response struct {
	Status        Status                   `json:"status"`
	Response      string                   `json:"response"`
	ToolCalls     []runtime.ToolCallRecord `json:"toolCalls,omitempty"`
	PendingAction confirmation.ActionType  `json:"pendingAction,omitempty"`
	ErrorKind     string                   `json:"errorKind,omitempty"`
}

// Request is one inbound message.
type Request struct {
	SessionID string
	Text      string
	// IntentHint is an optional destructive-intent signal from a caller with richer NLU.
	IntentHint string
}

// Discoverer is the tool host as seen by the orchestrator. *toolclient.Client implements it.
type Discoverer interface {
	DiscoverTools(ctx context.Context) (*toolclient.Catalog, error)
	InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)
}

const (
	msgEmpty          = "How can I help with inventory or billing?"
	msgCancelled      = "Action cancelled."
	msgReplyYesNo     = "Please reply 'yes' or 'no'."
	msgNotReady       = "The assistant is still starting up. Please try again shortly."
	msgSessionLoad    = "Sorry, I couldn't load this conversation. Please try again."
	msgSessionSave    = "Sorry, I couldn't save this conversation, so the last message was not recorded. Please try again."
	msgModelBehavior  = "I couldn't work out how to handle that. Could you please rephrase your request?"
	msgTurnLimit      = "That request is too complex to finish in one go. Please simplify it or split it into smaller steps."
	msgAuthentication = "The assistant can't reach its language model because authentication failed. Please ask an administrator to check the API key."
	msgRateLimited    = "The assistant is busy right now. Please retry in a few moments."
	msgQuotaExceeded  = "The assistant's usage quota is exhausted. Please ask an administrator to check billing for the model provider."
	msgConnection     = "The model service is unavailable right now. Please try again later."
	msgUnexpected     = "Sorry, an unexpected error occurred while processing your request."
)

// turnErrorMessage maps a classified turn failure to the text shown to the user.
func turnErrorMessage(kind runtime.ErrorKind) string {
	switch kind {
	case runtime.KindModelBehavior:
		return msgModelBehavior
	case runtime.KindTurnLimit:
		return msgTurnLimit
	case runtime.KindAuthentication:
		return msgAuthentication
	case runtime.KindRateLimited:
		return msgRateLimited
	case runtime.KindQuotaExceeded:
		return msgQuotaExceeded
	case runtime.KindConnection:
		return msgConnection
	default:
		return msgUnexpected
	}
}

func errorResponse(kind, message string) Response {
	return Response{Status: StatusError, Response: message, ErrorKind: kind}
}
