package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/stockpilot/internal/observability"
	"github.com/harun/stockpilot/internal/tracing"
	"github.com/harun/stockpilot/pkg/commandqueue"
	"github.com/harun/stockpilot/pkg/confirmation"
	"github.com/harun/stockpilot/pkg/runtime"
	"github.com/harun/stockpilot/pkg/session"
	"github.com/harun/stockpilot/pkg/toolschema"
)

// ProcessMessage handles one user message for a session. It never panics and
// never returns an error; every failure is reported in the Response.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, text string) Response {
	return o.Process(ctx, Request{SessionID: sessionID, Text: text})
}

// Process is ProcessMessage with an optional intent hint.
func (o *Orchestrator) Process(ctx context.Context, req Request) (resp Response) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionID(ctx, req.SessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.process_message",
		attribute.String("session_id", req.SessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger).With().Str("session_id", req.SessionID).Logger()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Panic while processing message")
			resp = errorResponse(string(runtime.KindUnexpected), msgUnexpected)
		}
		span.SetAttributes(attribute.String("status", string(resp.Status)))
		observability.RecordAgentTurn(string(resp.Status), resp.ErrorKind, time.Since(start))
	}()

	if strings.TrimSpace(req.Text) == "" {
		return Response{Status: StatusSuccess, Response: msgEmpty}
	}
	if err := session.ValidateID(req.SessionID); err != nil {
		logger.Warn().Err(err).Msg("Rejected message with invalid session id")
		return errorResponse(KindValidation, err.Error())
	}
	if o.State() != StateReady {
		return errorResponse(KindNotReady, msgNotReady)
	}

	// Entries abandoned by other sessions are otherwise only evicted on their next message.
	o.confirmations.Sweep()

	value, err := o.queue.EnqueueWithContext(ctx, commandqueue.SessionLane(req.SessionID), func(taskCtx context.Context) (interface{}, error) {
		return o.handle(taskCtx, req, logger), nil
	}, nil)
	if err != nil {
		tracing.RecordError(span, err)
		logger.Error().Err(err).Msg("Message was not processed")
		return errorResponse(string(runtime.KindUnexpected), msgUnexpected)
	}
	return value.(Response)
}

// handle runs inside the session lane, so the session record and its pending
// confirmation are not touched concurrently for the same id.
func (o *Orchestrator) handle(ctx context.Context, req Request, logger zerolog.Logger) Response {
	sess, err := o.loadOrCreate(ctx, req.SessionID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load session")
		return errorResponse(KindSession, msgSessionLoad)
	}

	runText := req.Text
	confirmed := false
	if pending, ok := o.confirmations.Peek(ctx, req.SessionID); ok {
		switch confirmation.ParseResponse(req.Text) {
		case confirmation.Yes:
			o.confirmations.Clear(ctx, req.SessionID)
			logger.Info().Str("action", string(pending.ActionType)).Msg("Destructive action confirmed")
			runText = pending.UserText
			confirmed = true
		case confirmation.No:
			o.confirmations.Clear(ctx, req.SessionID)
			logger.Info().Str("action", string(pending.ActionType)).Msg("Destructive action cancelled")
			if err := o.appendAndSave(ctx, sess, req.Text, msgCancelled); err != nil {
				logger.Error().Err(err).Msg("Failed to save session")
				return errorResponse(KindSession, msgSessionSave)
			}
			return Response{Status: StatusSuccess, Response: msgCancelled}
		default:
			return Response{
				Status:        StatusPendingConfirmation,
				Response:      msgReplyYesNo,
				PendingAction: pending.ActionType,
			}
		}
	}

	// A turn that will be armed must not change anything: "yes" re-runs it
	// and "no" promises nothing happened. Calls are still recorded.
	destructive := !confirmed && confirmation.IsDestructive(req.Text, req.IntentHint)
	turnCtx := ctx
	if destructive {
		turnCtx = toolschema.WithGuard(ctx, holdAll)
	}

	o.mu.RLock()
	agent := o.agent
	o.mu.RUnlock()
	if agent == nil {
		logger.Error().Err(errNotReady).Msg("No agent bound")
		return errorResponse(KindNotReady, msgNotReady)
	}

	result := agent.RunTurn(turnCtx, toRuntimeHistory(sess.History), runText)
	if !result.OK() {
		kind := result.Err.Kind
		event := logger.Warn()
		if kind == runtime.KindUnexpected {
			event = logger.Error()
		}
		event.Err(result.Err).Str("error_kind", string(kind)).Msg("Agent turn failed")
		return errorResponse(string(kind), turnErrorMessage(kind))
	}

	calls := runtime.NormalizeToolCalls(result.ToolCalls)

	if destructive {
		return o.arm(ctx, sess, req, calls, logger)
	}

	if err := o.appendAndSave(ctx, sess, req.Text, result.Text); err != nil {
		logger.Error().Err(err).Msg("Failed to save session")
		return errorResponse(KindSession, msgSessionSave)
	}
	return Response{Status: StatusSuccess, Response: result.Text, ToolCalls: calls}
}

func (o *Orchestrator) arm(ctx context.Context, sess *session.Session, req Request, calls []runtime.ToolCallRecord, logger zerolog.Logger) Response {
	text := req.Text
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Tool)
	}
	var args map[string]interface{}
	if len(calls) > 0 {
		args = calls[0].Arguments
	}

	// The hint only refines the text fallback used when no tool was called.
	action := confirmation.DeriveActionType(names, strings.TrimSpace(text+" "+req.IntentHint))
	details := confirmation.ExtractDetails(action, args, text)
	o.confirmations.Arm(ctx, sess.ID, action, details, text)
	prompt := confirmation.GeneratePrompt(action, details)
	logger.Info().Str("action", string(action)).Msg("Confirmation requested")

	if err := o.appendAndSave(ctx, sess, text, prompt); err != nil {
		// The pending state must not outlive a conversation that never recorded the prompt.
		o.confirmations.Clear(ctx, sess.ID)
		logger.Error().Err(err).Msg("Failed to save session")
		return errorResponse(KindSession, msgSessionSave)
	}
	return Response{
		Status:        StatusPendingConfirmation,
		Response:      prompt,
		ToolCalls:     calls,
		PendingAction: action,
	}
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, id string) (*session.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	sess, err = o.sessions.Create(ctx, id, nil)
	if errors.Is(err, session.ErrExists) {
		// Created by another process between Get and Create.
		sess, err = o.sessions.Get(ctx, id)
		if err == nil && sess == nil {
			err = fmt.Errorf("session %s vanished after create", id)
		}
	}
	return sess, err
}

func (o *Orchestrator) appendAndSave(ctx context.Context, sess *session.Session, userText, reply string) error {
	now := o.now()
	history := append(append([]session.Message(nil), sess.History...),
		session.Message{Role: session.RoleUser, Content: userText, Timestamp: now},
		session.Message{Role: session.RoleAssistant, Content: reply, Timestamp: now},
	)
	_, err := o.sessions.Save(ctx, sess.ID, history, nil)
	return err
}

func holdAll(string) bool { return true }

func toRuntimeHistory(history []session.Message) []runtime.Message {
	out := make([]runtime.Message, 0, len(history))
	for _, m := range history {
		out = append(out, runtime.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
