package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfork/openfork/internal/bus"
	"github.com/openfork/openfork/internal/hooks"
	"github.com/openfork/openfork/internal/permissions"
	"github.com/openfork/openfork/internal/providers"
	"github.com/openfork/openfork/internal/store"
	"github.com/openfork/openfork/internal/tokens"
	"github.com/openfork/openfork/internal/tools"
	"github.com/openfork/openfork/pkg/models"
)

// Loop drives one session turn: stream the model, execute tool calls
// through hooks and permissions, attribute output into parts, and keep
// the token budget inside the context window.
type Loop struct {
	Store       store.Store
	Events      *bus.Bus
	Providers   *providers.Registry
	Tools       *tools.Registry
	Permissions *permissions.Engine
	Hooks       *hooks.Pipeline
	Truncator   *tokens.Truncator
	Pruner      *tokens.Pruner
	Compactor   *tokens.Compactor
	Estimator   tokens.Estimator

	// SystemPrefix is prepended to every profile's system prompt.
	SystemPrefix string

	logger *slog.Logger
	tracer trace.Tracer
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	FinalText  string
	Iterations int
	ToolCalls  int
}

func (l *Loop) log() *slog.Logger {
	if l.logger == nil {
		l.logger = slog.Default().With("component", "agent")
	}
	return l.logger
}

func (l *Loop) trace() trace.Tracer {
	if l.tracer == nil {
		l.tracer = otel.Tracer("openfork/agent")
	}
	return l.tracer
}

// Run executes one turn for the given prompt. Provider failures end the
// turn as error parts without returning an error; a returned LoopError
// means the turn could not proceed at all.
func (l *Loop) Run(ctx context.Context, session *models.Session, profile *Profile, prompt string) (*TurnResult, error) {
	ctx, span := l.trace().Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("session.id", session.ID),
		attribute.String("agent.slug", profile.Slug),
	))
	defer span.End()

	if _, veto := l.Hooks.Fire(ctx, &hooks.HookContext{
		Trigger:   models.TriggerPreAgentLoop,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
	}); veto != nil {
		return nil, &LoopError{Kind: KindVeto, Reason: veto.Reason}
	}
	if _, veto := l.Hooks.Fire(ctx, &hooks.HookContext{
		Trigger:   models.TriggerPreMessage,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
		Message:   prompt,
	}); veto != nil {
		return nil, &LoopError{Kind: KindVeto, Reason: veto.Reason}
	}

	if _, err := l.appendMessage(ctx, session.ID, models.RoleUser, &models.Part{
		Body: &models.TextPart{Content: prompt, ContentType: models.TextPlain},
	}); err != nil {
		return nil, &LoopError{Kind: KindInvariant, Reason: "append user message", Err: err}
	}

	l.publish(bus.AgentTurnStartedEvent{
		Meta: bus.NewMeta("agent"), SessionID: session.ID, AgentSlug: profile.Slug,
	})

	provider, err := l.Providers.Get(profile.Provider)
	if err != nil {
		return nil, &LoopError{Kind: KindProtocol, Reason: "resolve provider", Err: err}
	}

	result := &TurnResult{}
	maxIter := profile.maxIterations()

	for iteration := 1; iteration <= maxIter; iteration++ {
		result.Iterations = iteration
		if err := ctx.Err(); err != nil {
			return result, &LoopError{Kind: KindCancelled, Reason: "turn cancelled", Err: err}
		}

		if err := l.manageBudget(ctx, session, profile, provider); err != nil {
			l.appendErrorText(ctx, session.ID, err.Error())
			return result, err
		}

		req, err := l.buildRequest(ctx, session, profile)
		if err != nil {
			return result, &LoopError{Kind: KindInvariant, Reason: "build request", Err: err}
		}

		turn, err := l.streamTurn(ctx, session, profile, provider, req)
		if err != nil {
			// Provider failure: already recorded as an error part.
			l.fireError(ctx, session, profile, err)
			return result, nil
		}
		result.FinalText = turn.text()

		if len(turn.toolParts) == 0 {
			l.finish(ctx, session, profile, result)
			return result, nil
		}
		result.ToolCalls += len(turn.toolParts)

		if profile.executionMode() == ModeSingleShot {
			l.finish(ctx, session, profile, result)
			return result, nil
		}

		outputs := make([]*models.Part, 0, len(turn.toolParts))
		for _, part := range turn.toolParts {
			outputs = append(outputs, l.executeCall(ctx, session, profile, part))
		}
		if _, err := l.appendMessage(ctx, session.ID, models.RoleTool, outputs...); err != nil {
			return result, &LoopError{Kind: KindInvariant, Reason: "append tool message", Err: err}
		}

		if iteration == maxIter {
			l.Hooks.Fire(ctx, &hooks.HookContext{
				Trigger:   models.TriggerMaxIterations,
				SessionID: session.ID,
				AgentSlug: profile.Slug,
				Metadata:  map[string]string{"iterations": fmt.Sprintf("%d", maxIter)},
			})
			note := fmt.Sprintf("Stopping: reached the iteration cap of %d tool rounds for this turn.", maxIter)
			l.appendMessage(ctx, session.ID, models.RoleAssistant, &models.Part{
				Body: &models.TextPart{Content: note, ContentType: models.TextMarkdown},
			})
			result.FinalText = note
			l.finish(ctx, session, profile, result)
			return result, nil
		}
	}
	return result, nil
}

func (l *Loop) finish(ctx context.Context, session *models.Session, profile *Profile, result *TurnResult) {
	l.Hooks.Fire(ctx, &hooks.HookContext{
		Trigger:   models.TriggerPostMessage,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
		Message:   result.FinalText,
	})
	l.Hooks.Fire(ctx, &hooks.HookContext{
		Trigger:   models.TriggerPostAgentLoop,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
	})
	l.publish(bus.AgentTurnCompletedEvent{
		Meta:       bus.NewMeta("agent"),
		SessionID:  session.ID,
		AgentSlug:  profile.Slug,
		Iterations: result.Iterations,
	})
}

// manageBudget runs L2 pruning and L3 compaction when their thresholds
// are crossed, and fails the turn only if the history still exceeds the
// window afterwards.
func (l *Loop) manageBudget(ctx context.Context, session *models.Session, profile *Profile, provider providers.Provider) error {
	window := provider.ContextWindow(profile.Model)
	history, err := l.Store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return &LoopError{Kind: KindInvariant, Reason: "load history", Err: err}
	}

	if l.Compactor != nil && l.Compactor.Needed(history, window) {
		if err := l.compact(ctx, session, history, window); err != nil && !errors.Is(err, tokens.ErrCompactionInFlight) {
			l.log().Warn("compaction failed", "session", session.ID, "error", err)
		}
		history, err = l.Store.GetHistory(ctx, session.ID, 0)
		if err != nil {
			return &LoopError{Kind: KindInvariant, Reason: "load history", Err: err}
		}
	}

	if l.Pruner != nil && l.Pruner.Needed(history) {
		stats := l.Pruner.Prune(session.ID, history)
		if stats.PrunedParts > 0 {
			l.persistPrunedParts(ctx, history)
		}
	}

	if window > 0 && tokens.EstimateHistory(l.Estimator, history) >= window {
		return &LoopError{Kind: KindBudget, Reason: "history exceeds the context window after pruning and compaction"}
	}
	return nil
}

func (l *Loop) compact(ctx context.Context, session *models.Session, history []*models.Message, window int) error {
	res, err := l.Compactor.Compact(ctx, session.ID, history, window)
	if err != nil {
		return err
	}
	if _, err := l.appendMessage(ctx, session.ID, models.RoleSystem, &models.Part{Body: res.Part}); err != nil {
		return err
	}
	return l.Store.MarkCompacted(ctx, session.ID, res.MessageIDs)
}

func (l *Loop) persistPrunedParts(ctx context.Context, history []*models.Message) {
	for _, msg := range history {
		for _, part := range msg.Parts {
			tp, ok := part.Body.(*models.ToolPart)
			if !ok || !tp.Pruned {
				continue
			}
			if err := l.Store.UpdatePart(ctx, part); err != nil {
				l.log().Warn("persisting pruned part failed", "part", part.ID, "error", err)
			}
			l.publish(bus.PartUpdatedEvent{Meta: bus.NewMeta("agent"), Part: part})
		}
	}
}

// buildRequest renders the stored history into a provider request.
// Compacted messages are dropped; compaction parts stand in for them.
func (l *Loop) buildRequest(ctx context.Context, session *models.Session, profile *Profile) (*providers.CompletionRequest, error) {
	history, err := l.Store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return nil, err
	}

	var msgs []providers.CompletionMessage
	for _, msg := range history {
		if msg.Compacted {
			continue
		}
		msgs = append(msgs, renderMessage(msg)...)
	}

	system := strings.TrimSpace(strings.TrimSpace(l.SystemPrefix) + "\n\n" + strings.TrimSpace(profile.SystemPrompt))
	return &providers.CompletionRequest{
		Model:    profile.Model,
		System:   system,
		Messages: msgs,
		Tools:    l.Tools.Defs(profile.toolNames(l.Tools)),
	}, nil
}

func renderMessage(msg *models.Message) []providers.CompletionMessage {
	switch msg.Role {
	case models.RoleTool:
		var out []providers.CompletionMessage
		for _, tp := range msg.ToolParts() {
			content := tp.Output
			if tp.Error != nil {
				content = "Error: " + tp.Error.Message
			}
			out = append(out, providers.CompletionMessage{
				Role:       providers.RoleTool,
				Content:    content,
				ToolCallID: tp.CallID,
			})
		}
		return out
	case models.RoleAssistant:
		cm := providers.CompletionMessage{Role: providers.RoleAssistant, Content: textContent(msg)}
		for _, tp := range msg.ToolParts() {
			cm.ToolCalls = append(cm.ToolCalls, providers.ToolCall{
				ID: tp.CallID, Name: tp.ToolName, Input: tp.Input,
			})
		}
		if cm.Content == "" && len(cm.ToolCalls) == 0 {
			return nil
		}
		return []providers.CompletionMessage{cm}
	case models.RoleSystem:
		// Compaction summaries ride on system messages.
		for _, part := range msg.Parts {
			if cp, ok := part.Body.(*models.CompactionPart); ok {
				return []providers.CompletionMessage{{
					Role:    providers.RoleSystem,
					Content: "Summary of the earlier conversation:\n" + cp.Summary,
				}}
			}
		}
		if content := textContent(msg); content != "" {
			return []providers.CompletionMessage{{Role: providers.RoleSystem, Content: content}}
		}
		return nil
	default:
		if content := textContent(msg); content != "" {
			return []providers.CompletionMessage{{Role: providers.RoleUser, Content: content}}
		}
		return nil
	}
}

func textContent(msg *models.Message) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if tp, ok := part.Body.(*models.TextPart); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tp.Content)
		}
	}
	return sb.String()
}

// turnState is the assistant message being assembled from the stream.
type turnState struct {
	msg           *models.Message
	textPart      *models.Part
	reasoningPart *models.Part
	toolParts     []*models.Part
	nextIndex     int
}

func (t *turnState) text() string {
	if t == nil || t.textPart == nil {
		return ""
	}
	return t.textPart.Body.(*models.TextPart).Content
}

// streamTurn runs one provider call, attributing chunks into parts as
// they arrive. A provider error is recorded as an error part on the
// assistant message and returned.
func (l *Loop) streamTurn(ctx context.Context, session *models.Session, profile *Profile, provider providers.Provider, req *providers.CompletionRequest) (*turnState, error) {
	stream, err := provider.Complete(ctx, req)
	if err != nil {
		l.appendErrorText(ctx, session.ID, "provider error: "+err.Error())
		return nil, &LoopError{Kind: KindTransport, Reason: "start completion", Err: err}
	}

	msg, err := l.appendMessage(ctx, session.ID, models.RoleAssistant)
	if err != nil {
		return nil, &LoopError{Kind: KindInvariant, Reason: "append assistant message", Err: err}
	}
	turn := &turnState{msg: msg}

	for chunk := range stream {
		switch {
		case chunk.Error != nil:
			l.failOpenToolParts(ctx, turn, "cancelled")
			if ctx.Err() != nil {
				return nil, &LoopError{Kind: KindCancelled, Reason: "stream cancelled", Err: ctx.Err()}
			}
			l.attachErrorText(ctx, turn, "provider error: "+chunk.Error.Error())
			return nil, &LoopError{Kind: KindTransport, Reason: "stream failed", Err: chunk.Error}
		case chunk.Text != "":
			l.appendText(ctx, turn, chunk.Text)
		case chunk.Reasoning != "":
			l.appendReasoning(ctx, turn, chunk.Reasoning)
		case chunk.ToolCall != nil:
			l.openToolPart(ctx, turn, chunk.ToolCall)
		}
	}

	// Persist final accumulated content.
	if turn.textPart != nil {
		l.updatePart(ctx, turn.textPart)
	}
	if turn.reasoningPart != nil {
		l.updatePart(ctx, turn.reasoningPart)
	}
	l.publish(bus.MessageCompletedEvent{
		Meta: bus.NewMeta("agent"), SessionID: session.ID, MessageID: msg.ID,
	})
	return turn, nil
}

func (l *Loop) appendText(ctx context.Context, turn *turnState, delta string) {
	if turn.textPart == nil {
		turn.textPart = l.createPart(ctx, turn, &models.TextPart{ContentType: models.TextMarkdown})
	}
	tp := turn.textPart.Body.(*models.TextPart)
	tp.Content += delta
	l.publish(bus.PartUpdatedEvent{Meta: bus.NewMeta("agent"), Part: turn.textPart})
}

func (l *Loop) appendReasoning(ctx context.Context, turn *turnState, delta string) {
	if turn.reasoningPart == nil {
		turn.reasoningPart = l.createPart(ctx, turn, &models.ReasoningPart{Visible: true})
	}
	rp := turn.reasoningPart.Body.(*models.ReasoningPart)
	rp.Content += delta
	l.publish(bus.PartUpdatedEvent{Meta: bus.NewMeta("agent"), Part: turn.reasoningPart})
}

func (l *Loop) openToolPart(ctx context.Context, turn *turnState, call *providers.ToolCall) {
	part := l.createPart(ctx, turn, &models.ToolPart{
		CallID:   call.ID,
		ToolName: call.Name,
		Status:   models.ToolPending,
		Input:    call.Input,
	})
	turn.toolParts = append(turn.toolParts, part)
}

func (l *Loop) createPart(ctx context.Context, turn *turnState, body models.PartBody) *models.Part {
	part := &models.Part{
		SessionID:  turn.msg.SessionID,
		MessageID:  turn.msg.ID,
		OrderIndex: turn.nextIndex,
		Type:       body.PartType(),
		Body:       body,
	}
	turn.nextIndex++
	if err := l.Store.CreatePart(ctx, part); err != nil {
		l.log().Error("create part failed", "error", err)
	}
	l.publish(bus.PartCreatedEvent{Meta: bus.NewMeta("agent"), Part: part})
	return part
}

func (l *Loop) updatePart(ctx context.Context, part *models.Part) {
	if err := l.Store.UpdatePart(ctx, part); err != nil {
		l.log().Error("update part failed", "part", part.ID, "error", err)
	}
	l.publish(bus.PartUpdatedEvent{Meta: bus.NewMeta("agent"), Part: part})
}

// executeCall gates one tool call through hooks and permissions, runs
// it, truncates the output, and returns a terminal snapshot part for the
// role=tool follow-up message.
func (l *Loop) executeCall(ctx context.Context, session *models.Session, profile *Profile, part *models.Part) *models.Part {
	tp := part.Body.(*models.ToolPart)
	ctx, span := l.trace().Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", tp.ToolName),
		attribute.String("tool.call_id", tp.CallID),
	))
	defer span.End()

	hc := &hooks.HookContext{
		Trigger:   models.TriggerPreTool,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
		ToolName:  tp.ToolName,
		ToolInput: tp.Input,
	}
	decorateHookContext(hc, tp)

	if _, veto := l.Hooks.Fire(ctx, hc); veto != nil {
		return l.failCall(ctx, part, veto.Reason, "hook_veto")
	}
	if pre := specializedTrigger(tp.ToolName, true); pre != "" {
		sc := *hc
		sc.Trigger = pre
		if _, veto := l.Hooks.Fire(ctx, &sc); veto != nil {
			return l.failCall(ctx, part, veto.Reason, "hook_veto")
		}
	}

	if _, err := l.Permissions.Evaluate(ctx, session.ID, tp.ToolName, tp.Input); err != nil {
		if ctx.Err() != nil {
			return l.cancelCall(ctx, session.ID, part)
		}
		return l.failCall(ctx, part, err.Error(), "permission_denied")
	}

	if err := tp.Advance(models.ToolRunning); err != nil {
		return l.failCall(ctx, part, err.Error(), "invariant")
	}
	l.updatePart(ctx, part)
	l.publish(bus.ToolExecutionStartedEvent{
		Meta: bus.NewMeta("agent"), SessionID: session.ID, CallID: tp.CallID, ToolName: tp.ToolName,
	})

	started := time.Now()
	res, err := l.runTool(tools.WithSession(ctx, session.ID), tp.ToolName, tp.Input)
	if ctx.Err() != nil {
		return l.cancelCall(ctx, session.ID, part)
	}
	if err != nil {
		return l.failCall(ctx, part, err.Error(), "execution")
	}

	tr := l.Truncator.Truncate(session.ID, tp.ToolName, res.Content)
	tp.Output = tr.Output
	tp.SpillPath = tr.SpillPath
	if res.Title != "" {
		tp.Title = res.Title
	}

	if res.IsError {
		tp.Advance(models.ToolError)
		tp.Error = &models.PartError{Message: firstLine(res.Content), Code: "tool_error"}
	} else {
		tp.Advance(models.ToolCompleted)
	}
	l.updatePart(ctx, part)
	l.publish(bus.ToolExecutionCompletedEvent{
		Meta:      bus.NewMeta("agent"),
		SessionID: session.ID,
		CallID:    tp.CallID,
		ToolName:  tp.ToolName,
		IsError:   res.IsError,
		Duration:  time.Since(started),
	})

	post := &hooks.HookContext{
		Trigger:   models.TriggerPostTool,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
		ToolName:  tp.ToolName,
		ToolInput: tp.Input,
		ToolOut:   tp.Output,
	}
	decorateHookContext(post, tp)
	l.Hooks.Fire(ctx, post)
	if postTrigger := specializedTrigger(tp.ToolName, false); postTrigger != "" {
		sc := *post
		sc.Trigger = postTrigger
		l.Hooks.Fire(ctx, &sc)
	}

	return snapshotPart(tp)
}

// runTool dispatches through the registry with panic isolation.
func (l *Loop) runTool(ctx context.Context, name string, input json.RawMessage) (res *tools.ToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log().Error("tool panicked", "tool", name, "panic", r)
			res = nil
			err = fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()
	return l.Tools.Execute(ctx, name, input)
}

func (l *Loop) failCall(ctx context.Context, part *models.Part, reason, code string) *models.Part {
	tp := part.Body.(*models.ToolPart)
	tp.Advance(models.ToolError)
	tp.Error = &models.PartError{Message: reason, Code: code}
	l.updatePart(ctx, part)
	return snapshotPart(tp)
}

func (l *Loop) cancelCall(ctx context.Context, sessionID string, part *models.Part) *models.Part {
	tp := part.Body.(*models.ToolPart)
	tp.Advance(models.ToolError)
	tp.Error = &models.PartError{Message: "cancelled", Code: "cancelled"}
	l.updatePart(context.WithoutCancel(ctx), part)
	l.publish(bus.ToolExecutionCancelledEvent{
		Meta: bus.NewMeta("agent"), SessionID: sessionID, CallID: tp.CallID, ToolName: tp.ToolName,
	})
	return snapshotPart(tp)
}

// failOpenToolParts marks not-yet-terminal tool parts as errored, used
// when the stream dies under them.
func (l *Loop) failOpenToolParts(ctx context.Context, turn *turnState, reason string) {
	for _, part := range turn.toolParts {
		tp := part.Body.(*models.ToolPart)
		if tp.Terminal() {
			continue
		}
		tp.Advance(models.ToolError)
		tp.Error = &models.PartError{Message: reason, Code: reason}
		l.updatePart(context.WithoutCancel(ctx), part)
	}
}

// snapshotPart builds the terminal copy of a tool part carried on the
// role=tool follow-up message.
func snapshotPart(tp *models.ToolPart) *models.Part {
	snap := *tp
	return &models.Part{Type: models.PartTypeTool, Body: &snap}
}

func (l *Loop) appendErrorText(ctx context.Context, sessionID, text string) {
	l.appendMessage(context.WithoutCancel(ctx), sessionID, models.RoleAssistant, &models.Part{
		Body: &models.TextPart{Content: text, ContentType: models.TextPlain},
	})
}

func (l *Loop) attachErrorText(ctx context.Context, turn *turnState, text string) {
	l.createPart(context.WithoutCancel(ctx), turn, &models.TextPart{
		Content: text, ContentType: models.TextPlain,
	})
}

func (l *Loop) fireError(ctx context.Context, session *models.Session, profile *Profile, err error) {
	l.publish(bus.ErrorOccurredEvent{
		Meta: bus.NewMeta("agent"), SessionID: session.ID, Err: err.Error(),
	})
	l.Hooks.Fire(context.WithoutCancel(ctx), &hooks.HookContext{
		Trigger:   models.TriggerOnError,
		SessionID: session.ID,
		AgentSlug: profile.Slug,
		Error:     err.Error(),
	})
}

// appendMessage persists a message with its parts and publishes the
// creation events.
func (l *Loop) appendMessage(ctx context.Context, sessionID string, role models.Role, parts ...*models.Part) (*models.Message, error) {
	msg := &models.Message{SessionID: sessionID, Role: role}
	for i, part := range parts {
		part.SessionID = sessionID
		part.OrderIndex = i
		if part.Type == "" && part.Body != nil {
			part.Type = part.Body.PartType()
		}
		msg.Parts = append(msg.Parts, part)
	}
	if err := l.Store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}
	l.publish(bus.MessageCreatedEvent{Meta: bus.NewMeta("agent"), Message: msg})
	for _, part := range msg.Parts {
		l.publish(bus.PartCreatedEvent{Meta: bus.NewMeta("agent"), Part: part})
	}
	return msg, nil
}

func (l *Loop) publish(ev bus.Event) {
	if l.Events == nil {
		return
	}
	if err := l.Events.Publish(ev); err != nil && !errors.Is(err, bus.ErrBusClosed) {
		l.log().Warn("publish failed", "error", err)
	}
}

// decorateHookContext fills the command / file fields used by the
// specialized command and edit triggers and by hook pattern filters.
func decorateHookContext(hc *hooks.HookContext, tp *models.ToolPart) {
	var args struct {
		Command  string `json:"command"`
		FilePath string `json:"file_path"`
	}
	if len(tp.Input) > 0 {
		json.Unmarshal(tp.Input, &args)
	}
	hc.Command = args.Command
	hc.FilePath = args.FilePath
}

// specializedTrigger maps tool names to their dedicated hook triggers.
func specializedTrigger(toolName string, pre bool) models.HookTrigger {
	switch toolName {
	case "bash":
		if pre {
			return models.TriggerPreCommand
		}
		return models.TriggerPostCommand
	case "edit", "write", "multiedit":
		if pre {
			return models.TriggerPreEdit
		}
		return models.TriggerPostEdit
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
