// Package orchestrator turns (identity, prompt) into a final answer: it
// resolves the conversation thread, routes the prompt to one tool server,
// and drives a bounded model/tool-call loop whose turns are persisted.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcpgate/internal/domain"
	"mcpgate/internal/infra/pool"
	"mcpgate/internal/infra/registry"
	"mcpgate/internal/infra/store"
	"mcpgate/internal/infra/telemetry"
)

const maxSynthesizedTitleLen = 48

type Options struct {
	Registry *registry.Registry
	Pool     *pool.Pool
	Store    *store.Store
	Model    model.ToolCallingChatModel
	Logger   *zap.Logger
	Metrics  domain.Metrics

	MaxRounds     int
	ModelTimeout  time.Duration
	InvokeTimeout time.Duration

	// ModelName labels persisted turns and metrics; it does not change which
	// model the bound ToolCallingChatModel talks to.
	ModelName    string
	SystemPrompt string
}

type Orchestrator struct {
	registry *registry.Registry
	pool     *pool.Pool
	store    *store.Store
	model    model.ToolCallingChatModel
	logger   *zap.Logger
	metrics  domain.Metrics

	maxRounds     int
	modelTimeout  time.Duration
	invokeTimeout time.Duration
	modelName     string
	systemPrompt  string
}

func New(opts Options) (*Orchestrator, error) {
	const op = "orchestrator.New"
	if opts.Registry == nil {
		return nil, domain.E(domain.CodeInvalidArgument, op, "registry is required", nil)
	}
	if opts.Pool == nil {
		return nil, domain.E(domain.CodeInvalidArgument, op, "pool is required", nil)
	}
	if opts.Store == nil {
		return nil, domain.E(domain.CodeInvalidArgument, op, "store is required", nil)
	}
	if opts.Model == nil {
		return nil, domain.E(domain.CodeInvalidArgument, op, "model is required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = domain.DefaultMaxRounds
	}
	modelTimeout := opts.ModelTimeout
	if modelTimeout <= 0 {
		modelTimeout = domain.DefaultModelTimeout
	}
	invokeTimeout := opts.InvokeTimeout
	if invokeTimeout <= 0 {
		invokeTimeout = domain.DefaultInvokeTimeout
	}
	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = domain.DefaultSystemPrompt
	}
	return &Orchestrator{
		registry:      opts.Registry,
		pool:          opts.Pool,
		store:         opts.Store,
		model:         opts.Model,
		logger:        logger.Named("orchestrator"),
		metrics:       metrics,
		maxRounds:     maxRounds,
		modelTimeout:  modelTimeout,
		invokeTimeout: invokeTimeout,
		modelName:     opts.ModelName,
		systemPrompt:  systemPrompt,
	}, nil
}

// Chat runs one request through the full state machine. The user turn is
// persisted before any model call, so a later failure never loses the prompt.
func (o *Orchestrator) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResult, error) {
	const op = "orchestrator.Chat"
	started := time.Now()

	if req.Identity == "" {
		return domain.ChatResult{}, domain.E(domain.CodeInvalidArgument, op, "identity is required", nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.ChatResult{}, domain.E(domain.CodeInvalidArgument, op, "prompt is required", nil)
	}

	thread, history, err := o.resolveThread(req)
	if err != nil {
		return domain.ChatResult{}, err
	}

	userID := req.MessageID
	if userID == "" {
		userID = uuid.NewString()
	}
	if _, err := o.store.AppendMessage(thread.ThreadID, domain.TextMessage(userID, thread.ThreadID, domain.RoleUser, req.Prompt)); err != nil {
		return domain.ChatResult{}, err
	}

	desc, err := o.registry.Select(req.Prompt)
	if err != nil {
		return domain.ChatResult{}, err
	}
	logger := o.logger.With(
		telemetry.IdentityField(req.Identity),
		telemetry.ThreadField(thread.ThreadID),
		telemetry.ServerField(desc.ServerID),
	)

	sess, release, err := o.pool.Acquire(ctx, req.Identity, desc)
	if err != nil {
		o.metrics.ObserveChat(desc.ServerID, "error", time.Since(started))
		return domain.ChatResult{}, domain.E(domain.CodeUpstreamUnavailable, op, "", err)
	}
	defer release()

	usage := domain.Usage{SelectedServer: desc.ServerID}
	finalText, err := o.runLoop(ctx, logger, sess, req, history, &usage)
	if err != nil {
		o.metrics.ObserveChat(desc.ServerID, "error", time.Since(started))
		return domain.ChatResult{}, err
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	// The assistant turn is written only after the loop succeeds; a failed
	// request leaves the thread ending with the user turn.
	assistantID := uuid.NewString()
	assistant := domain.TextMessage(assistantID, thread.ThreadID, domain.RoleAssistant, finalText)
	assistant.Model = o.modelName
	assistant.Annotations = domain.Annotations{
		SelectedServer: desc.ServerID,
		Usage:          &usage,
	}
	if _, err := o.store.UpsertMessage(thread.ThreadID, assistant); err != nil {
		return domain.ChatResult{}, err
	}

	o.metrics.ObserveChat(desc.ServerID, "ok", time.Since(started))
	logger.Info("chat complete",
		telemetry.EventField(telemetry.EventChatComplete),
		zap.Int("rounds", usage.Rounds),
		zap.Int("toolCalls", usage.ToolCalls),
		zap.Bool("truncated", usage.Truncated),
		telemetry.DurationField(time.Since(started)),
	)

	return domain.ChatResult{
		Result:             finalText,
		Usage:              usage,
		ThreadID:           thread.ThreadID,
		AssistantMessageID: assistantID,
	}, nil
}

// resolveThread loads the referenced thread (enforcing ownership) or creates
// one, returning prior turns for model context.
func (o *Orchestrator) resolveThread(req domain.ChatRequest) (domain.Thread, []domain.Message, error) {
	const op = "orchestrator.resolveThread"

	if req.ThreadID == "" {
		thread, err := o.store.CreateThread(req.Identity, synthesizeTitle(req.Prompt), "", "")
		if err != nil {
			return domain.Thread{}, nil, err
		}
		return thread, nil, nil
	}

	thread, history, err := o.store.GetThread(req.ThreadID)
	if err != nil {
		if code, ok := domain.CodeFrom(err); ok && code == domain.CodeNotFound {
			created, createErr := o.store.CreateThread(req.Identity, synthesizeTitle(req.Prompt), "", req.ThreadID)
			if createErr != nil {
				return domain.Thread{}, nil, createErr
			}
			return created, nil, nil
		}
		return domain.Thread{}, nil, err
	}
	if thread.Owner != req.Identity {
		return domain.Thread{}, nil, domain.E(domain.CodeForbidden, op,
			fmt.Sprintf("thread %s is not owned by the caller", req.ThreadID), nil)
	}
	return thread, history, nil
}

// runLoop drives the bounded model/tool-call cycle. Tool failures become
// observations for the next round; only model failures surface as errors.
func (o *Orchestrator) runLoop(
	ctx context.Context,
	logger *zap.Logger,
	sess toolSession,
	req domain.ChatRequest,
	history []domain.Message,
	usage *domain.Usage,
) (string, error) {
	const op = "orchestrator.runLoop"

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = o.systemPrompt
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(systemPrompt))
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, schema.UserMessage(req.Prompt))

	boundModel := o.model
	if tools := sess.Tools(); len(tools) > 0 {
		bound, err := o.model.WithTools(toolInfos(tools))
		if err != nil {
			return "", domain.Wrap(domain.CodeModelUnavailable, op, err)
		}
		boundModel = bound
	}

	modelLabel := o.modelName
	if req.Model != "" {
		modelLabel = req.Model
	}

	var lastText string
	for round := 1; round <= o.maxRounds; round++ {
		usage.Rounds = round

		modelCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
		modelStart := time.Now()
		resp, err := boundModel.Generate(modelCtx, messages)
		cancel()
		o.metrics.ObserveModelCall(modelLabel, time.Since(modelStart), err)
		if err != nil {
			logger.Warn("model call failed",
				telemetry.EventField(telemetry.EventModelFailure),
				telemetry.ModelField(modelLabel),
				zap.Error(err),
			)
			return "", domain.Wrap(domain.CodeModelUnavailable, op, err)
		}
		o.recordTokenUsage(modelLabel, resp, usage)

		if resp.Content != "" {
			lastText = resp.Content
		}
		messages = append(messages, resp)

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		for _, call := range resp.ToolCalls {
			observation := o.invokeTool(ctx, logger, sess, call, usage)
			messages = append(messages, schema.ToolMessage(observation, call.ID))
		}
	}

	usage.Truncated = true
	logger.Warn("round cap reached, returning partial result",
		telemetry.EventField(telemetry.EventChatTruncated),
		zap.Int("maxRounds", o.maxRounds),
	)
	if lastText == "" {
		lastText = "The request could not be completed within the allowed number of tool-calling rounds."
	}
	return lastText, nil
}

// invokeTool executes one model-requested call and renders the outcome as an
// observation string. Every failure mode feeds back into the loop.
func (o *Orchestrator) invokeTool(
	ctx context.Context,
	logger *zap.Logger,
	sess toolSession,
	call schema.ToolCall,
	usage *domain.Usage,
) string {
	usage.ToolCalls++

	args, err := decodeToolArguments(call.Function.Arguments)
	if err != nil {
		usage.ToolErrors++
		return fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, o.invokeTimeout)
	result, err := sess.Invoke(invokeCtx, call.Function.Name, args)
	cancel()
	if err != nil {
		usage.ToolErrors++
		logger.Warn("tool invocation failed",
			telemetry.EventField(telemetry.EventToolFailure),
			telemetry.ToolField(call.Function.Name),
			zap.Error(err),
		)
		return fmt.Sprintf("tool %s failed: %v", call.Function.Name, err)
	}
	if result.IsError {
		usage.ToolErrors++
		return fmt.Sprintf("tool %s reported an error: %s", call.Function.Name, result.Content)
	}
	return result.Content
}

func (o *Orchestrator) recordTokenUsage(modelLabel string, resp *schema.Message, usage *domain.Usage) {
	if resp == nil || resp.ResponseMeta == nil || resp.ResponseMeta.Usage == nil {
		return
	}
	meta := resp.ResponseMeta.Usage
	usage.PromptTokens += meta.PromptTokens
	usage.CompletionTokens += meta.CompletionTokens
	o.metrics.ObserveModelTokens(modelLabel, meta.PromptTokens, meta.CompletionTokens)
}

// toolSession is the slice of the pooled session the loop needs.
type toolSession interface {
	Tools() []domain.ToolDescriptor
	Invoke(ctx context.Context, tool string, args map[string]any) (domain.ToolResult, error)
}

func historyMessages(history []domain.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		text := msg.Text()
		if text == "" {
			continue
		}
		switch msg.Role {
		case domain.RoleUser:
			out = append(out, schema.UserMessage(text))
		case domain.RoleAssistant:
			out = append(out, schema.AssistantMessage(text, nil))
		case domain.RoleSystem:
			out = append(out, schema.SystemMessage(text))
		}
	}
	return out
}

func synthesizeTitle(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if len(title) > maxSynthesizedTitleLen {
		title = strings.TrimSpace(title[:maxSynthesizedTitleLen])
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
