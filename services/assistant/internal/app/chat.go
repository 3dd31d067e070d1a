package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"serpassist/pkg/ai"
	"serpassist/pkg/domain"
)

// ChatInput is one chat turn from the caller.
type ChatInput struct {
	ModuleCode     string
	CapabilityCode string
	ConversationID string
	Message        string
	ContextKind    string
	ContextID      int64
	ContextVars    map[string]string
	Attachments    []domain.Attachment
	Temperature    *float64
	MaxTokens      int
}

// ChatOutput is the completed turn: the persisted user and assistant
// messages plus usage stats.
type ChatOutput struct {
	ConversationID   string
	UserMessage      domain.Message
	AssistantMessage domain.Message
	TokensUsed       int
	ProcessingTimeMs int64
}

// Chat runs one full assistant turn: resolve module and capability, attach
// the conversation, persist the user message, call the provider and persist
// the reply. The user message is committed before the provider call, so a
// provider failure leaves the question in the thread.
func (a *App) Chat(ctx context.Context, identity Identity, input ChatInput) (ChatOutput, error) {
	turn, err := a.prepareTurn(ctx, identity, input)
	if err != nil {
		return ChatOutput{}, err
	}

	started := time.Now()
	result, err := a.provider.ChatCompletion(ctx, turn.modelCfg.Model, turn.providerMsgs, ai.ChatOptions{
		Temperature: &turn.modelCfg.Temperature,
		MaxTokens:   turn.modelCfg.MaxTokens,
	})
	elapsed := time.Since(started)
	if err != nil {
		return ChatOutput{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	assistantMsg, err := a.AppendAssistantMessage(ctx, turn.conversation.ID, result, elapsed, nil)
	if err != nil {
		return ChatOutput{}, err
	}
	if err := a.store.UpdateConversationTitle(ctx, turn.conversation.ID, turn.conversation.Title); err != nil {
		return ChatOutput{}, fmt.Errorf("touch conversation: %w", err)
	}
	return ChatOutput{
		ConversationID:   turn.conversation.ID,
		UserMessage:      turn.userMsg,
		AssistantMessage: assistantMsg,
		TokensUsed:       result.TokensUsed,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

// StreamFunc receives incremental response text during a streamed turn.
type StreamFunc func(delta string) error

// ChatStream runs one assistant turn with incremental delivery. The
// assembled reply is persisted once the stream completes.
func (a *App) ChatStream(ctx context.Context, identity Identity, input ChatInput, emit StreamFunc) (ChatOutput, error) {
	turn, err := a.prepareTurn(ctx, identity, input)
	if err != nil {
		return ChatOutput{}, err
	}

	started := time.Now()
	chunks, errs := a.provider.ChatCompletionStream(ctx, turn.modelCfg.Model, turn.providerMsgs, ai.ChatOptions{
		Temperature: &turn.modelCfg.Temperature,
		MaxTokens:   turn.modelCfg.MaxTokens,
	})
	var content strings.Builder
	tokensUsed := 0
	for chunk := range chunks {
		if chunk.Done {
			tokensUsed = chunk.TokensUsed
			continue
		}
		content.WriteString(chunk.Delta)
		if emit != nil {
			if err := emit(chunk.Delta); err != nil {
				// Drain so the producer goroutine is not left blocked on
				// the chunk channel.
				for range chunks {
				}
				<-errs
				return ChatOutput{}, fmt.Errorf("emit chunk: %w", err)
			}
		}
	}
	if err := <-errs; err != nil {
		return ChatOutput{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	elapsed := time.Since(started)

	result := ai.ChatResult{
		Content:    content.String(),
		Model:      turn.modelCfg.Model,
		TokensUsed: tokensUsed,
	}
	assistantMsg, err := a.AppendAssistantMessage(ctx, turn.conversation.ID, result, elapsed, nil)
	if err != nil {
		return ChatOutput{}, err
	}
	if err := a.store.UpdateConversationTitle(ctx, turn.conversation.ID, turn.conversation.Title); err != nil {
		return ChatOutput{}, fmt.Errorf("touch conversation: %w", err)
	}
	return ChatOutput{
		ConversationID:   turn.conversation.ID,
		UserMessage:      turn.userMsg,
		AssistantMessage: assistantMsg,
		TokensUsed:       tokensUsed,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

type preparedTurn struct {
	conversation domain.Conversation
	userMsg      domain.Message
	modelCfg     ModelConfig
	providerMsgs []ai.ChatMessage
}

// prepareTurn runs every step that precedes the provider call. After it
// returns, the user message is durable.
func (a *App) prepareTurn(ctx context.Context, identity Identity, input ChatInput) (preparedTurn, error) {
	if strings.TrimSpace(input.Message) == "" {
		return preparedTurn{}, fmt.Errorf("%w: message required", ErrInvalidInput)
	}
	module, err := a.ResolveModule(ctx, input.ModuleCode)
	if err != nil {
		return preparedTurn{}, err
	}
	decision := a.access.CheckAccess(identity, module.Code)
	if !decision.Allowed {
		if decision.Reason != "" {
			return preparedTurn{}, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Reason)
		}
		return preparedTurn{}, ErrAccessDenied
	}
	capability, err := a.ResolveCapability(ctx, module.Code, input.CapabilityCode)
	if err != nil {
		return preparedTurn{}, err
	}
	if !identity.HasPermission(capability.RequiredPermission) {
		return preparedTurn{}, fmt.Errorf("%w: missing permission %s", ErrAccessDenied, capability.RequiredPermission)
	}

	conversation, err := a.GetOrCreateConversation(ctx, identity, input.ConversationID, NewConversationInput{
		ModuleCode:     module.Code,
		CapabilityCode: capability.Code,
		ContextKind:    input.ContextKind,
		ContextID:      input.ContextID,
	})
	if err != nil {
		return preparedTurn{}, err
	}

	userMsg, err := a.AppendUserMessage(ctx, conversation.ID, input.Message, input.Attachments)
	if err != nil {
		return preparedTurn{}, err
	}

	systemPrompt, skipSystem := BuildSystemMessage(capability, promptVars(input))
	history, err := a.historyForPrompt(ctx, conversation.ID, userMsg.ID)
	if err != nil {
		return preparedTurn{}, err
	}
	modelCfg, err := ResolveModelConfig(capability, input.Temperature, input.MaxTokens)
	if err != nil {
		return preparedTurn{}, err
	}
	return preparedTurn{
		conversation: conversation,
		userMsg:      userMsg,
		modelCfg:     modelCfg,
		providerMsgs: formatForProvider(systemPrompt, skipSystem, history, userMsg.Content),
	}, nil
}

// promptVars merges the caller's template variables with the turn's business
// context, so templates can reference context_type and context_id without
// the caller repeating them.
func promptVars(input ChatInput) map[string]string {
	vars := make(map[string]string, len(input.ContextVars)+2)
	for name, value := range input.ContextVars {
		vars[name] = value
	}
	if input.ContextKind != "" {
		vars["context_type"] = input.ContextKind
	}
	if input.ContextID != 0 {
		vars["context_id"] = strconv.FormatInt(input.ContextID, 10)
	}
	return vars
}
