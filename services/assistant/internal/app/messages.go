package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"serpassist/internal/util"
	"serpassist/pkg/ai"
	"serpassist/pkg/domain"
	"serpassist/pkg/storage"
)

// AppendUserMessage persists one user turn. The write commits before any
// provider call so the turn survives downstream failures.
func (a *App) AppendUserMessage(ctx context.Context, conversationID, content string, attachments []domain.Attachment) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: message content required", ErrInvalidInput)
	}
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		ContentType:    domain.ContentText,
		Attachments:    attachments,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.CreateMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("save user message: %w", err)
	}
	return msg, nil
}

// AppendAssistantMessage persists one assistant turn with its usage stats.
func (a *App) AppendAssistantMessage(ctx context.Context, conversationID string, result ai.ChatResult, elapsed time.Duration, sources []domain.Source) (domain.Message, error) {
	msg := domain.Message{
		ID:               util.NewID(),
		ConversationID:   conversationID,
		Role:             domain.RoleAssistant,
		Content:          result.Content,
		ContentType:      domain.ContentText,
		TokensUsed:       result.TokensUsed,
		ModelUsed:        result.Model,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Sources:          sources,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.CreateMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("save assistant message: %w", err)
	}
	return msg, nil
}

// ListMessages returns an owned conversation's messages in chronological
// order.
func (a *App) ListMessages(ctx context.Context, identity Identity, conversationID string, limit, offset int) ([]domain.Message, error) {
	conversation, err := a.GetConversation(ctx, identity, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	items, err := a.store.ListMessages(ctx, conversation.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return items, nil
}

// historyForPrompt loads the trailing window of a conversation for the
// provider, excluding the message with excludeID (the turn being answered,
// which is passed separately).
func (a *App) historyForPrompt(ctx context.Context, conversationID, excludeID string) ([]domain.Message, error) {
	// fetch one extra so the excluded turn does not shrink the window
	recent, err := a.store.RecentMessages(ctx, conversationID, a.historyLimit+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := make([]domain.Message, 0, len(recent))
	for _, msg := range recent {
		if msg.ID == excludeID {
			continue
		}
		history = append(history, msg)
	}
	if len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}
	return history, nil
}

// formatForProvider maps stored turns onto provider chat messages. Every
// stored role maps one-to-one, and function-call payloads travel with their
// turn; nothing in the history is dropped.
func formatForProvider(systemPrompt string, skipSystem bool, history []domain.Message, userContent string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	if !skipSystem {
		messages = append(messages, ai.ChatMessage{Role: ai.RoleSystem, Content: systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, ai.ChatMessage{
			Role:         providerRole(msg.Role),
			Content:      msg.Content,
			FunctionCall: providerFunctionCall(msg.FunctionCall),
		})
	}
	messages = append(messages, ai.ChatMessage{Role: ai.RoleUser, Content: userContent})
	return messages
}

func providerRole(role domain.MessageRole) string {
	switch role {
	case domain.RoleAssistant:
		return ai.RoleAssistant
	case domain.RoleSystem:
		return ai.RoleSystem
	case domain.RoleFunction:
		return ai.RoleFunction
	default:
		return ai.RoleUser
	}
}

func providerFunctionCall(call *domain.FunctionCall) *ai.FunctionCall {
	if call == nil {
		return nil
	}
	return &ai.FunctionCall{Name: call.Name, Arguments: call.Arguments}
}

// PatchMessageMetadata updates a message's metadata (feedback, ratings).
// The message content itself never changes.
func (a *App) PatchMessageMetadata(ctx context.Context, identity Identity, messageID string, metadata map[string]any) error {
	message, found, err := a.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !found {
		return ErrMessageNotFound
	}
	if _, err := a.GetConversation(ctx, identity, message.ConversationID); err != nil {
		return err
	}
	if err := a.store.PatchMessageMetadata(ctx, messageID, metadata); err != nil {
		return fmt.Errorf("patch metadata: %w", err)
	}
	return nil
}

// PurgeConversation soft-deletes an owned conversation and hard-deletes its
// message history in one pass. It returns the number of removed messages.
func (a *App) PurgeConversation(ctx context.Context, identity Identity, conversationID string) (int64, error) {
	conversation, err := a.GetConversation(ctx, identity, conversationID)
	if err != nil {
		return 0, err
	}
	if _, err := a.store.SoftDeleteConversation(ctx, conversation.ID); err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	removed, err := a.store.DeleteMessagesByConversation(ctx, conversation.ID)
	if err != nil {
		return removed, fmt.Errorf("purge messages: %w", err)
	}
	if a.objects != nil {
		prefix := storage.ConversationPrefix(identity.TenantID, conversation.ID)
		if err := a.objects.DeletePrefix(ctx, prefix); err != nil {
			return removed, fmt.Errorf("purge attachments: %w", err)
		}
	}
	return removed, nil
}
