package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"serpassist/internal/util"
	"serpassist/pkg/domain"
)

// NewConversationInput describes a conversation to open.
type NewConversationInput struct {
	ModuleCode     string
	CapabilityCode string
	Title          string
	ContextKind    string
	ContextID      int64
	Metadata       map[string]any
}

// CreateConversation opens a new thread for the caller. An empty title gets
// an auto-generated one from the module and context.
func (a *App) CreateConversation(ctx context.Context, identity Identity, input NewConversationInput) (domain.Conversation, error) {
	module, err := a.ResolveModule(ctx, input.ModuleCode)
	if err != nil {
		return domain.Conversation{}, err
	}
	capability, err := a.ResolveCapability(ctx, module.Code, input.CapabilityCode)
	if err != nil {
		return domain.Conversation{}, err
	}
	if (input.ContextKind == "") != (input.ContextID == 0) {
		return domain.Conversation{}, fmt.Errorf("%w: contextKind and contextId must be set together", ErrInvalidInput)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = autoTitle(module, input.ContextKind)
	}
	now := time.Now().UTC()
	conversation := domain.Conversation{
		ID:             util.NewID(),
		UserID:         identity.UserID,
		TenantID:       identity.TenantID,
		ModuleCode:     module.Code,
		CapabilityCode: capability.Code,
		ContextKind:    input.ContextKind,
		ContextID:      input.ContextID,
		Title:          title,
		Status:         domain.ConversationActive,
		Metadata:       input.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.store.CreateConversation(ctx, conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// autoTitle derives a title from the module's code, not its display name:
// "CRM Chat about customer" rather than "Customer Relationship Management
// Chat about customer".
func autoTitle(module domain.Module, contextKind string) string {
	code := strings.ToUpper(module.Code)
	if contextKind != "" {
		return fmt.Sprintf("%s Chat about %s", code, contextKind)
	}
	return fmt.Sprintf("%s Chat", code)
}

// conversationReusePolicy decides whether an existing conversation can carry
// a new chat turn. Ownership is the only gate: an owned thread is returned
// unchanged even when the request routes through a different module,
// capability or context. A missing or foreign conversation is silently
// replaced with a fresh one instead of failing the chat.
func (a *App) conversationReusePolicy(conversation domain.Conversation, found bool, identity Identity) bool {
	if !found {
		return false
	}
	return conversation.UserID == identity.UserID && conversation.TenantID == identity.TenantID
}

// GetOrCreateConversation reuses the referenced conversation when the reuse
// policy allows it, otherwise opens a new one.
func (a *App) GetOrCreateConversation(ctx context.Context, identity Identity, conversationID string, input NewConversationInput) (domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		conversation, found, err := a.store.GetConversation(ctx, conversationID)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		if a.conversationReusePolicy(conversation, found, identity) {
			return conversation, nil
		}
	}
	return a.CreateConversation(ctx, identity, input)
}

// GetConversation returns an owned conversation.
func (a *App) GetConversation(ctx context.Context, identity Identity, id string) (domain.Conversation, error) {
	conversation, found, err := a.store.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	if !found {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if conversation.UserID != identity.UserID || conversation.TenantID != identity.TenantID {
		return domain.Conversation{}, ErrConversationForbidden
	}
	return conversation, nil
}

// ListConversationsInput filters the caller's conversation listing.
type ListConversationsInput struct {
	ModuleCode string
	Status     domain.ConversationStatus
	Limit      int
	Offset     int
}

// ListConversations returns the caller's threads, most recently updated
// first. Without an explicit status filter only active threads are listed;
// soft-deleted conversations never appear.
func (a *App) ListConversations(ctx context.Context, identity Identity, input ListConversationsInput) ([]domain.Conversation, error) {
	if input.Status == "" {
		input.Status = domain.ConversationActive
	}
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 30
	}
	if input.Offset < 0 {
		input.Offset = 0
	}
	items, err := a.store.ListConversationsByUser(ctx, identity.UserID, identity.TenantID, input.ModuleCode, input.Status, input.Limit, input.Offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return items, nil
}

// ListConversationsByContext returns every thread about one business entity
// within the caller's tenant.
func (a *App) ListConversationsByContext(ctx context.Context, identity Identity, contextKind string, contextID int64) ([]domain.Conversation, error) {
	contextKind = strings.TrimSpace(contextKind)
	if contextKind == "" || contextID == 0 {
		return nil, fmt.Errorf("%w: contextKind and contextId required", ErrInvalidInput)
	}
	items, err := a.store.ListConversationsByContext(ctx, identity.TenantID, contextKind, contextID)
	if err != nil {
		return nil, fmt.Errorf("list conversations by context: %w", err)
	}
	return items, nil
}

// UpdateConversationTitle renames an owned conversation.
func (a *App) UpdateConversationTitle(ctx context.Context, identity Identity, id, title string) (domain.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Conversation{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	conversation, err := a.GetConversation(ctx, identity, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if err := a.store.UpdateConversationTitle(ctx, conversation.ID, title); err != nil {
		return domain.Conversation{}, fmt.Errorf("update title: %w", err)
	}
	conversation.Title = title
	conversation.UpdatedAt = time.Now().UTC()
	return conversation, nil
}

// ArchiveConversation marks an owned conversation archived. Archiving twice
// is a no-op success.
func (a *App) ArchiveConversation(ctx context.Context, identity Identity, id string) error {
	conversation, err := a.GetConversation(ctx, identity, id)
	if err != nil {
		return err
	}
	if _, err := a.store.ArchiveConversation(ctx, conversation.ID); err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	return nil
}

// DeleteConversation soft-deletes an owned conversation. Message rows stay
// in place for audit until a purge removes them.
func (a *App) DeleteConversation(ctx context.Context, identity Identity, id string) error {
	conversation, err := a.GetConversation(ctx, identity, id)
	if err != nil {
		return err
	}
	if _, err := a.store.SoftDeleteConversation(ctx, conversation.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
