package app

import (
	"context"
	"errors"
	"testing"

	"serpassist/pkg/domain"
)

func TestCreateConversationAutoTitle(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, testIdentity(), NewConversationInput{ModuleCode: "crm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "CRM Chat" {
		t.Fatalf("title: %q", conv.Title)
	}

	withCtx, err := a.CreateConversation(ctx, testIdentity(), NewConversationInput{
		ModuleCode: "crm", ContextKind: "customer", ContextID: 42,
	})
	if err != nil {
		t.Fatalf("create with context: %v", err)
	}
	if withCtx.Title != "CRM Chat about customer" {
		t.Fatalf("title: %q", withCtx.Title)
	}
}

func TestAutoTitleUsesModuleCode(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	_ = st.SaveModule(ctx, domain.Module{
		ID: "m7", Code: "hrm", Name: "Human Resource Management", Enabled: true,
	})
	_ = st.SaveCapability(ctx, domain.Capability{
		ID: "c16", ModuleCode: "hrm", Code: "chat", Kind: domain.CapabilityChat,
		Name: "HR Chat", Enabled: true, DefaultModel: "gemini-2.0-flash",
	})

	// the title derives from the upper-cased code, not the display name
	conv, err := a.CreateConversation(ctx, testIdentity(), NewConversationInput{
		ModuleCode: "hrm", ContextKind: "employee", ContextID: 5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "HRM Chat about employee" {
		t.Fatalf("title: %q", conv.Title)
	}
}

func TestCreateConversationRejectsHalfContext(t *testing.T) {
	a, _, _ := newTestApp(t)
	_, err := a.CreateConversation(context.Background(), testIdentity(), NewConversationInput{
		ModuleCode: "crm", ContextKind: "customer",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestArchiveIsIdempotent(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	me := testIdentity()

	conv, err := a.CreateConversation(ctx, me, NewConversationInput{ModuleCode: "crm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.ArchiveConversation(ctx, me, conv.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := a.ArchiveConversation(ctx, me, conv.ID); err != nil {
		t.Fatalf("second archive: %v", err)
	}
	got, err := a.GetConversation(ctx, me, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ConversationArchived {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestListConversationsDefaultsToActive(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	me := testIdentity()

	active, err := a.CreateConversation(ctx, me, NewConversationInput{ModuleCode: "crm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	archived, err := a.CreateConversation(ctx, me, NewConversationInput{ModuleCode: "crm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.ArchiveConversation(ctx, me, archived.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	list, err := a.ListConversations(ctx, me, ListConversationsInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != active.ID {
		t.Fatalf("default listing should hold only the active thread: %+v", list)
	}

	archivedList, err := a.ListConversations(ctx, me, ListConversationsInput{Status: domain.ConversationArchived})
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(archivedList) != 1 || archivedList[0].ID != archived.ID {
		t.Fatalf("explicit status filter broken: %+v", archivedList)
	}
}

func TestDeleteHidesFromListing(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	me := testIdentity()

	conv, err := a.CreateConversation(ctx, me, NewConversationInput{ModuleCode: "crm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.DeleteConversation(ctx, me, conv.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := a.GetConversation(ctx, me, conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	list, err := a.ListConversations(ctx, me, ListConversationsInput{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("deleted conversation listed: %+v", list)
	}
}

func TestConversationOwnershipEnforced(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	conv, err := a.CreateConversation(ctx, testIdentity(), NewConversationInput{ModuleCode: "crm"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stranger := Identity{UserID: 99, TenantID: 1}
	if _, err := a.GetConversation(ctx, stranger, conv.ID); !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	otherTenant := Identity{UserID: 7, TenantID: 2}
	if _, err := a.GetConversation(ctx, otherTenant, conv.ID); !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected cross-tenant forbidden, got %v", err)
	}
}

func TestListConversationsByContext(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()
	me := testIdentity()

	for i := 0; i < 2; i++ {
		if _, err := a.CreateConversation(ctx, me, NewConversationInput{
			ModuleCode: "crm", ContextKind: "customer", ContextID: 42,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := a.CreateConversation(ctx, me, NewConversationInput{
		ModuleCode: "crm", ContextKind: "customer", ContextID: 77,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := a.ListConversationsByContext(ctx, me, "customer", 42)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 threads about customer 42, got %d", len(list))
	}
}

func TestPurgeConversationRemovesHistory(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	me := testIdentity()

	out, err := a.Chat(ctx, me, ChatInput{ModuleCode: "crm", Message: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	removed, err := a.PurgeConversation(ctx, me, out.ConversationID)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed messages, got %d", removed)
	}
	msgs, _ := st.ListMessages(ctx, out.ConversationID, 10, 0)
	if len(msgs) != 0 {
		t.Fatalf("history survived purge: %+v", msgs)
	}
	if _, found, _ := st.GetConversation(ctx, out.ConversationID); found {
		t.Fatal("purged conversation still visible")
	}
}

func TestPatchMessageMetadataOwnership(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	me := testIdentity()

	out, err := a.Chat(ctx, me, ChatInput{ModuleCode: "crm", Message: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if err := a.PatchMessageMetadata(ctx, me, out.AssistantMessage.ID, map[string]any{"rating": 4}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	msg, _, _ := st.GetMessage(ctx, out.AssistantMessage.ID)
	if msg.Metadata["rating"] != 4 {
		t.Fatalf("metadata: %+v", msg.Metadata)
	}

	stranger := Identity{UserID: 99, TenantID: 1}
	if err := a.PatchMessageMetadata(ctx, stranger, out.AssistantMessage.ID, map[string]any{"rating": 1}); !errors.Is(err, ErrConversationForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
