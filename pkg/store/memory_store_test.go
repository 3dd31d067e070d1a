package store

import (
	"context"
	"testing"
	"time"

	"serpassist/pkg/domain"
)

func TestListModulesEnabledOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.SaveModule(ctx, domain.Module{ID: "m1", Code: "crm", Name: "CRM", Enabled: true})
	_ = s.SaveModule(ctx, domain.Module{ID: "m2", Code: "sales", Name: "Sales", Enabled: false})

	all, err := s.ListModules(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(all))
	}
	enabled, err := s.ListModules(ctx, true)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Code != "crm" {
		t.Fatalf("expected only crm, got %+v", enabled)
	}
}

func TestCapabilityOrderIsStable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.SaveCapability(ctx, domain.Capability{ID: "c1", ModuleCode: "crm", Code: "chat", Kind: domain.CapabilityChat, Enabled: true})
	_ = s.SaveCapability(ctx, domain.Capability{ID: "c2", ModuleCode: "crm", Code: "summarize", Kind: domain.CapabilityChat, Enabled: true})
	_ = s.SaveCapability(ctx, domain.Capability{ID: "c3", ModuleCode: "crm", Code: "draft", Kind: domain.CapabilityInlineAssist, Enabled: true})

	caps, err := s.ListCapabilitiesByModule(ctx, "crm", true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(caps) != 3 || caps[0].Code != "chat" || caps[1].Code != "summarize" {
		t.Fatalf("unexpected order: %+v", caps)
	}
	chatCaps, err := s.ListCapabilitiesByKind(ctx, domain.CapabilityChat)
	if err != nil {
		t.Fatalf("list by kind: %v", err)
	}
	if len(chatCaps) != 2 {
		t.Fatalf("expected 2 chat capabilities, got %d", len(chatCaps))
	}
}

func TestSoftDeleteHidesConversation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := domain.Conversation{
		ID: "conv1", UserID: 7, TenantID: 1, ModuleCode: "crm",
		CapabilityCode: "chat", Title: "CRM Chat", Status: domain.ConversationActive,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("create: %v", err)
	}
	ok, err := s.SoftDeleteConversation(ctx, "conv1")
	if err != nil || !ok {
		t.Fatalf("soft delete: ok=%v err=%v", ok, err)
	}
	if _, found, _ := s.GetConversation(ctx, "conv1"); found {
		t.Fatal("soft-deleted conversation still visible")
	}
	list, err := s.ListConversationsByUser(ctx, 7, 1, "", "", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("soft-deleted conversation in listing: %+v", list)
	}
	// repeat delete is still a success
	ok, err = s.SoftDeleteConversation(ctx, "conv1")
	if err != nil || !ok {
		t.Fatalf("repeat soft delete: ok=%v err=%v", ok, err)
	}
}

func TestRecentMessagesChronological(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		msg := domain.Message{
			ID:             string(rune('a' + i)),
			ConversationID: "conv1",
			Role:           domain.RoleUser,
			Content:        "msg",
			ContentType:    domain.ContentText,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
	recent, err := s.RecentMessages(ctx, "conv1", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(recent))
	}
	if recent[0].ID != "c" || recent[2].ID != "e" {
		t.Fatalf("wrong window or order: %+v", recent)
	}
	if !recent[0].CreatedAt.Before(recent[1].CreatedAt) {
		t.Fatal("messages not chronological")
	}
}

func TestPatchMessageMetadataKeepsContent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateMessage(ctx, domain.Message{
		ID: "m1", ConversationID: "conv1", Role: domain.RoleAssistant,
		Content: "hello", ContentType: domain.ContentText, CreatedAt: time.Now().UTC(),
	})
	if err := s.PatchMessageMetadata(ctx, "m1", map[string]any{"rating": 5}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	msg, ok, _ := s.GetMessage(ctx, "m1")
	if !ok {
		t.Fatal("message not found")
	}
	if msg.Content != "hello" {
		t.Fatalf("content changed: %q", msg.Content)
	}
	if msg.Metadata["rating"] != 5 {
		t.Fatalf("metadata not patched: %+v", msg.Metadata)
	}
}

func TestReplaceAndSearchChunks(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	chunks := []domain.DocumentChunk{
		{ID: "ch1", TenantID: 1, ModuleCode: "crm", SourceKind: "customer", SourceID: 10, ChunkIndex: 0, Content: "alpha", Embedding: []float32{1, 0, 0}},
		{ID: "ch2", TenantID: 1, ModuleCode: "crm", SourceKind: "customer", SourceID: 10, ChunkIndex: 1, Content: "beta", Embedding: []float32{0, 1, 0}},
	}
	if err := s.ReplaceChunks(ctx, 1, "crm", "customer", 10, chunks); err != nil {
		t.Fatalf("replace: %v", err)
	}
	results, err := s.SearchChunks(ctx, 1, "crm", []float32{1, 0, 0}, 5, 0.6)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "ch1" {
		t.Fatalf("expected ch1 only, got %+v", results)
	}
	if results[0].Score <= 0.99 {
		t.Fatalf("identical vector should score ~1, got %f", results[0].Score)
	}

	// replacing with an empty set clears the source
	if err := s.ReplaceChunks(ctx, 1, "crm", "customer", 10, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	left, _ := s.ListChunksBySource(ctx, 1, "crm", "customer", 10)
	if len(left) != 0 {
		t.Fatalf("chunks not cleared: %+v", left)
	}
}

func TestJobStatusIsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := domain.EmbeddingsJob{
		ID: "job1", TenantID: 1, ModuleCode: "crm", Kind: domain.JobBootstrap,
		Status: domain.JobPending, CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	job.Status = domain.JobCompleted
	job.ProcessedItems = 12
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job.Status = domain.JobProcessing
	if err := s.UpdateJob(ctx, job); err != nil {
		t.Fatalf("regress: %v", err)
	}
	got, ok, _ := s.GetJob(ctx, "job1")
	if !ok {
		t.Fatal("job not found")
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("terminal job regressed to %s", got.Status)
	}
	if got.ProcessedItems != 12 {
		t.Fatalf("counters lost: %+v", got)
	}
}
