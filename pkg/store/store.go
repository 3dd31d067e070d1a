package store

import (
	"context"

	"serpassist/pkg/domain"
)

// ModuleStore persists AI modules. Modules are seeded administratively and
// read-heavy at runtime.
type ModuleStore interface {
	SaveModule(ctx context.Context, m domain.Module) error
	GetModuleByCode(ctx context.Context, code string) (domain.Module, bool, error)
	ListModules(ctx context.Context, enabledOnly bool) ([]domain.Module, error)
}

// CapabilityStore persists AI capabilities keyed by (module code, code).
type CapabilityStore interface {
	SaveCapability(ctx context.Context, c domain.Capability) error
	GetCapability(ctx context.Context, moduleCode, code string) (domain.Capability, bool, error)
	ListCapabilitiesByModule(ctx context.Context, moduleCode string, enabledOnly bool) ([]domain.Capability, error)
	ListCapabilitiesByKind(ctx context.Context, kind domain.CapabilityKind) ([]domain.Capability, error)
}

// ConversationStore persists chat threads. Reads exclude soft-deleted rows.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	ListConversationsByUser(ctx context.Context, userID, tenantID int64, moduleCode string, status domain.ConversationStatus, limit, offset int) ([]domain.Conversation, error)
	ListConversationsByContext(ctx context.Context, tenantID int64, contextKind string, contextID int64) ([]domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	ArchiveConversation(ctx context.Context, id string) (bool, error)
	SoftDeleteConversation(ctx context.Context, id string) (bool, error)
}

// MessageStore persists conversation turns append-only.
type MessageStore interface {
	CreateMessage(ctx context.Context, m domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, bool, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error)
	// RecentMessages returns the max most recent messages in chronological
	// order: fetched newest-first then re-reversed, never a forward slice.
	RecentMessages(ctx context.Context, conversationID string, max int) ([]domain.Message, error)
	PatchMessageMetadata(ctx context.Context, id string, metadata map[string]any) error
	DeleteMessagesByConversation(ctx context.Context, conversationID string) (int64, error)
}

// ChunkStore persists document chunks with embeddings for retrieval.
type ChunkStore interface {
	ReplaceChunks(ctx context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64, chunks []domain.DocumentChunk) error
	ListChunksBySource(ctx context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64) ([]domain.DocumentChunk, error)
	DeleteChunksBySource(ctx context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64) (int64, error)
	SearchChunks(ctx context.Context, tenantID int64, moduleCode string, embedding []float32, limit int, minScore float64) ([]domain.ScoredChunk, error)
}

// JobStore persists embeddings jobs and their progress counters.
type JobStore interface {
	CreateJob(ctx context.Context, j domain.EmbeddingsJob) error
	GetJob(ctx context.Context, id string) (domain.EmbeddingsJob, bool, error)
	UpdateJob(ctx context.Context, j domain.EmbeddingsJob) error
	ListJobsByTenant(ctx context.Context, tenantID int64, limit, offset int) ([]domain.EmbeddingsJob, error)
	ListJobsByStatus(ctx context.Context, status domain.JobStatus, moduleCode string) ([]domain.EmbeddingsJob, error)
}

// Store combines the per-entity persistence ports.
type Store interface {
	ModuleStore
	CapabilityStore
	ConversationStore
	MessageStore
	ChunkStore
	JobStore
}
