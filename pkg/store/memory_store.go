package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"serpassist/pkg/domain"
)

// MemoryStore keeps all assistant data in-process. It backs tests and local
// single-node runs; production uses GormStore.
type MemoryStore struct {
	mu            sync.RWMutex
	modules       map[string]domain.Module       // key: module code
	capabilities  map[string]domain.Capability   // key: moduleCode + "/" + code
	capOrder      []string                       // insertion order of capability keys
	conversations map[string]domain.Conversation // key: conversation ID
	messages      map[string][]domain.Message    // key: conversation ID
	chunks        map[string][]domain.DocumentChunk
	jobs          map[string]domain.EmbeddingsJob
	jobOrder      []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modules:       make(map[string]domain.Module),
		capabilities:  make(map[string]domain.Capability),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		chunks:        make(map[string][]domain.DocumentChunk),
		jobs:          make(map[string]domain.EmbeddingsJob),
	}
}

var _ Store = (*MemoryStore)(nil)

func capabilityKey(moduleCode, code string) string {
	return moduleCode + "/" + code
}

func chunkSourceKey(tenantID int64, moduleCode, sourceKind string, sourceID int64) string {
	return fmt.Sprintf("%d/%s/%s/%d", tenantID, moduleCode, sourceKind, sourceID)
}

// SaveModule stores or replaces a module record keyed by code.
func (m *MemoryStore) SaveModule(_ context.Context, mod domain.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[mod.Code] = mod
	return nil
}

// GetModuleByCode retrieves a module by its unique code.
func (m *MemoryStore) GetModuleByCode(_ context.Context, code string) (domain.Module, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[code]
	return mod, ok, nil
}

// ListModules returns modules ordered by code.
func (m *MemoryStore) ListModules(_ context.Context, enabledOnly bool) ([]domain.Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Module, 0, len(m.modules))
	for _, mod := range m.modules {
		if enabledOnly && !mod.Enabled {
			continue
		}
		res = append(res, mod)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Code < res[j].Code })
	return res, nil
}

// SaveCapability stores or replaces a capability and tracks insertion order.
func (m *MemoryStore) SaveCapability(_ context.Context, c domain.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := capabilityKey(c.ModuleCode, c.Code)
	if _, exists := m.capabilities[key]; !exists {
		m.capOrder = append(m.capOrder, key)
	}
	m.capabilities[key] = c
	return nil
}

// GetCapability retrieves a capability by module and capability code.
func (m *MemoryStore) GetCapability(_ context.Context, moduleCode, code string) (domain.Capability, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.capabilities[capabilityKey(moduleCode, code)]
	return c, ok, nil
}

// ListCapabilitiesByModule returns a module's capabilities in insertion
// order, which mirrors the id ordering the SQL store uses.
func (m *MemoryStore) ListCapabilitiesByModule(_ context.Context, moduleCode string, enabledOnly bool) ([]domain.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Capability, 0)
	for _, key := range m.capOrder {
		c, ok := m.capabilities[key]
		if !ok || c.ModuleCode != moduleCode {
			continue
		}
		if enabledOnly && !c.Enabled {
			continue
		}
		res = append(res, c)
	}
	return res, nil
}

// ListCapabilitiesByKind returns enabled capabilities of one kind in
// insertion order.
func (m *MemoryStore) ListCapabilitiesByKind(_ context.Context, kind domain.CapabilityKind) ([]domain.Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Capability, 0)
	for _, key := range m.capOrder {
		c, ok := m.capabilities[key]
		if !ok || c.Kind != kind || !c.Enabled {
			continue
		}
		res = append(res, c)
	}
	return res, nil
}

// CreateConversation records a new conversation.
func (m *MemoryStore) CreateConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conversations[c.ID]; exists {
		return fmt.Errorf("conversation %s already exists", c.ID)
	}
	m.conversations[c.ID] = c
	return nil
}

// GetConversation returns a conversation by ID, hiding soft-deleted rows.
func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok || c.DeletedAt != nil {
		return domain.Conversation{}, false, nil
	}
	return c, true, nil
}

// ListConversationsByUser returns a user's conversations, most recently
// updated first.
func (m *MemoryStore) ListConversationsByUser(_ context.Context, userID, tenantID int64, moduleCode string, status domain.ConversationStatus, limit, offset int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.UserID != userID || c.TenantID != tenantID || c.DeletedAt != nil {
			continue
		}
		if moduleCode != "" && c.ModuleCode != moduleCode {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return paginate(res, limit, offset), nil
}

// ListConversationsByContext returns all threads about one business entity,
// newest first.
func (m *MemoryStore) ListConversationsByContext(_ context.Context, tenantID int64, contextKind string, contextID int64) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.TenantID != tenantID || c.DeletedAt != nil {
			continue
		}
		if c.ContextKind != contextKind || c.ContextID != contextID {
			continue
		}
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// UpdateConversationTitle sets a new title.
func (m *MemoryStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	m.conversations[id] = c
	return nil
}

// ArchiveConversation marks a conversation archived.
func (m *MemoryStore) ArchiveConversation(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return false, nil
	}
	c.Status = domain.ConversationArchived
	c.UpdatedAt = time.Now().UTC()
	m.conversations[id] = c
	return true, nil
}

// SoftDeleteConversation stamps deleted_at so the row disappears from reads.
func (m *MemoryStore) SoftDeleteConversation(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	c.UpdatedAt = now
	m.conversations[id] = c
	return true, nil
}

// CreateMessage appends a message to its conversation.
func (m *MemoryStore) CreateMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

// GetMessage scans conversations for a message by ID.
func (m *MemoryStore) GetMessage(_ context.Context, id string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				return msg, true, nil
			}
		}
	}
	return domain.Message{}, false, nil
}

// ListMessages returns messages in chronological order with pagination.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := append([]domain.Message(nil), m.messages[conversationID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return paginate(msgs, limit, offset), nil
}

// RecentMessages returns the trailing max messages in chronological order.
func (m *MemoryStore) RecentMessages(_ context.Context, conversationID string, max int) ([]domain.Message, error) {
	if max <= 0 {
		return []domain.Message{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := append([]domain.Message(nil), m.messages[conversationID]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs, nil
}

// PatchMessageMetadata replaces a message's metadata. Content stays immutable.
func (m *MemoryStore) PatchMessageMetadata(_ context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, msgs := range m.messages {
		for i, msg := range msgs {
			if msg.ID == id {
				msg.Metadata = metadata
				m.messages[convID][i] = msg
				return nil
			}
		}
	}
	return nil
}

// DeleteMessagesByConversation drops a conversation's message history.
func (m *MemoryStore) DeleteMessagesByConversation(_ context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := int64(len(m.messages[conversationID]))
	delete(m.messages, conversationID)
	return count, nil
}

// ReplaceChunks swaps all chunks for a source atomically.
func (m *MemoryStore) ReplaceChunks(_ context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64, chunks []domain.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := chunkSourceKey(tenantID, moduleCode, sourceKind, sourceID)
	if len(chunks) == 0 {
		delete(m.chunks, key)
		return nil
	}
	m.chunks[key] = append([]domain.DocumentChunk(nil), chunks...)
	return nil
}

// ListChunksBySource returns a source's chunks in chunk-index order.
func (m *MemoryStore) ListChunksBySource(_ context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64) ([]domain.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := chunkSourceKey(tenantID, moduleCode, sourceKind, sourceID)
	res := append([]domain.DocumentChunk(nil), m.chunks[key]...)
	sort.Slice(res, func(i, j int) bool { return res[i].ChunkIndex < res[j].ChunkIndex })
	return res, nil
}

// DeleteChunksBySource removes all chunks derived from one source entity.
func (m *MemoryStore) DeleteChunksBySource(_ context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := chunkSourceKey(tenantID, moduleCode, sourceKind, sourceID)
	count := int64(len(m.chunks[key]))
	delete(m.chunks, key)
	return count, nil
}

// SearchChunks ranks chunks by cosine similarity against the query vector.
// The score matches the SQL store's mapping of cosine distance into [0,1].
func (m *MemoryStore) SearchChunks(_ context.Context, tenantID int64, moduleCode string, embedding []float32, limit int, minScore float64) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	scored := make([]domain.ScoredChunk, 0)
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.TenantID != tenantID || chunk.ModuleCode != moduleCode || len(chunk.Embedding) == 0 {
				continue
			}
			sim, ok := cosineSimilarity(embedding, chunk.Embedding)
			if !ok {
				continue
			}
			score := (1 + sim) / 2
			if score < minScore {
				continue
			}
			scored = append(scored, domain.ScoredChunk{Chunk: chunk, Score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// CreateJob records a new embeddings job and tracks insertion order.
func (m *MemoryStore) CreateJob(_ context.Context, j domain.EmbeddingsJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	m.jobs[j.ID] = j
	m.jobOrder = append(m.jobOrder, j.ID)
	return nil
}

// GetJob retrieves a job by ID.
func (m *MemoryStore) GetJob(_ context.Context, id string) (domain.EmbeddingsJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok, nil
}

// UpdateJob persists status and counters. Terminal jobs never move back to
// pending or processing.
func (m *MemoryStore) UpdateJob(_ context.Context, j domain.EmbeddingsJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[j.ID]
	if !ok {
		return nil
	}
	if current.Terminal() && !j.Terminal() {
		return nil
	}
	j.CreatedAt = current.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	m.jobs[j.ID] = j
	return nil
}

// ListJobsByTenant returns a tenant's jobs, newest first.
func (m *MemoryStore) ListJobsByTenant(_ context.Context, tenantID int64, limit, offset int) ([]domain.EmbeddingsJob, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.EmbeddingsJob, 0)
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j, ok := m.jobs[m.jobOrder[i]]
		if ok && j.TenantID == tenantID {
			res = append(res, j)
		}
	}
	return paginate(res, limit, offset), nil
}

// ListJobsByStatus returns jobs in one status, optionally filtered by module.
func (m *MemoryStore) ListJobsByStatus(_ context.Context, status domain.JobStatus, moduleCode string) ([]domain.EmbeddingsJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.EmbeddingsJob, 0)
	for i := len(m.jobOrder) - 1; i >= 0; i-- {
		j, ok := m.jobs[m.jobOrder[i]]
		if !ok || j.Status != status {
			continue
		}
		if moduleCode != "" && j.ModuleCode != moduleCode {
			continue
		}
		res = append(res, j)
	}
	return res, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
