package domain

import "time"

type CapabilityKind string

const (
	CapabilityChat         CapabilityKind = "chat"
	CapabilityInlineAssist CapabilityKind = "inline_assist"
	CapabilityAutoAction   CapabilityKind = "auto_action"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleFunction  MessageRole = "function"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentFile  ContentType = "file"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type JobKind string

const (
	JobBootstrap   JobKind = "bootstrap"
	JobIncremental JobKind = "incremental"
	JobReindex     JobKind = "reindex"
)

// Module is a top-level business feature area (crm, ptm, sales) that groups
// AI capabilities. Codes are unique and immutable after creation.
type Module struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Enabled     bool           `json:"enabled"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// FunctionSpec describes one invokable function/tool exposed to the model.
// Parameters follows the JSON-schema shape the provider expects; its contents
// are not validated here.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Capability is one AI-driven behavior within a module, keyed by
// (module code, capability code).
type Capability struct {
	ID                 string         `json:"id"`
	ModuleCode         string         `json:"moduleCode"`
	Code               string         `json:"code"`
	Kind               CapabilityKind `json:"kind"`
	Name               string         `json:"name"`
	Description        string         `json:"description,omitempty"`
	Enabled            bool           `json:"enabled"`
	SystemPrompt       string         `json:"systemPrompt,omitempty"`
	PromptTemplate     string         `json:"promptTemplate,omitempty"`
	Functions          []FunctionSpec `json:"functions,omitempty"`
	DefaultModel       string         `json:"defaultModel"`
	DefaultTemperature float64        `json:"defaultTemperature"`
	DefaultMaxTokens   int            `json:"defaultMaxTokens"`
	RequiredPermission string         `json:"requiredPermission,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Conversation is one chat thread owned by a user within a tenant. The
// optional context reference (kind + id) ties it to a business entity such as
// a customer; kind and id are either both set or both empty.
type Conversation struct {
	ID             string             `json:"id"`
	UserID         int64              `json:"userId"`
	TenantID       int64              `json:"tenantId"`
	ModuleCode     string             `json:"moduleCode"`
	CapabilityCode string             `json:"capabilityCode"`
	ContextKind    string             `json:"contextKind,omitempty"`
	ContextID      int64              `json:"contextId,omitempty"`
	Title          string             `json:"title"`
	Status         ConversationStatus `json:"status"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	DeletedAt      *time.Time         `json:"-"`
}

// IsActive reports whether the conversation is live: active status and not
// soft-deleted.
func (c Conversation) IsActive() bool {
	return c.Status == ConversationActive && c.DeletedAt == nil
}

// HasContext reports whether a business context reference is attached.
func (c Conversation) HasContext() bool {
	return c.ContextKind != "" && c.ContextID != 0
}

// Attachment describes a file attached to a message. The payload itself lives
// in object storage; this is only the descriptor.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// Source is a retrieval source surfaced to support an assistant answer.
type Source struct {
	Kind           string   `json:"kind"`
	ID             int64    `json:"id"`
	Title          string   `json:"title"`
	RelevanceScore float64  `json:"relevanceScore"`
	ChunkIDs       []string `json:"chunkIds,omitempty"`
}

// FunctionCall captures the function/tool invocation carried by a message.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is one immutable turn within a conversation. Only Metadata may be
// patched after creation.
type Message struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Role             MessageRole    `json:"role"`
	Content          string         `json:"content"`
	ContentType      ContentType    `json:"contentType"`
	Attachments      []Attachment   `json:"attachments,omitempty"`
	FunctionCall     *FunctionCall  `json:"functionCall,omitempty"`
	TokensUsed       int            `json:"tokensUsed"`
	ModelUsed        string         `json:"modelUsed,omitempty"`
	ProcessingTimeMs int64          `json:"processingTimeMs,omitempty"`
	Sources          []Source       `json:"sources,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// DocumentChunk is a unit of source text with its embedding vector, scoped to
// (tenant, module, source kind, source id, chunk index).
type DocumentChunk struct {
	ID         string            `json:"id"`
	TenantID   int64             `json:"tenantId"`
	ModuleCode string            `json:"moduleCode"`
	SourceKind string            `json:"sourceKind"`
	SourceID   int64             `json:"sourceId"`
	ChunkIndex int               `json:"chunkIndex"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"-"`
	TokenCount int               `json:"tokenCount"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IndexedAt  time.Time         `json:"indexedAt"`
}

// ScoredChunk pairs a chunk with its similarity score from vector search.
type ScoredChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}

// EmbeddingsJob tracks one asynchronous indexing run. Status transitions are
// monotonic: pending -> processing -> completed|failed.
type EmbeddingsJob struct {
	ID             string     `json:"id"`
	TenantID       int64      `json:"tenantId"`
	ModuleCode     string     `json:"moduleCode"`
	Kind           JobKind    `json:"kind"`
	SourceKind     string     `json:"sourceKind,omitempty"`
	Status         JobStatus  `json:"status"`
	TotalItems     int        `json:"totalItems"`
	ProcessedItems int        `json:"processedItems"`
	FailedItems    int        `json:"failedItems"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Terminal reports whether the job reached a final status.
func (j EmbeddingsJob) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
