package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ModuleModel struct {
	ID          string `gorm:"primaryKey"`
	Code        string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	Description string
	Icon        string
	Enabled     bool           `gorm:"not null;default:true"`
	Config      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

type CapabilityModel struct {
	ID                 string `gorm:"primaryKey"`
	ModuleCode         string `gorm:"not null;uniqueIndex:idx_capability_module_code,priority:1"`
	Code               string `gorm:"not null;uniqueIndex:idx_capability_module_code,priority:2"`
	Kind               string `gorm:"not null;index"`
	Name               string `gorm:"not null"`
	Description        string
	Enabled            bool `gorm:"not null;default:true"`
	SystemPrompt       string `gorm:"type:text"`
	PromptTemplate     string `gorm:"type:text"`
	Functions          datatypes.JSON `gorm:"type:jsonb"`
	DefaultModel       string         `gorm:"not null"`
	DefaultTemperature float64        `gorm:"not null"`
	DefaultMaxTokens   int            `gorm:"not null"`
	RequiredPermission string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

type ConversationModel struct {
	ID             string `gorm:"primaryKey"`
	UserID         int64  `gorm:"not null;index:idx_conversation_user_tenant,priority:1"`
	TenantID       int64  `gorm:"not null;index:idx_conversation_user_tenant,priority:2;index:idx_conversation_context,priority:1"`
	ModuleCode     string `gorm:"not null;index"`
	CapabilityCode string `gorm:"not null"`
	ContextKind    *string `gorm:"index:idx_conversation_context,priority:2"`
	ContextID      *int64  `gorm:"index:idx_conversation_context,priority:3"`
	Title          string  `gorm:"not null"`
	Status         string  `gorm:"not null;index"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null;index"`
	DeletedAt      *time.Time     `gorm:"index"`
}

type MessageModel struct {
	ID               string `gorm:"primaryKey"`
	ConversationID   string `gorm:"not null;index:idx_message_conversation_created,priority:1"`
	Role             string `gorm:"not null"`
	Content          string `gorm:"type:text;not null"`
	ContentType      string `gorm:"not null"`
	Attachments      datatypes.JSON `gorm:"type:jsonb"`
	FunctionCall     datatypes.JSON `gorm:"type:jsonb"`
	TokensUsed       int            `gorm:"not null;default:0"`
	ModelUsed        string
	ProcessingTimeMs int64
	Sources          datatypes.JSON `gorm:"type:jsonb"`
	Metadata         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_message_conversation_created,priority:2"`
}

type ChunkModel struct {
	ID         string `gorm:"primaryKey"`
	TenantID   int64  `gorm:"not null;uniqueIndex:idx_chunk_source,priority:1"`
	ModuleCode string `gorm:"not null;uniqueIndex:idx_chunk_source,priority:2"`
	SourceKind string `gorm:"not null;uniqueIndex:idx_chunk_source,priority:3"`
	SourceID   int64  `gorm:"not null;uniqueIndex:idx_chunk_source,priority:4"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunk_source,priority:5"`
	Content    string `gorm:"type:text;not null"`
	Metadata   datatypes.JSON   `gorm:"type:jsonb"`
	Embedding  *pgvector.Vector `gorm:"type:vector(768)"`
	TokenCount int              `gorm:"not null;default:0"`
	IndexedAt  time.Time        `gorm:"not null"`
}

type JobModel struct {
	ID             string `gorm:"primaryKey"`
	TenantID       int64  `gorm:"not null;index"`
	ModuleCode     string `gorm:"not null;index"`
	Kind           string `gorm:"not null"`
	SourceKind     string
	Status         string `gorm:"not null;index"`
	TotalItems     int    `gorm:"not null;default:0"`
	ProcessedItems int    `gorm:"not null;default:0"`
	FailedItems    int    `gorm:"not null;default:0"`
	ErrorMessage   string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;index"`
	UpdatedAt      time.Time `gorm:"not null"`
}
