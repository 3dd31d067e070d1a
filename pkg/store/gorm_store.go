package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"serpassist/pkg/domain"
)

const migrateLockID int64 = 84428442

const (
	defaultEmbeddingDim      = 768
	canonicalEmbeddingDimEnv = "SERPASSIST_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&ModuleModel{}, &CapabilityModel{}, &ConversationModel{},
			&MessageModel{}, &ChunkModel{}, &JobModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure conversation foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveModule creates or updates a module record by code.
func (s *GormStore) SaveModule(ctx context.Context, m domain.Module) error {
	model := moduleToModel(m)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "icon", "enabled", "config", "updated_at"}),
	}).Create(&model).Error
}

// GetModuleByCode looks up a module by its unique code.
func (s *GormStore) GetModuleByCode(ctx context.Context, code string) (domain.Module, bool, error) {
	var model ModuleModel
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Module{}, false, nil
		}
		return domain.Module{}, false, err
	}
	return moduleFromModel(model), true, nil
}

// ListModules returns modules ordered by code.
func (s *GormStore) ListModules(ctx context.Context, enabledOnly bool) ([]domain.Module, error) {
	tx := s.db.WithContext(ctx).Order("code ASC")
	if enabledOnly {
		tx = tx.Where("enabled = ?", true)
	}
	var models []ModuleModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Module, 0, len(models))
	for _, m := range models {
		res = append(res, moduleFromModel(m))
	}
	return res, nil
}

// SaveCapability creates or updates a capability by (module code, code).
func (s *GormStore) SaveCapability(ctx context.Context, c domain.Capability) error {
	model := capabilityToModel(c)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "module_code"}, {Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "name", "description", "enabled", "system_prompt", "prompt_template",
			"functions", "default_model", "default_temperature", "default_max_tokens",
			"required_permission", "updated_at",
		}),
	}).Create(&model).Error
}

// GetCapability looks up a capability by module code and capability code.
func (s *GormStore) GetCapability(ctx context.Context, moduleCode, code string) (domain.Capability, bool, error) {
	var model CapabilityModel
	if err := s.db.WithContext(ctx).
		Where("module_code = ? AND code = ?", moduleCode, code).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Capability{}, false, nil
		}
		return domain.Capability{}, false, err
	}
	return capabilityFromModel(model), true, nil
}

// ListCapabilitiesByModule returns a module's capabilities ordered by id for
// deterministic fallback selection.
func (s *GormStore) ListCapabilitiesByModule(ctx context.Context, moduleCode string, enabledOnly bool) ([]domain.Capability, error) {
	tx := s.db.WithContext(ctx).Where("module_code = ?", moduleCode).Order("id ASC")
	if enabledOnly {
		tx = tx.Where("enabled = ?", true)
	}
	var models []CapabilityModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Capability, 0, len(models))
	for _, m := range models {
		res = append(res, capabilityFromModel(m))
	}
	return res, nil
}

// ListCapabilitiesByKind returns enabled capabilities of one kind ordered by id.
func (s *GormStore) ListCapabilitiesByKind(ctx context.Context, kind domain.CapabilityKind) ([]domain.Capability, error) {
	var models []CapabilityModel
	if err := s.db.WithContext(ctx).
		Where("kind = ? AND enabled = ?", string(kind), true).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Capability, 0, len(models))
	for _, m := range models {
		res = append(res, capabilityFromModel(m))
	}
	return res, nil
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetConversation returns one conversation by ID, excluding soft-deleted rows.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByUser returns a user's conversations, most recently
// updated first.
func (s *GormStore) ListConversationsByUser(ctx context.Context, userID, tenantID int64, moduleCode string, status domain.ConversationStatus, limit, offset int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	tx := s.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND deleted_at IS NULL", userID, tenantID)
	if moduleCode != "" {
		tx = tx.Where("module_code = ?", moduleCode)
	}
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var models []ConversationModel
	if err := tx.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// ListConversationsByContext returns all threads about one business entity,
// most recently created first.
func (s *GormStore) ListConversationsByContext(ctx context.Context, tenantID int64, contextKind string, contextID int64) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND context_kind = ? AND context_id = ? AND deleted_at IS NULL",
			tenantID, contextKind, contextID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// UpdateConversationTitle sets a new title and refreshes updated_at.
func (s *GormStore) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return s.db.WithContext(ctx).Model(&ConversationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":      title,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ArchiveConversation marks a conversation archived. Archiving an
// already-archived conversation still reports success.
func (s *GormStore) ArchiveConversation(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ConversationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(domain.ConversationArchived),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SoftDeleteConversation stamps deleted_at. Re-deleting reports success.
func (s *GormStore) SoftDeleteConversation(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ConversationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deleted_at": time.Now().UTC(),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateMessage appends a message.
func (s *GormStore) CreateMessage(ctx context.Context, m domain.Message) error {
	model := messageToModel(m)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetMessage returns one message by ID.
func (s *GormStore) GetMessage(ctx context.Context, id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns messages in chronological order with pagination.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// RecentMessages returns the max most recent messages in chronological order
// (newest first from the DB, then reversed).
func (s *GormStore) RecentMessages(ctx context.Context, conversationID string, max int) ([]domain.Message, error) {
	if max <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(max).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// PatchMessageMetadata replaces a message's metadata map. Content is immutable.
func (s *GormStore) PatchMessageMetadata(ctx context.Context, id string, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.db.WithContext(ctx).Model(&MessageModel{}).
		Where("id = ?", id).
		Update("metadata", datatypes.JSON(raw)).Error
}

// DeleteMessagesByConversation bulk-deletes a purged conversation's messages.
func (s *GormStore) DeleteMessagesByConversation(ctx context.Context, conversationID string) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&MessageModel{}, "conversation_id = ?", conversationID)
	return res.RowsAffected, res.Error
}

// ReplaceChunks swaps all chunks for a source in one transaction.
func (s *GormStore) ReplaceChunks(ctx context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64, chunks []domain.DocumentChunk) error {
	for _, chunk := range chunks {
		if err := s.validateEmbeddingDim(chunk.Embedding); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{},
			"tenant_id = ? AND module_code = ? AND source_kind = ? AND source_id = ?",
			tenantID, moduleCode, sourceKind, sourceID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			models = append(models, chunkToModel(chunk))
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListChunksBySource returns a source's chunks in chunk-index order.
func (s *GormStore) ListChunksBySource(ctx context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64) ([]domain.DocumentChunk, error) {
	var models []ChunkModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND module_code = ? AND source_kind = ? AND source_id = ?",
			tenantID, moduleCode, sourceKind, sourceID).
		Order("chunk_index ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.DocumentChunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

// DeleteChunksBySource removes all chunks derived from one source entity.
func (s *GormStore) DeleteChunksBySource(ctx context.Context, tenantID int64, moduleCode, sourceKind string, sourceID int64) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&ChunkModel{},
		"tenant_id = ? AND module_code = ? AND source_kind = ? AND source_id = ?",
		tenantID, moduleCode, sourceKind, sourceID)
	return res.RowsAffected, res.Error
}

// SearchChunks finds similar chunks by cosine distance. The score maps the
// pgvector distance into [0,1]: 1 - distance/2.
func (s *GormStore) SearchChunks(ctx context.Context, tenantID int64, moduleCode string, embedding []float32, limit int, minScore float64) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	type scoredRow struct {
		ChunkModel
		Score float64
	}
	var rows []scoredRow
	if err := s.db.WithContext(ctx).Model(&ChunkModel{}).
		Select("*, 1 - (embedding <=> ?) / 2 AS score", vec).
		Where("tenant_id = ? AND module_code = ? AND embedding IS NOT NULL", tenantID, moduleCode).
		Where("1 - (embedding <=> ?) / 2 >= ?", vec, minScore).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]domain.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		results = append(results, domain.ScoredChunk{
			Chunk: chunkFromModel(row.ChunkModel),
			Score: row.Score,
		})
	}
	return results, nil
}

// CreateJob records a new embeddings job.
func (s *GormStore) CreateJob(ctx context.Context, j domain.EmbeddingsJob) error {
	model := jobToModel(j)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetJob returns one job by ID.
func (s *GormStore) GetJob(ctx context.Context, id string) (domain.EmbeddingsJob, bool, error) {
	var model JobModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.EmbeddingsJob{}, false, nil
		}
		return domain.EmbeddingsJob{}, false, err
	}
	return jobFromModel(model), true, nil
}

// UpdateJob persists status and counters. The update is guarded so
// completed/failed rows cannot move back to pending or processing.
func (s *GormStore) UpdateJob(ctx context.Context, j domain.EmbeddingsJob) error {
	model := jobToModel(j)
	model.UpdatedAt = time.Now().UTC()
	tx := s.db.WithContext(ctx).Model(&JobModel{}).Where("id = ?", j.ID)
	if j.Status == domain.JobPending || j.Status == domain.JobProcessing {
		tx = tx.Where("status NOT IN ?", []string{string(domain.JobCompleted), string(domain.JobFailed)})
	}
	return tx.Updates(map[string]any{
		"status":          model.Status,
		"total_items":     model.TotalItems,
		"processed_items": model.ProcessedItems,
		"failed_items":    model.FailedItems,
		"error_message":   model.ErrorMessage,
		"started_at":      model.StartedAt,
		"completed_at":    model.CompletedAt,
		"updated_at":      model.UpdatedAt,
	}).Error
}

// ListJobsByTenant returns a tenant's jobs, newest first, with pagination.
func (s *GormStore) ListJobsByTenant(ctx context.Context, tenantID int64, limit, offset int) ([]domain.EmbeddingsJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []JobModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.EmbeddingsJob, 0, len(models))
	for _, model := range models {
		jobs = append(jobs, jobFromModel(model))
	}
	return jobs, nil
}

// ListJobsByStatus returns jobs in one status, optionally per module.
func (s *GormStore) ListJobsByStatus(ctx context.Context, status domain.JobStatus, moduleCode string) ([]domain.EmbeddingsJob, error) {
	tx := s.db.WithContext(ctx).Where("status = ?", string(status))
	if moduleCode != "" {
		tx = tx.Where("module_code = ?", moduleCode)
	}
	var models []JobModel
	if err := tx.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]domain.EmbeddingsJob, 0, len(models))
	for _, model := range models {
		jobs = append(jobs, jobFromModel(model))
	}
	return jobs, nil
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}

func marshalJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func unmarshalJSON[T any](raw datatypes.JSON) T {
	var out T
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func moduleToModel(m domain.Module) ModuleModel {
	return ModuleModel{
		ID:          m.ID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Enabled:     m.Enabled,
		Config:      marshalJSON(m.Config),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func moduleFromModel(m ModuleModel) domain.Module {
	return domain.Module{
		ID:          m.ID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Enabled:     m.Enabled,
		Config:      unmarshalJSON[map[string]any](m.Config),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func capabilityToModel(c domain.Capability) CapabilityModel {
	return CapabilityModel{
		ID:                 c.ID,
		ModuleCode:         c.ModuleCode,
		Code:               c.Code,
		Kind:               string(c.Kind),
		Name:               c.Name,
		Description:        c.Description,
		Enabled:            c.Enabled,
		SystemPrompt:       c.SystemPrompt,
		PromptTemplate:     c.PromptTemplate,
		Functions:          marshalJSON(c.Functions),
		DefaultModel:       c.DefaultModel,
		DefaultTemperature: c.DefaultTemperature,
		DefaultMaxTokens:   c.DefaultMaxTokens,
		RequiredPermission: c.RequiredPermission,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func capabilityFromModel(c CapabilityModel) domain.Capability {
	return domain.Capability{
		ID:                 c.ID,
		ModuleCode:         c.ModuleCode,
		Code:               c.Code,
		Kind:               domain.CapabilityKind(c.Kind),
		Name:               c.Name,
		Description:        c.Description,
		Enabled:            c.Enabled,
		SystemPrompt:       c.SystemPrompt,
		PromptTemplate:     c.PromptTemplate,
		Functions:          unmarshalJSON[[]domain.FunctionSpec](c.Functions),
		DefaultModel:       c.DefaultModel,
		DefaultTemperature: c.DefaultTemperature,
		DefaultMaxTokens:   c.DefaultMaxTokens,
		RequiredPermission: c.RequiredPermission,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	model := ConversationModel{
		ID:             c.ID,
		UserID:         c.UserID,
		TenantID:       c.TenantID,
		ModuleCode:     c.ModuleCode,
		CapabilityCode: c.CapabilityCode,
		Title:          c.Title,
		Status:         string(c.Status),
		Metadata:       marshalJSON(c.Metadata),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		DeletedAt:      c.DeletedAt,
	}
	if c.HasContext() {
		kind := c.ContextKind
		id := c.ContextID
		model.ContextKind = &kind
		model.ContextID = &id
	}
	return model
}

func conversationFromModel(c ConversationModel) domain.Conversation {
	conv := domain.Conversation{
		ID:             c.ID,
		UserID:         c.UserID,
		TenantID:       c.TenantID,
		ModuleCode:     c.ModuleCode,
		CapabilityCode: c.CapabilityCode,
		Title:          c.Title,
		Status:         domain.ConversationStatus(c.Status),
		Metadata:       unmarshalJSON[map[string]any](c.Metadata),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		DeletedAt:      c.DeletedAt,
	}
	if c.ContextKind != nil {
		conv.ContextKind = *c.ContextKind
	}
	if c.ContextID != nil {
		conv.ContextID = *c.ContextID
	}
	return conv
}

func messageToModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Role:             string(m.Role),
		Content:          m.Content,
		ContentType:      string(m.ContentType),
		Attachments:      marshalJSON(m.Attachments),
		FunctionCall:     marshalJSON(m.FunctionCall),
		TokensUsed:       m.TokensUsed,
		ModelUsed:        m.ModelUsed,
		ProcessingTimeMs: m.ProcessingTimeMs,
		Sources:          marshalJSON(m.Sources),
		Metadata:         marshalJSON(m.Metadata),
		CreatedAt:        m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Role:             domain.MessageRole(m.Role),
		Content:          m.Content,
		ContentType:      domain.ContentType(m.ContentType),
		Attachments:      unmarshalJSON[[]domain.Attachment](m.Attachments),
		FunctionCall:     unmarshalJSON[*domain.FunctionCall](m.FunctionCall),
		TokensUsed:       m.TokensUsed,
		ModelUsed:        m.ModelUsed,
		ProcessingTimeMs: m.ProcessingTimeMs,
		Sources:          unmarshalJSON[[]domain.Source](m.Sources),
		Metadata:         unmarshalJSON[map[string]any](m.Metadata),
		CreatedAt:        m.CreatedAt,
	}
}

func chunkToModel(c domain.DocumentChunk) ChunkModel {
	model := ChunkModel{
		ID:         c.ID,
		TenantID:   c.TenantID,
		ModuleCode: c.ModuleCode,
		SourceKind: c.SourceKind,
		SourceID:   c.SourceID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Metadata:   marshalJSON(c.Metadata),
		TokenCount: c.TokenCount,
		IndexedAt:  c.IndexedAt,
	}
	if len(c.Embedding) > 0 {
		vec := pgvector.NewVector(c.Embedding)
		model.Embedding = &vec
	}
	return model
}

func chunkFromModel(c ChunkModel) domain.DocumentChunk {
	chunk := domain.DocumentChunk{
		ID:         c.ID,
		TenantID:   c.TenantID,
		ModuleCode: c.ModuleCode,
		SourceKind: c.SourceKind,
		SourceID:   c.SourceID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Metadata:   unmarshalJSON[map[string]string](c.Metadata),
		TokenCount: c.TokenCount,
		IndexedAt:  c.IndexedAt,
	}
	if c.Embedding != nil {
		chunk.Embedding = c.Embedding.Slice()
	}
	return chunk
}

func jobToModel(j domain.EmbeddingsJob) JobModel {
	return JobModel{
		ID:             j.ID,
		TenantID:       j.TenantID,
		ModuleCode:     j.ModuleCode,
		Kind:           string(j.Kind),
		SourceKind:     j.SourceKind,
		Status:         string(j.Status),
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		FailedItems:    j.FailedItems,
		ErrorMessage:   j.ErrorMessage,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func jobFromModel(j JobModel) domain.EmbeddingsJob {
	return domain.EmbeddingsJob{
		ID:             j.ID,
		TenantID:       j.TenantID,
		ModuleCode:     j.ModuleCode,
		Kind:           domain.JobKind(j.Kind),
		SourceKind:     j.SourceKind,
		Status:         domain.JobStatus(j.Status),
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		FailedItems:    j.FailedItems,
		ErrorMessage:   j.ErrorMessage,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
