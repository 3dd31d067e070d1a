package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"serpassist/internal/util"
	"serpassist/pkg/ai"
	"serpassist/pkg/domain"
	"serpassist/pkg/queue"
	"serpassist/pkg/store"
	"serpassist/services/indexer/internal/sourceclient"
)

const (
	defaultEmbeddingModel = "text-embedding-004"
	defaultEmbeddingDim   = 768
	defaultChunkSize      = 1400
	defaultChunkOverlap   = 200
	defaultBatchSize      = 64
	defaultConcurrency    = 4

	embedTaskType = "RETRIEVAL_DOCUMENT"
)

// TaskQueue publishes scheduled jobs for asynchronous processing.
type TaskQueue interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Config holds runtime configuration.
type Config struct {
	Store    store.Store
	Provider ai.Client
	Queue    TaskQueue
	Sources  sourceclient.Client

	EmbeddingModel string
	EmbeddingDim   int
	ChunkSize      int
	ChunkOverlap   int
	BatchSize      int
	Concurrency    int
}

// App runs the embeddings indexing pipeline: it schedules jobs, and as a
// queue consumer fetches source documents, chunks them, embeds the chunks in
// batches and replaces the stored chunks per source.
type App struct {
	store        store.Store
	provider     ai.Client
	queue        TaskQueue
	sources      sourceclient.Client
	embedModel   string
	embedDim     int
	chunkSize    int
	chunkOverlap int
	batchSize    int
	concurrency  int
}

// New validates dependencies and fills defaults.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("ai provider required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source client required")
	}
	a := &App{
		store:        cfg.Store,
		provider:     cfg.Provider,
		queue:        cfg.Queue,
		sources:      cfg.Sources,
		embedModel:   cfg.EmbeddingModel,
		embedDim:     cfg.EmbeddingDim,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		batchSize:    cfg.BatchSize,
		concurrency:  cfg.Concurrency,
	}
	if a.embedModel == "" {
		a.embedModel = defaultEmbeddingModel
	}
	if a.embedDim <= 0 {
		a.embedDim = defaultEmbeddingDim
	}
	if a.chunkSize <= 0 {
		a.chunkSize = defaultChunkSize
	}
	if a.chunkOverlap < 0 || a.chunkOverlap >= a.chunkSize {
		a.chunkOverlap = defaultChunkOverlap
	}
	if a.batchSize <= 0 || a.batchSize > 100 {
		a.batchSize = defaultBatchSize
	}
	if a.concurrency <= 0 {
		a.concurrency = defaultConcurrency
	}
	return a, nil
}

// ScheduleJob creates a pending job record and publishes it to the queue.
func (a *App) ScheduleJob(ctx context.Context, tenantID int64, moduleCode string, kind domain.JobKind, sourceKind string) (domain.EmbeddingsJob, error) {
	moduleCode = strings.TrimSpace(moduleCode)
	if moduleCode == "" {
		return domain.EmbeddingsJob{}, fmt.Errorf("moduleCode required")
	}
	if tenantID <= 0 {
		return domain.EmbeddingsJob{}, fmt.Errorf("tenantId required")
	}
	switch kind {
	case domain.JobBootstrap, domain.JobIncremental, domain.JobReindex:
	case "":
		kind = domain.JobIncremental
	default:
		return domain.EmbeddingsJob{}, fmt.Errorf("unknown job kind: %s", kind)
	}
	now := time.Now().UTC()
	job := domain.EmbeddingsJob{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ModuleCode: moduleCode,
		Kind:       kind,
		SourceKind: strings.TrimSpace(sourceKind),
		Status:     domain.JobPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateJob(ctx, job); err != nil {
		return domain.EmbeddingsJob{}, fmt.Errorf("create job: %w", err)
	}
	if a.queue != nil {
		task := queue.Task{
			JobID:      job.ID,
			TenantID:   job.TenantID,
			ModuleCode: job.ModuleCode,
			Kind:       string(job.Kind),
			SourceKind: job.SourceKind,
		}
		if err := a.queue.Enqueue(ctx, task); err != nil {
			a.failJob(ctx, job, fmt.Sprintf("enqueue: %v", err))
			return domain.EmbeddingsJob{}, fmt.Errorf("enqueue job: %w", err)
		}
	}
	return job, nil
}

// GetJob returns a job by ID.
func (a *App) GetJob(ctx context.Context, id string) (domain.EmbeddingsJob, bool, error) {
	return a.store.GetJob(ctx, id)
}

// ListJobs returns a tenant's jobs, newest first.
func (a *App) ListJobs(ctx context.Context, tenantID int64, limit, offset int) ([]domain.EmbeddingsJob, error) {
	if limit <= 0 {
		limit = 30
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return a.store.ListJobsByTenant(ctx, tenantID, limit, offset)
}

// ListJobsByStatus returns jobs in a given status, optionally filtered by
// module. Used by operational tooling to find stuck runs.
func (a *App) ListJobsByStatus(ctx context.Context, status domain.JobStatus, moduleCode string) ([]domain.EmbeddingsJob, error) {
	return a.store.ListJobsByStatus(ctx, status, moduleCode)
}

// Process is the queue handler for one indexing task. Individual source
// failures increment the failed counter without aborting the run; only
// fetch/setup failures fail the whole job.
func (a *App) Process(ctx context.Context, task queue.Task) error {
	logger := util.LoggerFromContext(ctx).With("jobId", task.JobID, "module", task.ModuleCode)
	job, ok, err := a.store.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if !ok {
		logger.Warn("task references unknown job, dropping")
		return nil
	}
	if job.Terminal() {
		logger.Info("job already terminal, skipping", "status", job.Status)
		return nil
	}

	now := time.Now().UTC()
	job.Status = domain.JobProcessing
	job.StartedAt = &now
	job.UpdatedAt = now
	if err := a.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	docs, err := a.sources.FetchDocuments(ctx, task.TenantID, task.ModuleCode, task.SourceKind)
	if err != nil {
		a.failJob(ctx, job, fmt.Sprintf("fetch documents: %v", err))
		return err
	}
	job.TotalItems = len(docs)
	job.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("record total: %w", err)
	}
	if len(docs) == 0 {
		a.completeJob(ctx, job, "")
		return nil
	}

	var mu sync.Mutex
	var failures []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, doc := range docs {
		d := doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			indexErr := a.indexDocument(gctx, task.TenantID, task.ModuleCode, d)
			mu.Lock()
			defer mu.Unlock()
			if indexErr != nil {
				job.FailedItems++
				failures = append(failures, fmt.Sprintf("%s/%d: %v", d.SourceKind, d.SourceID, indexErr))
				logger.Warn("source failed", "sourceKind", d.SourceKind, "sourceId", d.SourceID, "err", indexErr)
			} else {
				job.ProcessedItems++
			}
			job.UpdatedAt = time.Now().UTC()
			if err := a.store.UpdateJob(gctx, job); err != nil {
				logger.Warn("progress update failed", "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Only context cancellation reaches here; progress stays as recorded.
		a.failJob(ctx, job, fmt.Sprintf("canceled: %v", err))
		return err
	}

	if job.ProcessedItems == 0 && job.FailedItems > 0 {
		a.failJob(ctx, job, summarizeFailures(failures))
		return fmt.Errorf("all %d sources failed", job.FailedItems)
	}
	a.completeJob(ctx, job, summarizeFailures(failures))
	return nil
}

func (a *App) indexDocument(ctx context.Context, tenantID int64, moduleCode string, doc sourceclient.Document) error {
	parts := chunkText(normalizeText(doc.Body), a.chunkSize, a.chunkOverlap)
	if len(parts) == 0 {
		// Source no longer has indexable text; drop any stale chunks.
		_, err := a.store.DeleteChunksBySource(ctx, tenantID, moduleCode, doc.SourceKind, doc.SourceID)
		return err
	}
	now := time.Now().UTC()
	chunks := make([]domain.DocumentChunk, 0, len(parts))
	for start := 0; start < len(parts); start += a.batchSize {
		end := start + a.batchSize
		if end > len(parts) {
			end = len(parts)
		}
		batch := parts[start:end]
		embeddings, err := a.provider.CreateEmbeddingsBatch(ctx, a.embedModel, batch, embedTaskType)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
		}
		for i, embedding := range embeddings {
			if len(embedding) != a.embedDim {
				return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), a.embedDim)
			}
			meta := map[string]string{}
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			if doc.Title != "" {
				meta["title"] = doc.Title
			}
			chunks = append(chunks, domain.DocumentChunk{
				TenantID:   tenantID,
				ModuleCode: moduleCode,
				SourceKind: doc.SourceKind,
				SourceID:   doc.SourceID,
				ChunkIndex: start + i,
				Content:    batch[i],
				Embedding:  embedding,
				TokenCount: estimateTokens(batch[i]),
				Metadata:   meta,
				IndexedAt:  now,
			})
		}
	}
	return a.store.ReplaceChunks(ctx, tenantID, moduleCode, doc.SourceKind, doc.SourceID, chunks)
}

func (a *App) failJob(ctx context.Context, job domain.EmbeddingsJob, msg string) {
	now := time.Now().UTC()
	job.Status = domain.JobFailed
	job.ErrorMessage = msg
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := a.store.UpdateJob(ctx, job); err != nil {
		util.LoggerFromContext(ctx).Error("failed to record job failure", "jobId", job.ID, "err", err)
	}
}

func (a *App) completeJob(ctx context.Context, job domain.EmbeddingsJob, msg string) {
	now := time.Now().UTC()
	job.Status = domain.JobCompleted
	job.ErrorMessage = msg
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := a.store.UpdateJob(ctx, job); err != nil {
		util.LoggerFromContext(ctx).Error("failed to record job completion", "jobId", job.ID, "err", err)
	}
}

func summarizeFailures(failures []string) string {
	if len(failures) == 0 {
		return ""
	}
	const maxListed = 5
	listed := failures
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	summary := strings.Join(listed, "; ")
	if len(failures) > maxListed {
		summary = fmt.Sprintf("%s; and %d more", summary, len(failures)-maxListed)
	}
	return summary
}
