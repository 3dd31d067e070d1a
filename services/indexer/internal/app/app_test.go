package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"serpassist/pkg/ai"
	"serpassist/pkg/domain"
	"serpassist/pkg/queue"
	"serpassist/pkg/store"
	"serpassist/services/indexer/internal/sourceclient"
)

type fakeEmbedder struct {
	dim        int
	batchCalls int
	failTexts  map[string]bool
}

func (f *fakeEmbedder) ChatCompletion(context.Context, string, []ai.ChatMessage, ai.ChatOptions) (ai.ChatResult, error) {
	return ai.ChatResult{}, errors.New("not implemented")
}

func (f *fakeEmbedder) ChatCompletionStream(context.Context, string, []ai.ChatMessage, ai.ChatOptions) (<-chan ai.StreamChunk, <-chan error) {
	chunks := make(chan ai.StreamChunk)
	errs := make(chan error, 1)
	close(chunks)
	errs <- errors.New("not implemented")
	return chunks, errs
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, model, text, taskType string) ([]float32, error) {
	out, err := f.CreateEmbeddingsBatch(ctx, model, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) CreateEmbeddingsBatch(_ context.Context, _ string, texts []string, _ string) ([][]float32, error) {
	f.batchCalls++
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if f.failTexts[text] {
			return nil, errors.New("embedding backend unavailable")
		}
		vec := make([]float32, f.dim)
		for i := range vec {
			vec[i] = float32(len(text)%7) / 7
		}
		out = append(out, vec)
	}
	return out, nil
}

func (f *fakeEmbedder) CountTokens(_ context.Context, _ string, text string) (int, error) {
	return len(text) / 4, nil
}

type fakeSources struct {
	docs []sourceclient.Document
	err  error
}

func (f *fakeSources) FetchDocuments(context.Context, int64, string, string) ([]sourceclient.Document, error) {
	return f.docs, f.err
}

type recordingQueue struct {
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func newTestApp(t *testing.T, st store.Store, provider ai.Client, sources sourceclient.Client, q TaskQueue) *App {
	t.Helper()
	a, err := New(Config{
		Store:        st,
		Provider:     provider,
		Queue:        q,
		Sources:      sources,
		EmbeddingDim: 4,
		ChunkSize:    40,
		ChunkOverlap: 10,
		BatchSize:    2,
		Concurrency:  2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestScheduleJobCreatesPendingAndEnqueues(t *testing.T) {
	st := store.NewMemoryStore()
	q := &recordingQueue{}
	a := newTestApp(t, st, &fakeEmbedder{dim: 4}, &fakeSources{}, q)
	ctx := context.Background()

	job, err := a.ScheduleJob(ctx, 7, "crm", domain.JobBootstrap, "customer")
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobPending {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(q.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(q.tasks))
	}
	if q.tasks[0].JobID != job.ID || q.tasks[0].ModuleCode != "crm" || q.tasks[0].SourceKind != "customer" {
		t.Fatalf("unexpected task %+v", q.tasks[0])
	}
	stored, ok, err := st.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("GetJob: ok=%v err=%v", ok, err)
	}
	if stored.Kind != domain.JobBootstrap {
		t.Fatalf("kind = %s", stored.Kind)
	}
}

func TestScheduleJobRejectsBadInput(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st, &fakeEmbedder{dim: 4}, &fakeSources{}, &recordingQueue{})
	ctx := context.Background()

	if _, err := a.ScheduleJob(ctx, 7, "", domain.JobReindex, ""); err == nil {
		t.Fatal("expected error for empty module code")
	}
	if _, err := a.ScheduleJob(ctx, 0, "crm", domain.JobReindex, ""); err == nil {
		t.Fatal("expected error for missing tenant")
	}
	if _, err := a.ScheduleJob(ctx, 7, "crm", "sideways", ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestScheduleJobEnqueueFailureMarksJobFailed(t *testing.T) {
	st := store.NewMemoryStore()
	a := newTestApp(t, st, &fakeEmbedder{dim: 4}, &fakeSources{}, &recordingQueue{err: errors.New("redis down")})
	ctx := context.Background()

	if _, err := a.ScheduleJob(ctx, 7, "crm", domain.JobIncremental, ""); err == nil {
		t.Fatal("expected enqueue error")
	}
	jobs, err := st.ListJobsByStatus(ctx, domain.JobFailed, "crm")
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 failed job, got %d", len(jobs))
	}
	if !strings.Contains(jobs[0].ErrorMessage, "enqueue") {
		t.Fatalf("error message = %q", jobs[0].ErrorMessage)
	}
}

func TestProcessIndexesAllDocuments(t *testing.T) {
	st := store.NewMemoryStore()
	sources := &fakeSources{docs: []sourceclient.Document{
		{SourceKind: "customer", SourceID: 1, Title: "Acme Corp", Body: strings.Repeat("acme history and notes ", 10)},
		{SourceKind: "customer", SourceID: 2, Title: "Globex", Body: strings.Repeat("globex account details ", 10)},
	}}
	a := newTestApp(t, st, &fakeEmbedder{dim: 4}, sources, nil)
	ctx := context.Background()

	job, err := a.ScheduleJob(ctx, 7, "crm", domain.JobBootstrap, "customer")
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	task := queue.Task{JobID: job.ID, TenantID: 7, ModuleCode: "crm", SourceKind: "customer"}
	if err := a.Process(ctx, task); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, ok, err := st.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("GetJob: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.JobCompleted {
		t.Fatalf("status = %s, error = %q", got.Status, got.ErrorMessage)
	}
	if got.TotalItems != 2 || got.ProcessedItems != 2 || got.FailedItems != 0 {
		t.Fatalf("counters = %d/%d/%d", got.TotalItems, got.ProcessedItems, got.FailedItems)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatal("expected start and completion timestamps")
	}

	chunks, err := st.ListChunksBySource(ctx, 7, "crm", "customer", 1)
	if err != nil {
		t.Fatalf("ListChunksBySource: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks for source 1")
	}
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, chunk.ChunkIndex)
		}
		if len(chunk.Embedding) != 4 {
			t.Fatalf("chunk %d embedding dim = %d", i, len(chunk.Embedding))
		}
		if chunk.Metadata["title"] != "Acme Corp" {
			t.Fatalf("chunk %d title = %q", i, chunk.Metadata["title"])
		}
		if chunk.TokenCount <= 0 {
			t.Fatalf("chunk %d token count = %d", i, chunk.TokenCount)
		}
	}
}

func TestProcessPartialFailureCompletesWithCounters(t *testing.T) {
	st := store.NewMemoryStore()
	badBody := strings.Repeat("poisoned text ", 3)
	sources := &fakeSources{docs: []sourceclient.Document{
		{SourceKind: "deal", SourceID: 1, Body: strings.Repeat("good deal text ", 5)},
		{SourceKind: "deal", SourceID: 2, Body: badBody},
	}}
	embedder := &fakeEmbedder{dim: 4, failTexts: map[string]bool{
		chunkText(normalizeText(badBody), 40, 10)[0]: true,
	}}
	a := newTestApp(t, st, embedder, sources, nil)
	ctx := context.Background()

	job, err := a.ScheduleJob(ctx, 7, "sales", domain.JobIncremental, "deal")
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if err := a.Process(ctx, queue.Task{JobID: job.ID, TenantID: 7, ModuleCode: "sales", SourceKind: "deal"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _, _ := st.GetJob(ctx, job.ID)
	if got.Status != domain.JobCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.ProcessedItems != 1 || got.FailedItems != 1 {
		t.Fatalf("counters = %d/%d", got.ProcessedItems, got.FailedItems)
	}
	if !strings.Contains(got.ErrorMessage, "deal/2") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestProcessFetchFailureFailsJob(t *testing.T) {
	st := store.NewMemoryStore()
	sources := &fakeSources{err: errors.New("export endpoint down")}
	a := newTestApp(t, st, &fakeEmbedder{dim: 4}, sources, nil)
	ctx := context.Background()

	job, err := a.ScheduleJob(ctx, 7, "crm", domain.JobReindex, "")
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if err := a.Process(ctx, queue.Task{JobID: job.ID, TenantID: 7, ModuleCode: "crm"}); err == nil {
		t.Fatal("expected fetch error")
	}

	got, _, _ := st.GetJob(ctx, job.ID)
	if got.Status != domain.JobFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "fetch documents") {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestProcessTerminalJobIsSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	embedder := &fakeEmbedder{dim: 4}
	sources := &fakeSources{docs: []sourceclient.Document{
		{SourceKind: "customer", SourceID: 1, Body: "should not be embedded"},
	}}
	a := newTestApp(t, st, embedder, sources, nil)
	ctx := context.Background()

	job, err := a.ScheduleJob(ctx, 7, "crm", domain.JobIncremental, "")
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	job.Status = domain.JobCompleted
	if err := st.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := a.Process(ctx, queue.Task{JobID: job.ID, TenantID: 7, ModuleCode: "crm"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if embedder.batchCalls != 0 {
		t.Fatalf("expected no embedding calls, got %d", embedder.batchCalls)
	}
}

func TestProcessEmptyBodyDropsStaleChunks(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	stale := []domain.DocumentChunk{{
		TenantID: 7, ModuleCode: "crm", SourceKind: "customer", SourceID: 9,
		ChunkIndex: 0, Content: "old text", Embedding: []float32{1, 0, 0, 0},
	}}
	if err := st.ReplaceChunks(ctx, 7, "crm", "customer", 9, stale); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	sources := &fakeSources{docs: []sourceclient.Document{
		{SourceKind: "customer", SourceID: 9, Body: "   "},
	}}
	a := newTestApp(t, st, &fakeEmbedder{dim: 4}, sources, nil)

	job, err := a.ScheduleJob(ctx, 7, "crm", domain.JobIncremental, "customer")
	if err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}
	if err := a.Process(ctx, queue.Task{JobID: job.ID, TenantID: 7, ModuleCode: "crm", SourceKind: "customer"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	chunks, err := st.ListChunksBySource(ctx, 7, "crm", "customer", 9)
	if err != nil {
		t.Fatalf("ListChunksBySource: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected stale chunks removed, got %d", len(chunks))
	}
}

func TestChunkTextOverlapAndDeterminism(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10)
	first := chunkText(text, 30, 10)
	second := chunkText(text, 30, 10)
	if len(first) == 0 {
		t.Fatal("expected chunks")
	}
	if len(first) != len(second) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
	// Consecutive windows share the overlap region.
	if !strings.HasPrefix(first[1], first[0][len(first[0])-10:]) {
		t.Fatalf("expected 10-rune overlap, got %q then %q", first[0], first[1])
	}
	if chunkText("", 30, 10) != nil {
		t.Fatal("empty input should produce no chunks")
	}
}
