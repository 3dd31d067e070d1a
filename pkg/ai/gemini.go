package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const (
	retryAttempts   = 3
	retryBaseDelay  = 2 * time.Second
	retryMaxDelay   = 10 * time.Second
	maxBatchEmbedSz = 100
)

// ErrProviderUnavailable wraps transport failures and 5xx responses that
// survived all retry attempts.
var ErrProviderUnavailable = errors.New("provider unavailable")

// GeminiClient calls the Google AI Studio (Gemini) API. It implements Client.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) {
		c.httpClient = hc
	}
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey string, options ...GeminiOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

var _ Client = (*GeminiClient)(nil)

// ChatCompletion generates a full response for the conversation.
func (c *GeminiClient) ChatCompletion(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (ChatResult, error) {
	reqBody := buildGenerateRequest(messages, opts)
	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), c.apiKey)
	if err := c.doJSONRetry(ctx, url, reqBody, &resp); err != nil {
		return ChatResult{}, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return ChatResult{}, fmt.Errorf("empty response from gemini")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return ChatResult{
		Content:          sb.String(),
		Model:            normalizeModel(model),
		FinishReason:     resp.Candidates[0].FinishReason,
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		TokensUsed:       resp.UsageMetadata.TotalTokenCount,
	}, nil
}

// ChatCompletionStream generates a response incrementally over SSE. The
// chunk channel closes after the final chunk; the error channel delivers at
// most one error.
func (c *GeminiClient) ChatCompletionStream(ctx context.Context, model string, messages []ChatMessage, opts ChatOptions) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		reqBody := buildGenerateRequest(messages, opts)
		body, err := json.Marshal(reqBody)
		if err != nil {
			errs <- err
			return
		}
		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, normalizeModel(model), c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			errs <- c.statusError(resp)
			return
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		tokensUsed := 0
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}
			var event generateResponse
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if event.UsageMetadata.TotalTokenCount > 0 {
				tokensUsed = event.UsageMetadata.TotalTokenCount
			}
			for _, cand := range event.Candidates {
				for _, p := range cand.Content.Parts {
					if p.Text == "" {
						continue
					}
					select {
					case chunks <- StreamChunk{Delta: p.Text}:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			return
		}
		select {
		case chunks <- StreamChunk{Done: true, TokensUsed: tokensUsed}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}

// CreateEmbedding generates an embedding for a single input text.
func (c *GeminiClient) CreateEmbedding(ctx context.Context, model, text, taskType string) ([]float32, error) {
	reqBody := embedRequest{
		Content: content{Parts: []part{{Text: text}}},
	}
	if taskType != "" {
		reqBody.TaskType = taskType
	}
	var resp embedResponse
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", c.baseURL, normalizeModel(model), c.apiKey)
	if err := c.doJSONRetry(ctx, url, reqBody, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding.Values, nil
}

// CreateEmbeddingsBatch embeds several texts in one call, splitting into
// provider-sized batches when needed. Output order matches input order.
func (c *GeminiClient) CreateEmbeddingsBatch(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	modelName := normalizeModel(model)
	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchEmbedSz {
		end := start + maxBatchEmbedSz
		if end > len(texts) {
			end = len(texts)
		}
		reqBody := batchEmbedRequest{}
		for _, text := range texts[start:end] {
			item := embedRequest{
				Model:   "models/" + modelName,
				Content: content{Parts: []part{{Text: text}}},
			}
			if taskType != "" {
				item.TaskType = taskType
			}
			reqBody.Requests = append(reqBody.Requests, item)
		}
		var resp batchEmbedResponse
		url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", c.baseURL, modelName, c.apiKey)
		if err := c.doJSONRetry(ctx, url, reqBody, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			result = append(result, e.Values)
		}
	}
	return result, nil
}

// CountTokens returns the provider's token count for the text.
func (c *GeminiClient) CountTokens(ctx context.Context, model, text string) (int, error) {
	reqBody := countTokensRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: text}}}},
	}
	var resp countTokensResponse
	url := fmt.Sprintf("%s/models/%s:countTokens?key=%s", c.baseURL, normalizeModel(model), c.apiKey)
	if err := c.doJSONRetry(ctx, url, reqBody, &resp); err != nil {
		return 0, err
	}
	return resp.TotalTokens, nil
}

func buildGenerateRequest(messages []ChatMessage, opts ChatOptions) generateRequest {
	reqBody := generateRequest{}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// Gemini takes system prompts out of band.
			if reqBody.SystemInstruction == nil {
				reqBody.SystemInstruction = &content{Parts: []part{{Text: msg.Content}}}
			} else {
				reqBody.SystemInstruction.Parts = append(reqBody.SystemInstruction.Parts, part{Text: msg.Content})
			}
		case RoleAssistant:
			reqBody.Contents = append(reqBody.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			reqBody.Contents = append(reqBody.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		cfg := &generationConfig{Temperature: opts.Temperature}
		if opts.MaxTokens > 0 {
			cfg.MaxOutputTokens = opts.MaxTokens
		}
		reqBody.GenerationConfig = cfg
	}
	return reqBody
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

// doJSONRetry posts JSON with retries on transport failures and 5xx/429
// responses. Backoff doubles from 2s and is capped at 10s.
func (c *GeminiClient) doJSONRetry(ctx context.Context, url string, payload any, out any) error {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := c.doJSON(ctx, url, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}

func (c *GeminiClient) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *GeminiClient) statusError(resp *http.Response) error {
	var errResp errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error.Message
	if msg == "" {
		msg = resp.Status
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: gemini api error: %s", ErrProviderUnavailable, msg)
	}
	return fmt.Errorf("gemini api error: %s", msg)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type embedRequest struct {
	Model    string  `json:"model,omitempty"`
	Content  content `json:"content"`
	TaskType string  `json:"taskType,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type batchEmbedRequest struct {
	Requests []embedRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

type countTokensRequest struct {
	Contents []content `json:"contents"`
}

type countTokensResponse struct {
	TotalTokens int `json:"totalTokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
