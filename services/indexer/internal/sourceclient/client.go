// Package sourceclient fetches indexable documents from the platform's
// business modules over their internal export API.
package sourceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Document is one indexable unit exported by a business module, typically a
// flattened rendering of an entity (customer profile, ticket thread, deal).
type Document struct {
	SourceKind string            `json:"sourceKind"`
	SourceID   int64             `json:"sourceId"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Client fetches documents for one tenant and module. An empty sourceKind
// requests every exportable kind the module has.
type Client interface {
	FetchDocuments(ctx context.Context, tenantID int64, moduleCode, sourceKind string) ([]Document, error)
}

// HTTPClient talks to the platform's internal document-export endpoint.
type HTTPClient struct {
	baseURL       string
	internalToken string
	httpClient    *http.Client
}

// NewHTTPClient builds a client against baseURL. Requests carry the shared
// internal token; the export endpoint is not exposed through the gateway.
func NewHTTPClient(baseURL, internalToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		internalToken: internalToken,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) FetchDocuments(ctx context.Context, tenantID int64, moduleCode, sourceKind string) ([]Document, error) {
	endpoint := fmt.Sprintf("%s/internal/modules/%s/documents", c.baseURL, url.PathEscape(moduleCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("tenantId", strconv.FormatInt(tenantID, 10))
	if sourceKind != "" {
		q.Set("sourceKind", sourceKind)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-Internal-Token", c.internalToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("source export error for module %s: %s", moduleCode, msg)
	}
	var payload struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return payload.Documents, nil
}
