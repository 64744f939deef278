package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/zake/internal/models"
)

// Client calls a running zake server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// EmbedQuery embeds a single text. With cached set, the cache-backed route is used.
func (c *Client) EmbedQuery(ctx context.Context, query string, cached bool) (*models.EmbeddingResponse, error) {
	path := c.embeddingsPath(cached) + "?query=" + url.QueryEscape(query)
	var out models.EmbeddingResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EmbedDocuments embeds a list of texts.
func (c *Client) EmbedDocuments(ctx context.Context, docs []string, cached bool) (*models.EmbeddingsResponse, error) {
	var out models.EmbeddingsResponse
	body := models.EmbedDocumentsRequest{Documents: docs}
	if err := c.do(ctx, http.MethodPost, c.embeddingsPath(cached), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rerank scores documents against a query.
func (c *Client) Rerank(ctx context.Context, req *models.RerankRequest) (*models.RerankResponse, error) {
	var out models.RerankResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/reranker", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CacheStats returns the server's cache usage.
func (c *Client) CacheStats(ctx context.Context) (*models.CacheStatsResponse, error) {
	var out models.CacheStatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/embeddings/cache/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearCache removes every cached embedding on the server.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/embeddings/cache", nil, nil)
}

func (c *Client) embeddingsPath(cached bool) string {
	if cached {
		return "/api/v1/embeddings/cache"
	}
	return "/api/v1/embeddings"
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
