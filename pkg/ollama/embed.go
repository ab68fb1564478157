// Package ollama provides an HTTP client for Ollama's embedding API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AlmaAI/alma-mvp/pkg/textnorm"
)

// ErrEmptyInput is returned when text normalizes to nothing embeddable.
var ErrEmptyInput = errors.New("ollama: empty input")

// EmbedClient talks to Ollama's /api/embed endpoint.
type EmbedClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewEmbedClient creates an Ollama embedding client for the given model.
func NewEmbedClient(baseURL, model string) *EmbedClient {
	return &EmbedClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Model reports the configured model id.
func (c *EmbedClient) Model() string { return c.model }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *EmbedClient) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	body, _ := json.Marshal(embedReq{Model: c.model, Input: inputs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}
	if len(result.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(result.Embeddings), len(inputs))
	}
	return result.Embeddings, nil
}

// Embed normalizes the text and returns its embedding vector.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := c.embed(ctx, []string{norm})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one call, preserving input order. A text that
// normalizes to nothing fails the whole batch; callers filter rows first.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	norm := make([]string, len(texts))
	for i, t := range texts {
		n := textnorm.Normalize(t)
		if n == "" {
			return nil, fmt.Errorf("ollama embed batch [%d]: %w", i, ErrEmptyInput)
		}
		norm[i] = n
	}
	return c.embed(ctx, norm)
}

// dimensionProbe is embedded once at startup to discover the vector width.
const dimensionProbe = "dimension probe"

// Dimension reports the model's embedding width. Doubles as a liveness
// self-test for the embedding service.
func (c *EmbedClient) Dimension(ctx context.Context) (int, error) {
	vec, err := c.Embed(ctx, dimensionProbe)
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}
