package openaiclient

import (
	"context"
)

const (
	defaultEmbeddingModel = "text-embedding-ada-002"
)

// EmbeddingRequest is a request to create an embedding.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponsePayload struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// CreateEmbedding creates embeddings.
func (c *Client) CreateEmbedding(ctx context.Context, r *EmbeddingRequest) ([][]float32, error) {
	if r.Model == "" {
		r.Model = c.EmbeddingModel
	}
	if r.Model == "" {
		r.Model = defaultEmbeddingModel
	}

	var resp embeddingResponsePayload
	u := c.buildURL("/embeddings", r.Model)
	if err := c.post(ctx, u, r, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}

	embeddings := make([][]float32, 0, len(resp.Data))
	for i := range resp.Data {
		embeddings = append(embeddings, resp.Data[i].Embedding)
	}
	return embeddings, nil
}
