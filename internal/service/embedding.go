package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/timmy/storydedup/internal/config"
	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
)

const (
	jinaEndpoint          = "https://api.jina.ai/v1/embeddings"
	defaultEmbedTimeout   = 30 * time.Second
	defaultEmbedRetries   = 2
	jinaPassageTask       = "retrieval.passage"
	embeddingTypeFloat    = "float"
	openAIEmbeddingsRoute = "/embeddings"
)

// TextEmbedder turns artifact text into a vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingService handles text embedding generation over HTTP.
// It speaks the Jina request shape or the OpenAI-compatible one.
type EmbeddingService struct {
	client     *resty.Client
	provider   string
	endpoint   string
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(cfg *config.EmbeddingConfig) (*EmbeddingService, error) {
	if err := cfg.ValidateWithAPIKey(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultEmbedTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(defaultEmbedRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + openAIEmbeddingsRoute
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &EmbeddingService{
		client:     client,
		provider:   cfg.Provider,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
	}, nil
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	Task           string   `json:"task,omitempty"`
	EmbeddingType  string   `json:"embedding_type,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *embeddingResponse) errorMessage() string {
	if r.Detail != "" {
		return r.Detail
	}
	if r.Error != nil {
		return r.Error.Message
	}
	return ""
}

// Embed generates an embedding for a single text
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, in input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}
	}

	req := embeddingRequest{
		Model:      s.model,
		Input:      texts,
		Dimensions: s.dimensions,
	}
	if s.provider == config.ProviderJina {
		req.Task = jinaPassageTask
		req.EmbeddingType = embeddingTypeFloat
	} else {
		req.EncodingFormat = embeddingTypeFloat
	}

	var resp embeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s embeddings API: %w", s.provider, err)
	}

	if httpResp.StatusCode() != http.StatusOK {
		if msg := resp.errorMessage(); msg != "" {
			return nil, fmt.Errorf("%s embeddings API error: %s", s.provider, msg)
		}
		return nil, fmt.Errorf("%s embeddings API error: status %d", s.provider, httpResp.StatusCode())
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	// Sort by index to ensure correct order
	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

// EmbedOrNil returns nil instead of an error. Any embedder failure means
// "no embedding available" and the caller continues signature-only.
func EmbedOrNil(ctx context.Context, embedder TextEmbedder, text string) []float32 {
	if embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		logger.FromContext(ctx).
			WithError(&domain.CollaboratorError{Collaborator: "embedder", Err: err}).
			Warn("Embedding failed, continuing without vector")
		return nil
	}
	if len(vec) == 0 {
		return nil
	}
	return vec
}
