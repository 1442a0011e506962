package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/John-Robertt/reelrag/internal/infra/apix"
)

const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAI 调用 OpenAI 兼容的 /embeddings 端点（OpenAI、Ollama 等）。
//
// 约束：Dimension 在配置缺省时由第一次成功的返回值决定，之后维度不一致视为错误。
type OpenAI struct {
	client *apix.Client
	model  string

	mu  sync.Mutex
	dim int
}

// NewOpenAI 使用已构造的 apix 客户端；dim 为 0 时延迟到第一次 Embed 确定。
func NewOpenAI(client *apix.Client, model string, dim int) (*OpenAI, error) {
	if client == nil {
		return nil, errors.New("embedding: client 不能为空")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: client, model: model, dim: dim}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Dimension() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dim
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	// Prompt 兼容 Ollama 原生接口。
	Prompt string `json:"prompt,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama 原生返回形如 {"embedding": [...]}。
	Embedding []float64 `json:"embedding"`
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float64, error) {
	var resp embeddingResponse
	req := embeddingRequest{Model: o.model, Input: text, Prompt: text}
	if err := o.client.PostJSON(ctx, "embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("embeddings 请求失败：%w", err)
	}
	var v []float64
	switch {
	case len(resp.Data) > 0 && len(resp.Data[0].Embedding) > 0:
		v = resp.Data[0].Embedding
	case len(resp.Embedding) > 0:
		v = resp.Embedding
	default:
		return nil, errors.New("embeddings 响应中没有向量")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dim == 0 {
		o.dim = len(v)
	}
	if len(v) != o.dim {
		return nil, fmt.Errorf("embeddings 维度不一致：期望 %d，实际 %d", o.dim, len(v))
	}
	return v, nil
}
