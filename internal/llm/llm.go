// Package llm 是文本补全服务的契约与 OpenAI 兼容的 chat completions 客户端（Groq、OpenAI）。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/John-Robertt/reelrag/internal/infra/apix"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
	ProviderAuto   = "auto"
)

const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 1000
)

// ErrEmptyCompletion 表示服务端返回了空的 choices。
var ErrEmptyCompletion = errors.New("llm: 返回内容为空")

// Completer 根据 system/user 提示生成回答。
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Preset 是一个已知服务商的默认端点。
type Preset struct {
	BaseURL   string
	Model     string
	APIKeyEnv string
	ModelEnv  string
}

// Presets 按服务商名索引；auto 模式按 Groq → OpenAI 的顺序选择第一个有 key 的。
var Presets = map[string]Preset{
	ProviderGroq: {
		BaseURL:   "https://api.groq.com/openai/v1",
		Model:     "meta-llama/llama-3.1-70b-versatile",
		APIKeyEnv: "GROQ_API_KEY",
		ModelEnv:  "GROQ_MODEL",
	},
	ProviderOpenAI: {
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-3.5-turbo",
		APIKeyEnv: "OPENAI_API_KEY",
		ModelEnv:  "OPENAI_MODEL",
	},
}

// AutoOrder 是 auto 模式下尝试服务商的顺序。
var AutoOrder = []string{ProviderGroq, ProviderOpenAI}

// ChatOptions 控制一次对话请求的采样参数。
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Chat 调用 POST {base}/chat/completions。
type Chat struct {
	name   string
	client *apix.Client
	opts   ChatOptions
}

// NewChat 构造一个 chat 客户端；name 只用于日志与展示。
func NewChat(name string, client *apix.Client, opts ChatOptions) (*Chat, error) {
	if client == nil {
		return nil, errors.New("llm: client 不能为空")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("llm: model 不能为空")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = DefaultTemperature
	}
	return &Chat{name: name, client: client, opts: opts}, nil
}

func (c *Chat) Name() string { return c.name + ":" + c.opts.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *Chat) Complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		TopP:        1,
	}
	if strings.TrimSpace(system) != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, message{Role: "user", Content: user})

	var resp chatResponse
	if err := c.client.PostJSON(ctx, "chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("%s 补全失败：%w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
