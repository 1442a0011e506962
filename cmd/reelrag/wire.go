package main

import (
	"fmt"
	"log/slog"

	"github.com/John-Robertt/reelrag/internal/app/scrape"
	"github.com/John-Robertt/reelrag/internal/config"
	"github.com/John-Robertt/reelrag/internal/embedding"
	"github.com/John-Robertt/reelrag/internal/infra/apix"
	"github.com/John-Robertt/reelrag/internal/infra/httpx"
	"github.com/John-Robertt/reelrag/internal/llm"
	"github.com/John-Robertt/reelrag/internal/provider"
	"github.com/John-Robertt/reelrag/internal/rag"
	"github.com/John-Robertt/reelrag/internal/vectorstore"
	"github.com/John-Robertt/reelrag/internal/vectorstore/memory"
	"github.com/John-Robertt/reelrag/internal/vectorstore/sqlite"
)

// loadConfig 合并 flag、环境变量与配置文件。
func (a *app) loadConfig(cli config.CLIArgs) (config.EffectiveConfig, error) {
	cli.ConfigPath = a.configPath
	return config.LoadEffective(a.cwd, cli, a.lookup)
}

// registry 按 CLI 注入的站点列表构造注册表。
func (a *app) registry(eff config.EffectiveConfig) (provider.Registry, error) {
	reg, err := provider.NewRegistry(a.providers(eff)...)
	if err != nil {
		return provider.Registry{}, fmt.Errorf("初始化站点注册表失败：%w", err)
	}
	return reg, nil
}

// openService 组装 rag.Service；返回的 Service 持有打开的存储，调用方负责 closeService。
//
// obs 只在 add 命令中传入。
func (a *app) openService(eff config.EffectiveConfig, obs scrape.Observer) (*rag.Service, error) {
	reg, err := a.registry(eff)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(eff.Embedder, a.logger)
	if err != nil {
		return nil, err
	}
	completer, err := newCompleter(eff.LLM, a.logger)
	if err != nil {
		return nil, err
	}
	store, err := openStore(eff.Store)
	if err != nil {
		return nil, err
	}

	co := &scrape.Coordinator{
		Registry: reg,
		Open:     provider.HTTPOpener(httpx.Options{Logger: a.logger, ProxyURL: eff.ProxyURL}),
		Logger:   a.logger,
		Observer: obs,
	}
	opts := rag.DefaultOptions()
	opts.MaxResults = eff.Query.MaxResults
	opts.SimilarityThreshold = eff.Query.SimilarityThreshold
	opts.ContextChars = eff.Query.ContextChars

	svc := &rag.Service{
		Scraper:  co,
		Store:    store,
		Embedder: emb,
		Fetch:    eff.Fetch,
		Options:  opts,
		Logger:   a.logger,
	}
	// 避免把 nil *llm.Chat 装进接口。
	if completer != nil {
		svc.LLM = completer
	}
	return svc, nil
}

func closeService(svc *rag.Service) error {
	if svc == nil || svc.Store == nil {
		return nil
	}
	return svc.Store.Close()
}

func openStore(sc config.StoreConfig) (vectorstore.Store, error) {
	switch sc.Type {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		s, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("打开存储失败：%w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("未知存储类型：%q", sc.Type)
	}
}

func newEmbedder(ec config.EmbedderConfig, logger *slog.Logger) (embedding.Embedder, error) {
	switch ec.Type {
	case config.EmbedderHashing:
		return embedding.NewHashing(ec.Dimension)
	case config.EmbedderOpenAI:
		client, err := apix.New(apix.Config{BaseURL: ec.BaseURL, APIKey: ec.APIKey, Timeout: ec.Timeout, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("初始化 embeddings 客户端失败：%w", err)
		}
		return embedding.NewOpenAI(client, ec.Model, ec.Dimension)
	default:
		return nil, fmt.Errorf("未知 embedder 类型：%q", ec.Type)
	}
}

// newCompleter 在 provider=none 时返回 nil（问答退化为直接拼接检索结果）。
func newCompleter(lc config.LLMConfig, logger *slog.Logger) (*llm.Chat, error) {
	if lc.Provider == llm.ProviderNone || lc.Provider == "" {
		return nil, nil
	}
	client, err := apix.New(apix.Config{BaseURL: lc.BaseURL, APIKey: lc.APIKey, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("初始化 %s 客户端失败：%w", lc.Provider, err)
	}
	return llm.NewChat(lc.Provider, client, llm.ChatOptions{
		Model:       lc.Model,
		Temperature: lc.Temperature,
		MaxTokens:   lc.MaxTokens,
	})
}
