package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/llm"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadEffective_DefaultsWithoutFile(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath != "" {
		t.Fatalf("没有配置文件时 ConfigPath 应为空，实际 %q", eff.ConfigPath)
	}
	if eff.Fetch != domain.DefaultFetchConfig() {
		t.Fatalf("期望默认抓取配置，实际 %+v", eff.Fetch)
	}
	if eff.Store.Type != StoreSQLite || eff.Store.Path != filepath.Join(cwd, DefaultStorePath) {
		t.Fatalf("存储默认值不符：%+v", eff.Store)
	}
	if eff.Embedder.Type != EmbedderHashing || eff.LLM.Provider != llm.ProviderNone {
		t.Fatalf("embedder/llm 默认值不符：%+v %+v", eff.Embedder, eff.LLM)
	}
	if eff.Query.MaxResults != 5 || eff.Query.SimilarityThreshold != 0.1 {
		t.Fatalf("query 默认值不符：%+v", eff.Query)
	}
	if len(eff.Sources) != 0 {
		t.Fatalf("默认使用全部站点，实际 %v", eff.Sources)
	}
}

func TestLoadEffective_ExplicitConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{ConfigPath: "missing.yaml"}, nil)
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_FileValues(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
scraping:
  delay_secs: 0.5
  timeout_secs: 10
  max_retries: 2
  max_reviews: 12
  user_agent: test-agent
sources: ["IMDb", "metacritic"]
store:
  type: sqlite
  path: /var/lib/reelrag/db.sqlite
embedder:
  type: hashing
  dimension: 1024
query:
  max_results: 8
  similarity_threshold: 0
  context_chars: 2000
`))

	eff, err := LoadEffective(cwd, CLIArgs{}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := domain.FetchConfig{Delay: 500 * time.Millisecond, Timeout: 10 * time.Second, MaxRetries: 2, MaxReviews: 12, UserAgent: "test-agent"}
	if eff.Fetch != want {
		t.Fatalf("期望 %+v，实际 %+v", want, eff.Fetch)
	}
	if eff.ConfigPath != filepath.Join(cwd, FileName) {
		t.Fatalf("ConfigPath 不符：%q", eff.ConfigPath)
	}
	if len(eff.Sources) != 2 || eff.Sources[0] != "IMDb" {
		t.Fatalf("sources 不符：%v", eff.Sources)
	}
	if eff.Store.Path != "/var/lib/reelrag/db.sqlite" || eff.Embedder.Dimension != 1024 {
		t.Fatalf("store/embedder 不符：%+v %+v", eff.Store, eff.Embedder)
	}
	// 显式写 0 的阈值必须保留。
	if eff.Query != (QueryConfig{MaxResults: 8, SimilarityThreshold: 0, ContextChars: 2000}) {
		t.Fatalf("query 不符：%+v", eff.Query)
	}
}

func TestLoadEffective_RandomUserAgent(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte("scraping:\n  user_agent: random\n"))

	eff, err := LoadEffective(cwd, CLIArgs{}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Fetch.UserAgent != domain.RandomUserAgent {
		t.Fatalf("期望 %q，实际 %q", domain.RandomUserAgent, eff.Fetch.UserAgent)
	}
}

func TestLoadEffective_Precedence(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "custom.yaml"), []byte(`
scraping:
  delay_secs: 3
  max_reviews: 50
sources: [imdb]
store:
  path: file.db
`))
	lookup := envMap(map[string]string{
		EnvScrapingDelay: "0",
		EnvMaxReviews:    "20",
		EnvDBPath:        "env.db",
	})

	eff, err := LoadEffective(cwd, CLIArgs{
		ConfigPath: "custom.yaml",
		MaxReviews: 7, MaxReviewsSet: true,
		Sources: []string{"rottentomatoes, metacritic"}, SourcesSet: true,
	}, lookup)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Fetch.Delay != 0 {
		t.Fatalf("env 应覆盖文件：delay=%v", eff.Fetch.Delay)
	}
	if eff.Fetch.MaxReviews != 7 {
		t.Fatalf("CLI 应覆盖 env：max_reviews=%d", eff.Fetch.MaxReviews)
	}
	if len(eff.Sources) != 2 || eff.Sources[0] != "rottentomatoes" || eff.Sources[1] != "metacritic" {
		t.Fatalf("CLI sources 应覆盖文件并按逗号拆分：%v", eff.Sources)
	}
	if eff.Store.Path != filepath.Join(cwd, "env.db") {
		t.Fatalf("env 应覆盖 store.path：%q", eff.Store.Path)
	}
}

func TestLoadEffective_InvalidEnv(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{}, envMap(map[string]string{EnvMaxRetries: "many"}))
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
	_, err = LoadEffective(cwd, CLIArgs{}, envMap(map[string]string{EnvMaxRetries: "0"}))
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("max_retries=0 期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}
}

func TestLoadEffective_InvalidFile(t *testing.T) {
	cases := map[string]string{
		"syntax":        "scraping: [",
		"unknown field": "scrapping:\n  delay_secs: 1\n",
		"store type":    "store:\n  type: chroma\n",
		"embedder type": "embedder:\n  type: word2vec\n",
		"threshold":     "query:\n  similarity_threshold: 1.5\n",
		"llm provider":  "llm:\n  provider: anthropic-local\n",
		"temperature":   "llm:\n  temperature: 3\n",
		"timeout":       "scraping:\n  timeout_secs: 0\n",
		"proxy":         "scraping:\n  proxy_url: \"http://[::1\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, FileName), []byte(body))
			_, err := LoadEffective(cwd, CLIArgs{}, nil)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoadEffective_LLMAutoPrefersGroq(t *testing.T) {
	cwd := t.TempDir()
	lookup := envMap(map[string]string{
		"GROQ_API_KEY":   "gk",
		"GROQ_MODEL":     "llama-3.3-70b",
		"OPENAI_API_KEY": "ok",
	})

	eff, err := LoadEffective(cwd, CLIArgs{}, lookup)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	lc := eff.LLM
	if lc.Provider != llm.ProviderGroq || lc.APIKey != "gk" || lc.Model != "llama-3.3-70b" {
		t.Fatalf("auto 应优先选 Groq：%+v", lc)
	}
	if lc.BaseURL != llm.Presets[llm.ProviderGroq].BaseURL || lc.MaxTokens != llm.DefaultMaxTokens || lc.Temperature != llm.DefaultTemperature {
		t.Fatalf("Groq 默认值不符：%+v", lc)
	}
}

func TestLoadEffective_LLMAutoFallsBackToOpenAI(t *testing.T) {
	cwd := t.TempDir()
	eff, err := LoadEffective(cwd, CLIArgs{}, envMap(map[string]string{"OPENAI_API_KEY": "ok"}))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.LLM.Provider != llm.ProviderOpenAI || eff.LLM.Model != llm.Presets[llm.ProviderOpenAI].Model {
		t.Fatalf("期望 OpenAI：%+v", eff.LLM)
	}
}

func TestLoadEffective_LLMExplicitWithoutKey(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte("llm:\n  provider: openai\n"))

	_, err := LoadEffective(cwd, CLIArgs{}, nil)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_LLMFileOverrides(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte(`
llm:
  provider: openai
  base_url: http://localhost:11434/v1
  api_key_env: LOCAL_KEY
  model: qwen2
  temperature: 0
  max_tokens: 256
`))
	eff, err := LoadEffective(cwd, CLIArgs{}, envMap(map[string]string{"LOCAL_KEY": "lk"}))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := LLMConfig{Provider: llm.ProviderOpenAI, BaseURL: "http://localhost:11434/v1", Model: "qwen2", APIKey: "lk", Temperature: 0, MaxTokens: 256}
	if eff.LLM != want {
		t.Fatalf("期望 %+v，实际 %+v", want, eff.LLM)
	}
}

func TestLoadEffective_OpenAIEmbedderNeedsKey(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), []byte("embedder:\n  type: openai\n  openai:\n    model: text-embedding-3-small\n"))

	_, err := LoadEffective(cwd, CLIArgs{}, nil)
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v", ErrCodeInvalid, err)
	}

	eff, err := LoadEffective(cwd, CLIArgs{}, envMap(map[string]string{"OPENAI_API_KEY": "ok"}))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	e := eff.Embedder
	if e.Type != EmbedderOpenAI || e.APIKey != "ok" || e.Model != "text-embedding-3-small" || e.Timeout != 30*time.Second {
		t.Fatalf("embedder 不符：%+v", e)
	}
}

func TestLoadEffective_EmptyFileIsFine(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, FileName), nil)

	eff, err := LoadEffective(cwd, CLIArgs{}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigPath == "" {
		t.Fatalf("空文件也应记录 ConfigPath")
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
