package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/llm"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段（含环境变量）不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	// FileName 是 cwd 下自动发现的配置文件名。
	FileName = "reelrag.yaml"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	EmbedderHashing = "hashing"
	EmbedderOpenAI  = "openai"

	// DefaultStorePath 相对 cwd。
	DefaultStorePath = "data/reelrag.db"
)

// 环境变量名。
const (
	EnvScrapingDelay = "SCRAPING_DELAY"
	EnvTimeout       = "TIMEOUT"
	EnvMaxRetries    = "MAX_RETRIES"
	EnvMaxReviews    = "MAX_REVIEWS"
	EnvDBPath        = "REELRAG_DB_PATH"

	defaultEmbedKeyEnv = "OPENAI_API_KEY"
)

// LookupFunc 读取环境变量；生产使用 os.LookupEnv，测试注入 map。
type LookupFunc func(key string) (string, bool)

// CLIArgs 只包含 CLI 暴露的覆盖项，并保留“是否显式指定”的信息。
type CLIArgs struct {
	// ConfigPath 非空时必须存在。
	ConfigPath string

	Sources    []string
	SourcesSet bool

	MaxReviews    int
	MaxReviewsSet bool
}

// FileConfig 对应 reelrag.yaml 的解析结构；指针字段区分“未填”与“填了零值”。
type FileConfig struct {
	Scraping ScrapingFile `yaml:"scraping"`
	Sources  []string     `yaml:"sources"`
	Store    StoreFile    `yaml:"store"`
	Embedder EmbedderFile `yaml:"embedder"`
	LLM      LLMFile      `yaml:"llm"`
	Query    QueryFile    `yaml:"query"`
}

type ScrapingFile struct {
	DelaySecs   *float64 `yaml:"delay_secs"`
	TimeoutSecs *float64 `yaml:"timeout_secs"`
	MaxRetries  *int     `yaml:"max_retries"`
	UserAgent   string   `yaml:"user_agent"` // "random" 表示从内置 UA 池轮换
	MaxReviews  *int     `yaml:"max_reviews"`
	ProxyURL    string   `yaml:"proxy_url"`
}

type StoreFile struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type EmbedderFile struct {
	Type      string     `yaml:"type"`
	Dimension int        `yaml:"dimension"`
	OpenAI    OpenAIFile `yaml:"openai"`
}

type OpenAIFile struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	TimeoutSecs float64 `yaml:"timeout_secs"`
}

type LLMFile struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

type QueryFile struct {
	MaxResults          int      `yaml:"max_results"`
	SimilarityThreshold *float64 `yaml:"similarity_threshold"`
	ContextChars        int      `yaml:"context_chars"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件；为空表示没有配置文件。
	ConfigPath string

	Fetch    domain.FetchConfig
	ProxyURL string
	// Sources 为空表示使用全部站点。
	Sources []string

	Store    StoreConfig
	Embedder EmbedderConfig
	LLM      LLMConfig
	Query    QueryConfig
}

type StoreConfig struct {
	Type string
	// Path 已是绝对路径（memory 时为空）。
	Path string
}

type EmbedderConfig struct {
	Type      string
	Dimension int

	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LLMConfig 中 Provider 已解析为 groq / openai / none。
type LLMConfig struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

type QueryConfig struct {
	MaxResults          int
	SimilarityThreshold float64
	ContextChars        int
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：%s 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：%s 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与环境变量、CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试 <cwd>/reelrag.yaml（可选）
//
// 覆盖优先级（固定）：CLI（显式指定）> 环境变量 > 配置文件 > 默认值。
func LoadEffective(cwd string, cli CLIArgs, lookup LookupFunc) (EffectiveConfig, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, FileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}
	if !exists {
		cfgPath = ""
	}
	return merge(cwdAbs, cli, fc, cfgPath, lookup)
}

func merge(cwd string, cli CLIArgs, fc FileConfig, cfgPath string, lookup LookupFunc) (EffectiveConfig, error) {
	where := cfgPath
	if where == "" {
		where = "配置"
	}
	invalid := func(err error) error { return &Error{Code: ErrCodeInvalid, Path: where, Err: err} }
	invalidEnv := func(name string, err error) error { return &Error{Code: ErrCodeInvalid, Path: "env:" + name, Err: err} }

	eff := EffectiveConfig{ConfigPath: cfgPath}

	// scraping：env > file > default；max_reviews 另受 CLI 覆盖。
	fetch := domain.DefaultFetchConfig()
	if v := fc.Scraping.DelaySecs; v != nil {
		fetch.Delay = seconds(*v)
	}
	if v := fc.Scraping.TimeoutSecs; v != nil {
		fetch.Timeout = seconds(*v)
	}
	if v := fc.Scraping.MaxRetries; v != nil {
		fetch.MaxRetries = *v
	}
	if v := fc.Scraping.MaxReviews; v != nil {
		fetch.MaxReviews = *v
	}
	if ua := strings.TrimSpace(fc.Scraping.UserAgent); ua != "" {
		fetch.UserAgent = ua
	}
	if s, ok := env(lookup, EnvScrapingDelay); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return EffectiveConfig{}, invalidEnv(EnvScrapingDelay, err)
		}
		fetch.Delay = seconds(f)
	}
	if s, ok := env(lookup, EnvTimeout); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return EffectiveConfig{}, invalidEnv(EnvTimeout, err)
		}
		fetch.Timeout = seconds(f)
	}
	if s, ok := env(lookup, EnvMaxRetries); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return EffectiveConfig{}, invalidEnv(EnvMaxRetries, err)
		}
		fetch.MaxRetries = n
	}
	if s, ok := env(lookup, EnvMaxReviews); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return EffectiveConfig{}, invalidEnv(EnvMaxReviews, err)
		}
		fetch.MaxReviews = n
	}
	if cli.MaxReviewsSet {
		fetch.MaxReviews = cli.MaxReviews
	}
	if err := fetch.Validate(); err != nil {
		return EffectiveConfig{}, invalid(fmt.Errorf("scraping：%w", err))
	}
	eff.Fetch = fetch

	proxyURL := strings.TrimSpace(fc.Scraping.ProxyURL)
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, invalid(fmt.Errorf("scraping.proxy_url 无效：%w", err))
		}
	}
	eff.ProxyURL = proxyURL

	// sources：CLI > file > 全部。
	sources := fc.Sources
	if cli.SourcesSet {
		sources = cli.Sources
	}
	eff.Sources = cleanList(sources)

	store, err := mergeStore(cwd, fc.Store, lookup)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	eff.Store = store

	emb, err := mergeEmbedder(fc.Embedder, lookup)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	eff.Embedder = emb

	lc, err := mergeLLM(fc.LLM, lookup)
	if err != nil {
		return EffectiveConfig{}, invalid(err)
	}
	eff.LLM = lc

	q := QueryConfig{MaxResults: 5, SimilarityThreshold: 0.1, ContextChars: 6000}
	if fc.Query.MaxResults < 0 || fc.Query.ContextChars < 0 {
		return EffectiveConfig{}, invalid(errors.New("query.max_results 与 query.context_chars 不能为负"))
	}
	if fc.Query.MaxResults > 0 {
		q.MaxResults = fc.Query.MaxResults
	}
	if fc.Query.ContextChars > 0 {
		q.ContextChars = fc.Query.ContextChars
	}
	if v := fc.Query.SimilarityThreshold; v != nil {
		if *v < 0 || *v > 1 {
			return EffectiveConfig{}, invalid(fmt.Errorf("query.similarity_threshold 必须在 [0,1]，实际 %v", *v))
		}
		q.SimilarityThreshold = *v
	}
	eff.Query = q
	return eff, nil
}

func mergeStore(cwd string, sf StoreFile, lookup LookupFunc) (StoreConfig, error) {
	typ := strings.ToLower(strings.TrimSpace(sf.Type))
	if typ == "" {
		typ = StoreSQLite
	}
	switch typ {
	case StoreMemory:
		return StoreConfig{Type: StoreMemory}, nil
	case StoreSQLite:
	default:
		return StoreConfig{}, fmt.Errorf("store.type 只能是 sqlite 或 memory，实际是 %q", sf.Type)
	}
	path := DefaultStorePath
	if p := strings.TrimSpace(sf.Path); p != "" {
		path = p
	}
	if p, ok := env(lookup, EnvDBPath); ok {
		path = p
	}
	return StoreConfig{Type: StoreSQLite, Path: absCleanFrom(cwd, path)}, nil
}

func mergeEmbedder(ef EmbedderFile, lookup LookupFunc) (EmbedderConfig, error) {
	typ := strings.ToLower(strings.TrimSpace(ef.Type))
	if typ == "" {
		typ = EmbedderHashing
	}
	if ef.Dimension < 0 {
		return EmbedderConfig{}, fmt.Errorf("embedder.dimension 不能为负：%d", ef.Dimension)
	}
	switch typ {
	case EmbedderHashing:
		return EmbedderConfig{Type: typ, Dimension: ef.Dimension}, nil
	case EmbedderOpenAI:
	default:
		return EmbedderConfig{}, fmt.Errorf("embedder.type 只能是 hashing 或 openai，实际是 %q", ef.Type)
	}

	keyEnv := strings.TrimSpace(ef.OpenAI.APIKeyEnv)
	if keyEnv == "" {
		keyEnv = defaultEmbedKeyEnv
	}
	key, ok := env(lookup, keyEnv)
	if !ok {
		return EmbedderConfig{}, fmt.Errorf("embedder.type=openai 但环境变量 %s 为空", keyEnv)
	}
	base := strings.TrimSpace(ef.OpenAI.BaseURL)
	if base == "" {
		base = llm.Presets[llm.ProviderOpenAI].BaseURL
	}
	if err := checkHTTPURL("embedder.openai.base_url", base); err != nil {
		return EmbedderConfig{}, err
	}
	timeout := 30 * time.Second
	if ef.OpenAI.TimeoutSecs > 0 {
		timeout = seconds(ef.OpenAI.TimeoutSecs)
	}
	return EmbedderConfig{
		Type:      typ,
		Dimension: ef.Dimension,
		BaseURL:   base,
		APIKey:    key,
		Model:     strings.TrimSpace(ef.OpenAI.Model),
		Timeout:   timeout,
	}, nil
}

// mergeLLM 解析补全服务商：auto 按 Groq → OpenAI 选择第一个有 key 的，都没有时为 none。
func mergeLLM(lf LLMFile, lookup LookupFunc) (LLMConfig, error) {
	provider := strings.ToLower(strings.TrimSpace(lf.Provider))
	if provider == "" {
		provider = llm.ProviderAuto
	}

	temp := llm.DefaultTemperature
	if lf.Temperature != nil {
		if *lf.Temperature < 0 || *lf.Temperature > 2 {
			return LLMConfig{}, fmt.Errorf("llm.temperature 必须在 [0,2]，实际 %v", *lf.Temperature)
		}
		temp = *lf.Temperature
	}
	if lf.MaxTokens < 0 {
		return LLMConfig{}, fmt.Errorf("llm.max_tokens 不能为负：%d", lf.MaxTokens)
	}
	maxTokens := llm.DefaultMaxTokens
	if lf.MaxTokens > 0 {
		maxTokens = lf.MaxTokens
	}

	keyFor := func(name string) (string, bool) {
		keyEnv := strings.TrimSpace(lf.APIKeyEnv)
		if keyEnv == "" {
			keyEnv = llm.Presets[name].APIKeyEnv
		}
		return env(lookup, keyEnv)
	}

	var key string
	switch provider {
	case llm.ProviderNone:
		return LLMConfig{Provider: llm.ProviderNone}, nil
	case llm.ProviderAuto:
		provider = llm.ProviderNone
		for _, name := range llm.AutoOrder {
			if k, ok := keyFor(name); ok {
				provider, key = name, k
				break
			}
		}
		if provider == llm.ProviderNone {
			return LLMConfig{Provider: llm.ProviderNone}, nil
		}
	case llm.ProviderGroq, llm.ProviderOpenAI:
		k, ok := keyFor(provider)
		if !ok {
			return LLMConfig{}, fmt.Errorf("llm.provider=%s 但没有可用的 API key", provider)
		}
		key = k
	default:
		return LLMConfig{}, fmt.Errorf("llm.provider 只能是 auto、groq、openai 或 none，实际是 %q", lf.Provider)
	}

	preset := llm.Presets[provider]
	base := strings.TrimSpace(lf.BaseURL)
	if base == "" {
		base = preset.BaseURL
	}
	if err := checkHTTPURL("llm.base_url", base); err != nil {
		return LLMConfig{}, err
	}
	model := preset.Model
	if m := strings.TrimSpace(lf.Model); m != "" {
		model = m
	}
	if m, ok := env(lookup, preset.ModelEnv); ok {
		model = m
	}
	return LLMConfig{
		Provider:    provider,
		BaseURL:     base,
		Model:       model,
		APIKey:      key,
		Temperature: temp,
		MaxTokens:   maxTokens,
	}, nil
}

func checkHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", field, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", field, raw)
	}
	return nil
}

// env 读取去掉首尾空白后的非空值。
func env(lookup LookupFunc, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件；未知字段视为错误。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
