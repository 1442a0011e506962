package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/reelrag/internal/config"
	"github.com/John-Robertt/reelrag/internal/domain"
	"github.com/John-Robertt/reelrag/internal/provider"
	"github.com/John-Robertt/reelrag/internal/provider/imdb"
	"github.com/John-Robertt/reelrag/internal/provider/metacritic"
	"github.com/John-Robertt/reelrag/internal/rag"
	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

func fixture(t *testing.T, rel string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "internal", "provider", rel))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

// fakeSites 启动 IMDb（可用）与 Metacritic（全部 404）两个本地站点。
func fakeSites(t *testing.T) func(config.EffectiveConfig) []provider.Provider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/find", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fixture(t, "imdb/testdata/search.html"))
	})
	mux.HandleFunc("/title/tt1375666/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fixture(t, "imdb/testdata/movie.html"))
	})
	mux.HandleFunc("/title/tt1375666/reviews/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fixture(t, "imdb/testdata/reviews.html"))
	})
	imdbSrv := httptest.NewServer(mux)
	t.Cleanup(imdbSrv.Close)
	mcSrv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(mcSrv.Close)

	return func(config.EffectiveConfig) []provider.Provider {
		return []provider.Provider{imdb.Provider{BaseURL: imdbSrv.URL}, metacritic.Provider{BaseURL: mcSrv.URL}}
	}
}

type testApp struct {
	cwd       string
	providers func(config.EffectiveConfig) []provider.Provider
	env       map[string]string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cwd := t.TempDir()
	// 阈值为 0：hashing 向量的相似度不稳定，测试只关心流程。
	cfg := "scraping:\n  delay_secs: 0\n  max_retries: 1\nquery:\n  similarity_threshold: 0\n"
	if err := os.WriteFile(filepath.Join(cwd, config.FileName), []byte(cfg), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	return &testApp{cwd: cwd, providers: defaultProviders, env: map[string]string{}}
}

// run 每次构造新的 app，模拟独立的进程调用（sqlite 存储跨调用保留）。
func (ta *testApp) run(args ...string) (code int, stdout, stderr string) {
	var out, errb bytes.Buffer
	a := &app{
		stdout: &out,
		stderr: &errb,
		cwd:    ta.cwd,
		lookup: func(k string) (string, bool) {
			v, ok := ta.env[k]
			return v, ok
		},
		providers: ta.providers,
	}
	code = a.execute(args)
	return code, out.String(), errb.String()
}

func TestCLI_AddThenQueryListStatsDelete(t *testing.T) {
	ta := newTestApp(t)
	ta.providers = fakeSites(t)

	code, stdout, stderr := ta.run("add", "Inception", "--report-file", "out/report.json")
	if code != 0 {
		t.Fatalf("add 期望退出码 0，实际 %d\nstderr=%s\nstdout=%s", code, stderr, stdout)
	}
	var rep domain.ScrapeReport
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("stdout 不是合法的 ScrapeReport JSON：%v\nstdout=%q", err, stdout)
	}
	if rep.Summary.Succeeded != 1 || rep.Summary.Failed != 1 || rep.Summary.Reviews != 3 {
		t.Fatalf("summary 不符：%+v", rep.Summary)
	}
	if rep.Indexed != 4 || rep.Movie == nil || rep.Movie.Director != "Christopher Nolan" {
		t.Fatalf("入库结果不符：indexed=%d movie=%+v", rep.Indexed, rep.Movie)
	}
	if rep.Sources[0].Source != "imdb" || rep.Sources[1].ErrorMsg != provider.NotFoundMsg {
		t.Fatalf("sources 不符：%+v", rep.Sources)
	}
	b, err := os.ReadFile(filepath.Join(ta.cwd, "out", "report.json"))
	if err != nil {
		t.Fatalf("期望写出 report.json：%v", err)
	}
	var onDisk domain.ScrapeReport
	if err := json.Unmarshal(b, &onDisk); err != nil || onDisk.Indexed != rep.Indexed {
		t.Fatalf("report.json 与 stdout 不一致：%v", err)
	}

	code, stdout, stderr = ta.run("query", "Is the dream heist worth watching?", "--movie", "inception")
	if code != 0 {
		t.Fatalf("query 期望退出码 0，实际 %d\nstderr=%s", code, stderr)
	}
	var ans rag.Answer
	if err := json.Unmarshal([]byte(stdout), &ans); err != nil {
		t.Fatalf("query 输出不是合法 JSON：%v\n%s", err, stdout)
	}
	if ans.Text == "" || len(ans.Hits) == 0 || ans.Model != "" {
		t.Fatalf("未配置 LLM 时应直接拼接命中文本：%+v", ans)
	}

	code, stdout, _ = ta.run("summary", "Inception")
	if code != 0 || !strings.Contains(stdout, "Inception") {
		t.Fatalf("summary 不符：code=%d stdout=%s", code, stdout)
	}

	code, stdout, _ = ta.run("list")
	var titles []string
	if err := json.Unmarshal([]byte(stdout), &titles); err != nil || code != 0 {
		t.Fatalf("list 输出不符：code=%d err=%v stdout=%s", code, err, stdout)
	}
	if len(titles) != 1 || titles[0] != "Inception" {
		t.Fatalf("期望 [Inception]，实际 %v", titles)
	}

	code, stdout, _ = ta.run("stats")
	var st vectorstore.Stats
	if err := json.Unmarshal([]byte(stdout), &st); err != nil || code != 0 {
		t.Fatalf("stats 输出不符：code=%d err=%v stdout=%s", code, err, stdout)
	}
	if st.TotalDocuments != 4 || st.Movies != 1 || st.Reviews != 3 || st.Sources["imdb"] != 3 {
		t.Fatalf("stats 不符：%+v", st)
	}

	if code, _, _ = ta.run("delete", "INCEPTION"); code != 0 {
		t.Fatalf("delete 期望退出码 0，实际 %d", code)
	}
	if code, _, _ = ta.run("delete", "Inception"); code != 1 {
		t.Fatalf("重复删除期望退出码 1，实际 %d", code)
	}
	_, stdout, _ = ta.run("list")
	if strings.TrimSpace(stdout) != "[]" {
		t.Fatalf("删除后 list 应为空：%q", stdout)
	}
}

func TestCLI_AddAllSourcesFailed(t *testing.T) {
	ta := newTestApp(t)
	ta.providers = fakeSites(t)

	code, stdout, _ := ta.run("add", "Inception", "--source", "metacritic")
	if code != 1 {
		t.Fatalf("全部失败期望退出码 1，实际 %d", code)
	}
	var rep domain.ScrapeReport
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v\n%s", err, stdout)
	}
	if rep.Movie != nil || rep.Indexed != 0 || len(rep.Sources) != 1 || rep.Summary.Failed != 1 {
		t.Fatalf("报告不符：%+v", rep)
	}
}

func TestCLI_AddConfigErrorReport(t *testing.T) {
	ta := newTestApp(t)

	code, stdout, _ := ta.run("--config", "missing.yaml", "add", "Inception")
	if code != 1 {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	var rep domain.ScrapeReport
	if err := json.Unmarshal([]byte(stdout), &rep); err != nil {
		t.Fatalf("stdout 不是合法 JSON：%v\n%s", err, stdout)
	}
	if len(rep.Sources) != 1 || rep.Sources[0].ErrorCode != config.ErrCodeNotFound || rep.Sources[0].Source != "" {
		t.Fatalf("配置错误条目不符：%+v", rep.Sources)
	}
}

func TestCLI_InvalidEnvIsConfigError(t *testing.T) {
	ta := newTestApp(t)
	ta.env[config.EnvMaxRetries] = "lots"

	code, _, stderr := ta.run("list")
	if code != 1 || !strings.Contains(stderr, config.EnvMaxRetries) {
		t.Fatalf("期望配置错误：code=%d stderr=%s", code, stderr)
	}
}

func TestCLI_UsageErrors(t *testing.T) {
	ta := newTestApp(t)
	cases := [][]string{
		{"add"},
		{"add", "a", "b"},
		{"add", "X", "--year", "-1"},
		{"list", "extra"},
		{"query", "q", "--no-such-flag"},
		{"clear"},
	}
	for _, args := range cases {
		code, _, stderr := ta.run(args...)
		if code != 2 {
			t.Fatalf("%v 期望退出码 2，实际 %d\nstderr=%s", args, code, stderr)
		}
		if !strings.Contains(stderr, "参数错误") {
			t.Fatalf("%v 期望提示参数错误：%s", args, stderr)
		}
	}
}

func TestCLI_Sources(t *testing.T) {
	ta := newTestApp(t)

	code, stdout, _ := ta.run("sources")
	if code != 0 {
		t.Fatalf("期望退出码 0，实际 %d", code)
	}
	if got := strings.Fields(stdout); strings.Join(got, ",") != "imdb,rottentomatoes,metacritic" {
		t.Fatalf("站点列表不符：%v", got)
	}
}

func TestCLI_ClearWithYes(t *testing.T) {
	ta := newTestApp(t)
	ta.providers = fakeSites(t)

	if code, _, stderr := ta.run("add", "Inception"); code != 0 {
		t.Fatalf("add 失败：%d %s", code, stderr)
	}
	if code, _, stderr := ta.run("clear", "--yes"); code != 0 {
		t.Fatalf("clear 失败：%d %s", code, stderr)
	}
	_, stdout, _ := ta.run("stats")
	var st vectorstore.Stats
	if err := json.Unmarshal([]byte(stdout), &st); err != nil || st.TotalDocuments != 0 {
		t.Fatalf("clear 后应为空：%s err=%v", stdout, err)
	}
}
