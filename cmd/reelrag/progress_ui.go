package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/reelrag/internal/app/scrape"
	"github.com/John-Robertt/reelrag/internal/config"
	"github.com/John-Robertt/reelrag/internal/domain"
)

var _ scrape.Observer = (*progressUI)(nil)

// progressUI 是交互终端下 add 的进度输出。
//
// 约束：
// - 只写 w（stderr 或 fallback 到 stdout），不碰 stdout 的 JSON 输出
// - 事件来自各站点 goroutine，全部方法持锁
// - 长时间没有站点完成时，ticker 定期输出一行 keepalive
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	pending []string
	total   int
	done    int
	ok      int
	fail    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

// printConfig 在抓取前输出生效配置，便于确认代理与限速。
func (p *progressUI) printConfig(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  delay: %s timeout: %s max_retries: %d max_reviews: %d\n",
		eff.Fetch.Delay, eff.Fetch.Timeout, eff.Fetch.MaxRetries, eff.Fetch.MaxReviews,
	)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  store: %s\n", formatStore(eff.Store))
	fmt.Fprintf(p.w, "  embedder: %s llm: %s\n", eff.Embedder.Type, formatLLM(eff.LLM))
	fmt.Fprintln(p.w)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnStart(title string, sources []string) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.startedAt = now
	p.pending = append([]string(nil), sources...)
	p.total = len(sources)
	p.done, p.ok, p.fail = 0, 0, 0

	fmt.Fprintf(p.w, "[%s] 抓取 %q：%s\n", now.Format("15:04:05"), title, strings.Join(sources, ", "))
	p.lastPrinted = now
	if p.total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnSourceDone(done, total int, res domain.SourceResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = done
	p.total = total
	p.pending = remove(p.pending, res.Source)

	if res.Success {
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK reviews=%d%s (%s)\n",
			done, total, res.Source, res.ReviewCount, formatMovieNote(res.Movie), formatShortDuration(res.Elapsed),
		)
	} else {
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s (%s)\n",
			done, total, res.Source, truncate(res.Error, 160), formatShortDuration(res.Elapsed),
		)
	}
	p.lastPrinted = time.Now()

	// 最后一个站点完成：停止 ticker，避免结束摘要后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

// finish 停止 ticker；ctx 取消时 OnSourceDone 可能收不齐。
func (p *progressUI) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, p.progressLineLocked())
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) progressLineLocked() string {
	return fmt.Sprintf("进度: done=%d/%d ok=%d fail=%d waiting=%s elapsed=%s",
		p.done, p.total, p.ok, p.fail, strings.Join(p.pending, ","), formatElapsed(time.Since(p.startedAt)),
	)
}

func remove(xs []string, x string) []string {
	for i, v := range xs {
		if v == x {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}

func formatMovieNote(m *domain.MovieRecord) string {
	if m == nil {
		return ""
	}
	s := " title=" + strconv.Quote(truncate(m.Title, 60))
	if m.Year > 0 {
		s += " year=" + strconv.Itoa(m.Year)
	}
	return s
}

func formatRatings(r map[string]float64) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+strconv.FormatFloat(r[k], 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

func formatStore(sc config.StoreConfig) string {
	if sc.Path == "" {
		return sc.Type
	}
	return sc.Type + " (" + truncate(sc.Path, 120) + ")"
}

func formatLLM(lc config.LLMConfig) string {
	if lc.Model == "" {
		return lc.Provider
	}
	return lc.Provider + ":" + lc.Model
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

// truncate 按 rune 截断，避免切坏多字节字符。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
