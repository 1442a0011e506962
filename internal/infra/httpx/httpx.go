package httpx

import (
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/reelrag/internal/domain"
)

// Transport 把“UA + 浏览器请求头 + keep-alive 策略”固化为统一策略。
//
// 设计目标：adapter 只负责“定位页面 + 解析 HTML”，不关心请求头细节。
// 重试、退避与限速由 Session 负责，Transport 不做重试。
type Transport struct {
	Base http.RoundTripper

	// UserAgent 为空时从内置 UA 池随机选取。
	UserAgent string

	ua *uaPool

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	DisableKeepAlives bool
}

// browserHeaders 是每个请求都会带上的“像浏览器”的请求头；调用方已设置的头不覆盖。
var browserHeaders = [][2]string{
	{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	{"Accept-Language", "en-US,en;q=0.5"},
	{"DNT", "1"},
	{"Upgrade-Insecure-Requests", "1"},
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	base := t.Base
	if base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		ua := strings.TrimSpace(t.UserAgent)
		if ua == "" && t.ua != nil {
			ua = t.ua.random()
		}
		if ua != "" {
			r.Header.Set("User-Agent", ua)
		}
	}
	for _, kv := range browserHeaders {
		if r.Header.Get(kv[0]) == "" {
			r.Header.Set(kv[0], kv[1])
		}
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return base.RoundTrip(r)
}

// CloseIdleConnections 透传给 Base，供 http.Client.CloseIdleConnections 使用。
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.Base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

// newClient 构造抓取用的 HTTP client。
//
// 规则：
// - proxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - base 非空时直接使用（测试注入），忽略 proxyURL
// - timeout 是单次尝试的上限（http.Client.Timeout）
func newClient(base http.RoundTripper, proxyURL, userAgent string, timeout time.Duration) (*http.Client, error) {
	disableKeepAlives := false
	if base == nil {
		tr := &http.Transport{
			Proxy:                 nil,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
		}
		if proxyURL = strings.TrimSpace(proxyURL); proxyURL != "" {
			u, err := url.Parse(proxyURL)
			if err != nil {
				return nil, err
			}
			tr.Proxy = http.ProxyURL(u)
			// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
			tr.DisableKeepAlives = true
			disableKeepAlives = true
		}
		base = tr
	}

	// 空值或 "random" 交给 UA 池轮换。
	userAgent = strings.TrimSpace(userAgent)
	if strings.EqualFold(userAgent, domain.RandomUserAgent) {
		userAgent = ""
	}
	return &http.Client{
		Transport: &Transport{
			Base:              base,
			UserAgent:         userAgent,
			ua:                globalUA,
			DisableKeepAlives: disableKeepAlives,
		},
		Timeout: timeout,
	}, nil
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
