package provider

import (
	"context"

	"github.com/John-Robertt/reelrag/internal/domain"
)

// Fetcher 是 provider 可见的全部网络能力：取页面 + 显式限速。
// 实现为 *httpx.Session；测试可以注入桩实现。
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Pace(ctx context.Context) error
}

// Provider 把“站点变化”限制在各自的子包内部；核心流程只依赖统一接口与稳定的 MovieRecord。
//
// 约束：
// - Search 必须逐个校验候选（重新抓取详情页并比对标题/年份），都不通过时返回 ErrNotFound
// - Metadata 只在页面取不到或找不到标题时报错，其它字段缺失时保持零值
// - Reviews 跳过解析失败的单条评论，不因为一条坏数据放弃整批；最多返回 max 条
// - 请求之间的间隔由 provider 自己调用 Fetcher.Pace 控制
type Provider interface {
	Name() string
	Search(ctx context.Context, f Fetcher, title string, year int) (pageURL string, err error)
	Metadata(ctx context.Context, f Fetcher, pageURL string) (domain.MovieRecord, error)
	Reviews(ctx context.Context, f Fetcher, pageURL string, max int) ([]domain.ReviewRecord, error)
}
