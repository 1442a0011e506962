package scrape

import "github.com/John-Robertt/reelrag/internal/domain"

// Observer 用于把“每个站点的开始/结束”从核心执行流程中解耦出来。
//
// 约束：
// - scrape 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：事件来自每个站点各自的 goroutine。
type Observer interface {
	// OnStart 在所有站点开始前调用一次。
	OnStart(title string, sources []string)
	// OnSourceDone 在某个站点结束时调用；done 是已完成的站点数（含本次）。
	OnSourceDone(done, total int, res domain.SourceResult)
}
