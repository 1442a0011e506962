package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// 报告中的 error_code；站点失败只给 error_msg，配置错误额外带 code。
const (
	ErrCodeConfigNotFound = "config_not_found"
	ErrCodeConfigInvalid  = "config_invalid"
)

// ScrapeReport 是对外稳定输出（report.json / stdout JSON）的结构。
type ScrapeReport struct {
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary  `json:"summary"`
	Sources []SourceReport `json:"sources"`

	// Movie 为融合后的记录；所有站点都失败时为空。
	Movie *MovieRecord `json:"movie,omitempty"`
	// Indexed 是写入存储的文档数（仅 add 命令写入时非零）。
	Indexed int `json:"indexed"`
}

type ReportSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Reviews   int `json:"reviews"`
}

type SourceReport struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg"`
	Reviews   int    `json:"reviews"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// NewSourceReport 把 SourceResult 转为报告条目。
func NewSourceReport(r SourceResult) SourceReport {
	st := StatusFailed
	if r.Success {
		st = StatusSucceeded
	}
	return SourceReport{
		Source:    r.Source,
		Status:    st,
		ErrorMsg:  r.Error,
		Reviews:   r.ReviewCount,
		ElapsedMS: r.Elapsed.Milliseconds(),
	}
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) sources 稳定排序：按 source 字典序；source=="" 的条目排在最后
// 3) summary 由 sources 计算得出
func (r *ScrapeReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Sources, func(i, j int) bool {
		a := r.Sources[i].Source
		b := r.Sources[j].Source
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Sources {
		switch it.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
	}
	if r.Movie != nil {
		s.Reviews = len(r.Movie.Reviews)
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r ScrapeReport) MarshalJSON() ([]byte, error) {
	type Alias ScrapeReport
	return json.Marshal(Alias(r))
}
