package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/John-Robertt/reelrag/internal/config"
	"github.com/John-Robertt/reelrag/internal/domain"
)

// emitReport 输出 add 的结果。
//
// 约束：stdout 非 TTY 时必须且仅输出一个 ScrapeReport JSON（摘要走 stderr）。
func (a *app) emitReport(rep domain.ScrapeReport) {
	if a.stdoutTTY {
		fmt.Fprintln(a.stdout, summaryLine(rep))
		for _, s := range rep.Sources {
			if s.Status != domain.StatusFailed {
				continue
			}
			src := s.Source
			if src == "" {
				src = "<config>"
			}
			if s.ErrorCode != "" {
				fmt.Fprintf(a.stderr, "%s %s: %s\n", src, s.ErrorCode, s.ErrorMsg)
			} else {
				fmt.Fprintf(a.stderr, "%s: %s\n", src, s.ErrorMsg)
			}
		}
		if m := rep.Movie; m != nil {
			fmt.Fprintln(a.stdout, movieLine(*m))
		}
		return
	}

	enc := json.NewEncoder(a.stdout)
	_ = enc.Encode(rep)
	fmt.Fprintln(a.stderr, summaryLine(rep))
}

func summaryLine(rep domain.ScrapeReport) string {
	return fmt.Sprintf("完成：succeeded=%d failed=%d reviews=%d indexed=%d",
		rep.Summary.Succeeded, rep.Summary.Failed, rep.Summary.Reviews, rep.Indexed,
	)
}

func movieLine(m domain.MovieRecord) string {
	var b strings.Builder
	b.WriteString(m.Title)
	if m.Year > 0 {
		fmt.Fprintf(&b, " (%d)", m.Year)
	}
	if m.Director != "" {
		b.WriteString(" director=" + m.Director)
	}
	if len(m.Ratings) > 0 {
		b.WriteString(" ratings=" + formatRatings(m.Ratings))
	}
	return b.String()
}

// reportForConfigError 为配置错误构造一个合成条目（source 为空，排在最后）。
func reportForConfigError(title string, year int, err error) domain.ScrapeReport {
	now := time.Now().UTC()
	rep := domain.ScrapeReport{
		Title:      strings.TrimSpace(title),
		Year:       year,
		StartedAt:  now,
		FinishedAt: now,
		Sources: []domain.SourceReport{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rep.Finalize()
	return rep
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 只重定向了 stderr 时 stdout 仍可能是 TTY。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
