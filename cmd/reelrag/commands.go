package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/reelrag/internal/config"
	"github.com/John-Robertt/reelrag/internal/infra/fsx"
	"github.com/John-Robertt/reelrag/internal/rag"
	"github.com/John-Robertt/reelrag/internal/vectorstore"
)

const appName = "reelrag"

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "抓取电影评论并基于检索结果回答问题",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = a.newLogger()
			slog.SetDefault(a.logger)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "配置文件路径（默认读取 ./"+config.FileName+"，不存在则忽略）")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "输出调试日志到 stderr")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err, usage: cmd.UsageString()}
	})

	root.AddCommand(
		a.addCmd(),
		a.queryCmd(),
		a.summaryCmd(),
		a.listCmd(),
		a.statsCmd(),
		a.deleteCmd(),
		a.clearCmd(),
		a.sourcesCmd(),
	)
	return root
}

// argsN 与 cobra.ExactArgs 相同，但把错误标成参数错误。
func argsN(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err, usage: cmd.UsageString()}
		}
		if n > 0 && strings.TrimSpace(args[0]) == "" {
			return &usageError{err: errors.New("参数不能为空"), usage: cmd.UsageString()}
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err, usage: cmd.UsageString()}
	}
	return nil
}

// signalContext 在 Ctrl-C 时取消。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// withService 加载配置、打开存储并在返回前关闭。
func (a *app) withService(ctx context.Context, fn func(ctx context.Context, svc *rag.Service) error) error {
	eff, err := a.loadConfig(config.CLIArgs{})
	if err != nil {
		return err
	}
	svc, err := a.openService(eff, nil)
	if err != nil {
		return err
	}
	defer closeService(svc)
	return fn(ctx, svc)
}

func (a *app) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) addCmd() *cobra.Command {
	var (
		sources    []string
		year       int
		maxReviews int
		reportFile string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "从各站点抓取电影并写入向量库",
		Args:  argsN(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			if year < 0 {
				return &usageError{err: fmt.Errorf("--year 不能为负：%d", year), usage: cmd.UsageString()}
			}
			eff, err := a.loadConfig(config.CLIArgs{
				Sources:       sources,
				SourcesSet:    cmd.Flags().Changed("source"),
				MaxReviews:    maxReviews,
				MaxReviewsSet: cmd.Flags().Changed("max-reviews"),
			})
			if err != nil {
				a.emitReport(reportForConfigError(title, year, err))
				return &exitError{code: 1}
			}

			var ui *progressUI
			if a.progress != nil {
				ui = newProgressUI(a.progress)
				ui.printConfig(eff)
			}
			svc, err := a.openServiceObserved(eff, ui)
			if err != nil {
				return err
			}
			defer closeService(svc)

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rep, err := svc.Ingest(ctx, rag.CollectRequest{Title: title, Year: year, Sources: eff.Sources})
			if ui != nil {
				ui.finish()
			}
			if err != nil && rep.FinishedAt.IsZero() {
				// 抓取阶段失败（取消或请求非法），没有可输出的报告。
				return err
			}

			if reportFile != "" {
				if !filepath.IsAbs(reportFile) {
					reportFile = filepath.Join(a.cwd, reportFile)
				}
				if werr := fsx.WriteJSON(reportFile, rep); werr != nil {
					fmt.Fprintf(a.stderr, "写入报告失败：%v\n", werr)
					a.emitReport(rep)
					return &exitError{code: 1}
				}
			}
			a.emitReport(rep)
			if err != nil {
				return err
			}
			if rep.Movie == nil {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "只使用这些站点（可重复或逗号分隔；默认全部）")
	cmd.Flags().IntVar(&year, "year", 0, "上映年份，用于校验搜索结果（0 表示不校验）")
	cmd.Flags().IntVar(&maxReviews, "max-reviews", 0, "每个站点最多抓取的评论数")
	cmd.Flags().StringVar(&reportFile, "report-file", "", "把 ScrapeReport JSON 写入该文件（相对路径基于当前目录）")
	return cmd
}

// openServiceObserved 避免把 nil *progressUI 装进 Observer 接口。
func (a *app) openServiceObserved(eff config.EffectiveConfig, ui *progressUI) (*rag.Service, error) {
	if ui == nil {
		return a.openService(eff, nil)
	}
	return a.openService(eff, ui)
}

func (a *app) queryCmd() *cobra.Command {
	var (
		movie string
		k     int
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "基于库中的评论回答问题",
		Args:  argsN(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.withService(ctx, func(ctx context.Context, svc *rag.Service) error {
				ans, err := svc.Query(ctx, args[0], movie, k)
				if err != nil {
					return err
				}
				return a.emitAnswer(ans)
			})
		},
	}
	cmd.Flags().StringVarP(&movie, "movie", "m", "", "只在这部电影的文档中检索")
	cmd.Flags().IntVar(&k, "k", 0, "检索条数（默认取配置 query.max_results）")
	return cmd
}

func (a *app) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <title>",
		Short: "总结库中某部电影的评价",
		Args:  argsN(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.withService(ctx, func(ctx context.Context, svc *rag.Service) error {
				ans, err := svc.Summary(ctx, args[0])
				if err != nil {
					return err
				}
				return a.emitAnswer(ans)
			})
		},
	}
}

func (a *app) emitAnswer(ans rag.Answer) error {
	if !a.stdoutTTY {
		return a.writeJSON(ans)
	}
	fmt.Fprintln(a.stdout, ans.Text)
	if len(ans.Hits) > 0 {
		fmt.Fprintln(a.stdout)
		fmt.Fprintln(a.stdout, "来源:")
		for i, h := range ans.Hits {
			fmt.Fprintf(a.stdout, "  %d. %s\n", i+1, hitLine(h))
		}
	}
	if ans.Model != "" {
		fmt.Fprintf(a.stderr, "model: %s\n", ans.Model)
	}
	return nil
}

func hitLine(h vectorstore.Hit) string {
	m := h.Doc.Meta
	s := fmt.Sprintf("[%.2f] %s %s/%s", h.Score, m.Title, m.Type, m.Source)
	if m.Author != "" {
		s += " by " + m.Author
	}
	return s
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出库中的电影",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(ctx context.Context, svc *rag.Service) error {
				titles, err := svc.ListTitles(ctx)
				if err != nil {
					return err
				}
				if !a.stdoutTTY {
					if titles == nil {
						titles = []string{}
					}
					return a.writeJSON(titles)
				}
				if len(titles) == 0 {
					fmt.Fprintln(a.stdout, "库中还没有电影，使用 add <title> 添加。")
					return nil
				}
				for _, t := range titles {
					fmt.Fprintln(a.stdout, t)
				}
				return nil
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "输出库的统计信息",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(ctx context.Context, svc *rag.Service) error {
				st, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				if !a.stdoutTTY {
					return a.writeJSON(st)
				}
				fmt.Fprintf(a.stdout, "documents=%d movies=%d reviews=%d\n", st.TotalDocuments, st.Movies, st.Reviews)
				for _, src := range sortedKeys(st.Sources) {
					fmt.Fprintf(a.stdout, "  %s: %d\n", src, st.Sources[src])
				}
				return nil
			})
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <title>",
		Short: "从库中删除一部电影",
		Args:  argsN(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(ctx context.Context, svc *rag.Service) error {
				ok, err := svc.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(a.stderr, "库中没有 %q\n", args[0])
					return &exitError{code: 1}
				}
				fmt.Fprintf(a.stdout, "已删除 %q\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "清空整个库",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &usageError{err: errors.New("清空库需要 --yes 确认"), usage: cmd.UsageString()}
			}
			return a.withService(cmd.Context(), func(ctx context.Context, svc *rag.Service) error {
				return svc.Clear(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "确认清空")
	return cmd
}

func (a *app) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "列出支持的站点",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 只需要站点列表，不打开存储；配置错误照常报告。
			eff, err := a.loadConfig(config.CLIArgs{})
			if err != nil {
				return err
			}
			reg, err := a.registry(eff)
			if err != nil {
				return err
			}
			for _, n := range reg.Names() {
				fmt.Fprintln(a.stdout, n)
			}
			return nil
		},
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
