package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/John-Robertt/reelrag/internal/config"
	"github.com/John-Robertt/reelrag/internal/provider"
	"github.com/John-Robertt/reelrag/internal/provider/imdb"
	"github.com/John-Robertt/reelrag/internal/provider/metacritic"
	"github.com/John-Robertt/reelrag/internal/provider/rottentomatoes"
)

func main() {
	// .env 可选；存在但读不了时只提示，不中断。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "读取 .env 失败：%v\n", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		os.Exit(1)
	}

	progressW, interactive := pickProgressWriter()
	a := &app{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdoutTTY: isTTY(os.Stdout),
		progress:  progressW,
		cwd:       cwd,
		lookup:    os.LookupEnv,
		providers: defaultProviders,
	}
	if !interactive {
		a.progress = nil
	}
	if code := a.execute(os.Args[1:]); code != 0 {
		os.Exit(code)
	}
}

// app 持有一次 CLI 调用的全部外部依赖；测试替换 I/O、环境与站点。
type app struct {
	stdout io.Writer
	stderr io.Writer
	// stdoutTTY 为 true 时 add 输出人类可读摘要，否则输出单个 ScrapeReport JSON。
	stdoutTTY bool
	// progress 为空表示不输出进度。
	progress io.Writer

	cwd       string
	lookup    config.LookupFunc
	providers func(eff config.EffectiveConfig) []provider.Provider

	// 全局 flag
	configPath string
	verbose    bool

	logger *slog.Logger
}

func defaultProviders(config.EffectiveConfig) []provider.Provider {
	return []provider.Provider{
		imdb.Provider{},
		rottentomatoes.Provider{},
		metacritic.Provider{},
	}
}

// exitError 携带退出码；输出已经完成，execute 不再打印。
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

// usageError 表示参数错误（退出码 2）；usage 是出错子命令的用法。
type usageError struct {
	err   error
	usage string
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func (a *app) execute(args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(a.stderr, "参数错误：%v\n\n%s", ue.err, ue.usage)
		return 2
	}
	fmt.Fprintf(a.stderr, "错误：%v\n", err)
	return 1
}

func (a *app) newLogger() *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
}
