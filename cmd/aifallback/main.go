// =============================================================================
// aifallback 主入口
// =============================================================================
// 使用方法:
//
//	aifallback serve --config config.yaml                 # 启动 HTTP 服务
//	aifallback generate --prompt "hello"                   # 单次文本生成
//	aifallback generate --prompt "hello" --stream          # 流式输出
//	aifallback generate --image --prompt "a red fox"       # 生成图片
//	aifallback health --addr http://localhost:8080         # 就绪检查
//	aifallback version
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/aifallback"
	"github.com/BaSui01/aifallback/config"
	"github.com/BaSui01/aifallback/llm/fallback"
	"github.com/BaSui01/aifallback/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealthCheck(ctx, os.Args[2:])
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting aifallback",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	client, err := aifallback.New(ctx, cfg, aifallback.WithLogger(logger))
	if err != nil {
		return err
	}
	defer closeClient(client, cfg, logger)

	if err := NewServer(client, logger).Run(ctx); err != nil {
		return err
	}
	logger.Info("aifallback stopped")
	return nil
}

// =============================================================================
// ✍️ generate 命令
// =============================================================================

func runGenerate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	prompt := fs.String("prompt", "", "User prompt")
	system := fs.String("system", "", "System prompt")
	order := fs.String("order", "", "Comma-separated backend order, overrides config")
	caller := fs.String("caller", "cli", "Caller tag recorded in tracking events")
	stream := fs.Bool("stream", false, "Stream text as it arrives")
	object := fs.Bool("object", false, "Request a JSON object")
	img := fs.Bool("image", false, "Generate an image instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" {
		return errors.New("--prompt is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// CLI 调用同步投递追踪事件，进程退出前不丢事件
	cfg.Tracking.Async = false
	// stdout 只留给生成结果
	cfg.Log.OutputPaths = []string{"stderr"}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	client, err := aifallback.New(ctx, cfg, aifallback.WithLogger(logger))
	if err != nil {
		return err
	}
	defer closeClient(client, cfg, logger)

	opts := fallback.Options{Caller: *caller}
	if *order != "" {
		opts.Order = splitList(*order)
	}
	d := client.Dispatcher()

	if *img {
		res, err := d.GenerateImage(ctx, fallback.ImageRequest{Options: opts, Prompt: *prompt})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.ImageURL)
		return nil
	}

	req := fallback.TextRequest{
		Options:      opts,
		SystemPrompt: *system,
		Messages:     []types.Message{types.NewUserMessage(*prompt)},
	}

	switch {
	case *stream:
		return printStream(out, d.StreamText(ctx, req))
	case *object:
		res, err := d.GenerateJSON(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Object)
	default:
		res, err := d.GenerateText(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Text)
		return nil
	}
}

// printStream 逐段输出文本；后端中途失败时换行后继续输出下一后端的内容
func printStream(out io.Writer, chunks <-chan fallback.StreamChunk) error {
	for c := range chunks {
		switch c.Kind {
		case fallback.ChunkText:
			fmt.Fprint(out, c.Text)
		case fallback.ChunkSegmentFailed:
			fmt.Fprintf(out, "\n[%s failed: %v]\n", c.Backend, c.Err)
		case fallback.ChunkDone:
			fmt.Fprintln(out)
		case fallback.ChunkFailed:
			return c.Err
		}
	}
	return nil
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Println("OK")
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func closeClient(client *aifallback.Client, cfg *config.Config, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := client.Close(ctx); err != nil {
		logger.Warn("client close failed", zap.Error(err))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "aifallback %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `aifallback - multi-backend AI generation with ordered fallback

Usage:
  aifallback <command> [options]

Commands:
  serve      Start the HTTP server
  generate   Run a single generation from the command line
  health     Check server readiness
  version    Show version information
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'generate':
  --config <path>   Path to configuration file (YAML)
  --prompt <text>   User prompt (required)
  --system <text>   System prompt
  --order a,b,c     Backend order, overrides config
  --caller <tag>    Caller tag for tracking (default "cli")
  --stream          Stream text output
  --object          Request a JSON object
  --image           Generate an image

Examples:
  aifallback serve --config /etc/aifallback/config.yaml
  aifallback generate --prompt "Summarize Go channels" --order anthropic,openai
  aifallback health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
