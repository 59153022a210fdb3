// =============================================================================
// CookGraph 主入口
// =============================================================================
// 菜谱知识图谱问答的命令行入口，包含交互式问答、单次提问与统计查看
//
// 使用方法:
//
//	cookgraph chat --graph graph.json               # 交互式问答
//	cookgraph ask --graph graph.json "红烧肉怎么做"  # 单次提问
//	cookgraph stats --graph graph.json              # 知识库统计
//	cookgraph version                               # 显示版本信息
// =============================================================================

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/cookgraph"
	"github.com/BaSui01/cookgraph/config"
	"github.com/BaSui01/cookgraph/graph"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "ask":
		runAsk(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	sys, logger, cleanup := bootstrap("chat", args)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("CookGraph 菜谱问答已就绪，输入问题开始（exit 退出）")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			break
		}

		sys.Answer(ctx, query, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()

		if ctx.Err() != nil {
			break
		}
	}

	logger.Info("CookGraph 会话结束")
}

// =============================================================================
// ❓ ask 命令
// =============================================================================

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	graphPath := fs.String("graph", "", "Path to graph snapshot JSON")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cookgraph ask [options] <question>")
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	sys, _, cleanup := bootstrapWith(*configPath, *graphPath)
	defer cleanup()

	answer := sys.Answer(context.Background(), query, nil)
	fmt.Println(answer)
}

// =============================================================================
// 📊 stats 命令
// =============================================================================

func runStats(args []string) {
	sys, _, cleanup := bootstrap("stats", args)
	defer cleanup()

	stats := sys.KnowledgeBaseStats(context.Background())
	for key, value := range stats {
		fmt.Printf("%s: %v\n", key, value)
	}
}

// =============================================================================
// 🔧 系统装配
// =============================================================================

func bootstrap(name string, args []string) (*cookgraph.System, *zap.Logger, func()) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	graphPath := fs.String("graph", "", "Path to graph snapshot JSON")
	fs.Parse(args)
	return bootstrapWith(*configPath, *graphPath)
}

func bootstrapWith(configPath, graphPath string) (*cookgraph.System, *zap.Logger, func()) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)

	logger.Info("Starting CookGraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	if graphPath == "" {
		fmt.Fprintln(os.Stderr, "Missing --graph: path to graph snapshot JSON")
		os.Exit(1)
	}
	store, err := graph.LoadSnapshotFile(graphPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load graph snapshot: %v\n", err)
		os.Exit(1)
	}

	sys, err := cookgraph.NewSystem(cfg, store, logger)
	if err != nil {
		logger.Fatal("系统创建失败", zap.Error(err))
	}

	ctx := context.Background()
	if err := sys.InitSystem(ctx); err != nil {
		logger.Fatal("系统初始化失败", zap.Error(err))
	}
	if err := sys.BuildKnowledgeBase(ctx); err != nil {
		logger.Fatal("知识库构建失败", zap.Error(err))
	}

	cleanup := func() {
		if err := sys.Close(); err != nil {
			logger.Warn("关闭系统失败", zap.Error(err))
		}
		logger.Sync()
	}
	return sys, logger, cleanup
}

// =============================================================================
// 📋 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("CookGraph %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`CookGraph - 菜谱知识图谱混合检索问答

Usage:
  cookgraph <command> [options]

Commands:
  chat      Interactive question answering session
  ask       Ask a single question and exit
  stats     Show knowledge base statistics
  version   Show version information
  help      Show this help message

Options for 'chat', 'ask' and 'stats':
  --config <path>   Path to configuration file (YAML)
  --graph <path>    Path to graph snapshot JSON (required)`)
}
