package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sealdice/sealbridge/bot"
	"github.com/sealdice/sealbridge/config"
	"github.com/sealdice/sealbridge/convert"
	"github.com/sealdice/sealbridge/database"
	"github.com/sealdice/sealbridge/router"
	"github.com/sealdice/sealbridge/storage"
	"github.com/sealdice/sealbridge/types"
)

var (
	cfgPath     string
	withConsole bool
)

var rootCmd = &cobra.Command{
	Use:          "sealbridge",
	Short:        "QQ 到 OneBot v12 的协议转换，支持多账号",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "按配置启动所有账号",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "生成示例配置文件",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgPath); err == nil {
			return fmt.Errorf("%s 已存在", cfgPath)
		}
		if err := config.Save(cfgPath, config.Example()); err != nil {
			return err
		}
		fmt.Println("配置已写入", cfgPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s (OneBot %s)\n", types.ImplName, types.VERSION, types.OneBotVersion)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "配置文件路径")
	runCmd.Flags().BoolVar(&withConsole, "console", false, "启用调试控制台，逐行输入 JSON 动作")
	rootCmd.AddCommand(runCmd, initCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func run(parent context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := zap.S().Named("main")
	log.Infof("%s %s 启动，数据目录 %s", types.ImplName, types.VERSION, cfg.DataDir)

	kv, err := storage.Open(cfg.Storage.Backend, cfg.DataDir, cfg.Storage.FlushEvery)
	if err != nil {
		return fmt.Errorf("打开存储: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Errorf("关闭存储失败: %v", err)
		}
	}()
	media, err := storage.NewMedia(kv, cfg.DataDir)
	if err != nil {
		return err
	}
	db, err := database.New(kv, cfg.Storage.HotSize)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	deps := bot.Deps{
		Normalizer: convert.NewNormalizer(convert.NewTranslator(media, db), db),
		Media:      media,
		DB:         db,
	}
	opts := router.Options{Session: bot.Options{
		InfosTTL:   cfg.InfosTTL,
		SendRate:   cfg.SendRate,
		SendBurst:  cfg.SendBurst,
		RecentSize: cfg.RecentSize,
	}}
	r := router.New(deps, opts, router.SinkFunc(func(ev *types.Event) {
		if data, err := json.Marshal(ev); err == nil {
			log.Debugf("事件: %s", data)
		}
	}))

	if cfg.MetricsAddr != "" {
		router.Register()
		go serveMetrics(ctx, cfg.MetricsAddr)
	}

	if withConsole {
		con, err := newConsole(r)
		if err != nil {
			return err
		}
		defer con.Close()
		go con.Loop(ctx, cancel)
	}

	return r.Start(ctx, cfg.Accounts)
}

func serveMetrics(ctx context.Context, addr string) {
	log := zap.S().Named("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Infof("指标监听于 %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("指标监听失败: %v", err)
	}
}
