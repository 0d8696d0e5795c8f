package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/price-cache/internal/cache"
	"github.com/any-hub/price-cache/internal/config"
	"github.com/any-hub/price-cache/internal/logging"
	"github.com/any-hub/price-cache/internal/pricing"
	"github.com/any-hub/price-cache/internal/server"
	"github.com/any-hub/price-cache/internal/server/routes"
	"github.com/any-hub/price-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	flush       bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_root"] = cfg.Global.CacheRoot
		fields["price_store"] = cfg.Prices.Store
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	store, err := cache.NewStore(cache.StoreOptions{
		Root:    cfg.Global.CacheRoot,
		SubPath: cfg.Prices.Store,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	if opts.flush {
		return flushStore(store, logger, opts.configPath)
	}

	client, err := pricing.NewClient(pricing.ClientOptions{
		BaseURL:        cfg.Prices.Upstream,
		HTTPClient:     server.NewUpstreamClient(cfg),
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
		Logger:         logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化价格上游失败: %v\n", err)
		return 1
	}
	svc := pricing.NewService(cache.NewMemoizer(store), client, cfg.Prices.TTL.DurationValue(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 过期条目回收为可选项，SweepInterval 为 0 时不启动。
	if cfg.SweepEnabled() {
		go cache.NewSweeper(store, logger).Run(ctx, cfg.Global.SweepInterval.DurationValue())
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store"] = store.Dir()
	fields["price_ttl"] = cfg.Prices.TTL.DurationValue().String()
	fields["sweep_interval"] = cfg.Global.SweepInterval.DurationValue().String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, svc, store, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// flushStore 清空价格缓存目录后退出，拒绝删除时返回非零退出码。
func flushStore(store *cache.Store, logger *logrus.Logger, configPath string) int {
	fields := logging.BaseFields("flush", configPath)
	fields["store"] = store.Dir()

	flushed, err := store.Flush(context.Background())
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("清空缓存失败")
		fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
		return 1
	}
	fields["flushed"] = flushed
	logger.WithFields(fields).Info("缓存已清空")
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("price-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		flush      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PRICE_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&flush, "flush", false, "清空价格缓存目录后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PRICE_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		flush:       flush,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, svc *pricing.Service, store *cache.Store, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterPriceRoutes(app, svc, logger)
	routes.RegisterCacheRoutes(app, store, logger)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
