package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"spread-trader/config"
	"spread-trader/gateway"
	"spread-trader/infrastructure/alert"
	"spread-trader/infrastructure/logger"
	"spread-trader/internal/engine"
	"spread-trader/ledger"
	"spread-trader/market"
	"spread-trader/metrics"
	"spread-trader/strategy"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	contracts := flag.String("contracts", "", "覆盖交易合约，逗号分隔")
	amount := flag.Int64("amount", 0, "覆盖每次下单数量")
	maxTrades := flag.Int("maxTrades", 0, "覆盖最大交易次数")
	spreadThreshold := flag.String("spreadThreshold", "", "覆盖价差阈值，如 0.0005 表示 0.05%")
	metricsAddr := flag.String("metricsAddr", "", "覆盖 Prometheus metrics 监听地址")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg, *contracts, *amount, *maxTrades, *spreadThreshold, *metricsAddr)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "配置校验失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	metrics.Serve(cfg.Metrics.Addr)

	threshold, _ := cfg.Trading.Threshold() // 已由 Validate 保证可解析
	cache := market.NewCache(cfg.Trading.Contracts)
	led := ledger.New()
	decider, err := strategy.NewEngine(cache, led, strategy.Params{
		SpreadThreshold: threshold,
		MaxTrades:       cfg.Trading.MaxTrades,
	})
	if err != nil {
		log.Error("初始化策略失败", zap.Error(err))
		os.Exit(1)
	}
	alerts := alert.NewManager([]alert.Channel{alert.NewLogChannel("log", log)}, 30*time.Second)

	conn := gateway.NewConn(gateway.ConnConfig{
		URL:           cfg.API.URL,
		ChannelPrefix: cfg.API.ChannelPrefix,
		Credentials:   gateway.Credentials{Key: cfg.API.Key, Secret: cfg.API.Secret},
		MaxRetries:    cfg.Reconnect.MaxRetries,
		MaxInterval:   time.Duration(cfg.Reconnect.MaxIntervalMs) * time.Millisecond,
	}, log)

	session, err := engine.New(engine.Config{
		Instruments:         cfg.Trading.Contracts,
		Amount:              cfg.Trading.Amount,
		ChannelPrefix:       cfg.API.ChannelPrefix,
		AssumeImmediateFill: cfg.Trading.ImmediateFill(),
	}, conn, cache, led, decider, log, alerts)
	if err != nil {
		log.Error("初始化会话失败", zap.Error(err))
		os.Exit(1)
	}
	conn.OnConnect(session.HandleConnect)
	conn.OnMessage(session.HandleFrame)
	conn.OnDisconnect(session.HandleDisconnect)

	log.Info("价差交易系统启动",
		zap.Strings("contracts", cfg.Trading.Contracts),
		zap.Int64("amount", cfg.Trading.Amount),
		zap.Int("max_trades", cfg.Trading.MaxTrades),
		zap.String("spread_threshold", threshold.String()),
		zap.String("url", cfg.API.URL))

	if err := conn.Open(); err != nil {
		log.Error("连接失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchConfig(ctx, *cfgPath, session, log)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("收到停止信号", zap.String("signal", sig.String()))
		session.Stop("operator interrupt")
	case <-session.Stopped():
		// 预算耗尽，会话自行终止
	}
	cancel()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	<-session.Stopped()
	log.Info("已退出")
}

// applyFlagOverrides 以命令行参数覆盖配置文件。
func applyFlagOverrides(cfg *config.AppConfig, contracts string, amount int64, maxTrades int, spreadThreshold, metricsAddr string) {
	if contracts != "" {
		parts := strings.Split(contracts, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		cfg.Trading.Contracts = out
	}
	if amount > 0 {
		cfg.Trading.Amount = amount
	}
	if maxTrades > 0 {
		cfg.Trading.MaxTrades = maxTrades
	}
	if spreadThreshold != "" {
		cfg.Trading.SpreadThreshold = spreadThreshold
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
}

// watchConfig 监听配置文件变更，热更策略参数。
func watchConfig(ctx context.Context, path string, session *engine.Session, log *logger.Logger) {
	watcher := config.Watcher{Path: path}
	err := watcher.Start(ctx, func(next config.AppConfig) {
		threshold, err := next.Trading.Threshold()
		if err != nil {
			return
		}
		if err := session.ApplyParams(strategy.Params{
			SpreadThreshold: threshold,
			MaxTrades:       next.Trading.MaxTrades,
		}); err != nil {
			log.Warn("热更参数被拒绝", zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Warn("配置监听退出", zap.Error(err))
	}
}
