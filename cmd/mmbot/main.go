package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"liquidity-maker-go/config"
	"liquidity-maker-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置；off 关闭")
	runOnce := flag.String("once", "", "只执行一次指定循环后退出（price_watcher/liquidity/depth/pricemaker）")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	switch *metricsAddr {
	case "":
	case "off":
		cfg.Metrics.Enabled = false
	default:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := container.NewFromConfig(cfg, *cfgPath)
	if err := c.Build(ctx); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	if *runOnce != "" {
		err := runSingle(ctx, c, *runOnce)
		if serr := c.Stop(); serr != nil && err == nil {
			err = serr
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *runOnce, err)
			os.Exit(1)
		}
		return
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		log.Fatalf("启动失败: %v", err)
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify ready failed: %v", err)
	} else if ok {
		go watchdog(ctx, c)
	}

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
		os.Exit(1)
	}
}

// runSingle 价格区间先刷新一次，策略才能拿到区间。
func runSingle(ctx context.Context, c *container.Container, name string) error {
	if name != "price_watcher" {
		if err := c.RunNow(ctx, "price_watcher"); err != nil {
			log.Printf("price watcher: %v", err)
		}
	}
	return c.RunNow(ctx, name)
}

// watchdog 在 systemd 开启 WatchdogSec 时按一半间隔上报健康状态。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				log.Printf("health check failed: %v", err)
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
